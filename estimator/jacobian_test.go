package estimator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/skelterjohn/go.matrix"
)

func createRandomState(r *rand.Rand, l Layout) []float64 {
	x := make([]float64, l.N)
	for i := 0; i < 3; i++ {
		x[l.Pos+i] = r.Float64()*200 - 100
		x[l.Vel+i] = r.Float64()*20 - 10
		if l.Acc >= 0 {
			x[l.Acc+i] = r.Float64()*4 - 2
		}
		if l.AccelBias >= 0 {
			x[l.AccelBias+i] = r.Float64()*0.4 - 0.2
			x[l.GyroBias+i] = r.Float64()*0.02 - 0.01
		}
	}
	x[l.Att] = r.Float64()*1 - 0.5
	x[l.Att+1] = r.Float64()*1 - 0.5
	x[l.Att+2] = r.Float64()*2*Pi - Pi
	return x
}

func randomInertial(r *rand.Rand) *InertialSample {
	return &InertialSample{
		Accel: [3]float64{r.NormFloat64(), r.NormFloat64(), G + r.NormFloat64()},
		Gyro:  [3]float64{0.2 * r.NormFloat64(), 0.2 * r.NormFloat64(), 0.5 * r.NormFloat64()},
	}
}

func TestStateJacobianConstantVelocity(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	cfg := testConfig()
	e, _ := New(cfg)
	l := e.layout

	for k := 0; k < 20; k++ {
		x := createRandomState(r, l)
		dt := 0.01 + 0.1*r.Float64()
		jac := e.calcJacobianState(x, nil, dt)

		want := matrix.Eye(l.N)
		for i := 0; i < 3; i++ {
			want.Set(l.Pos+i, l.Vel+i, dt)
		}
		for i := 0; i < l.N; i++ {
			for j := 0; j < l.N; j++ {
				if math.Abs(jac.Get(i, j)-want.Get(i, j)) > 1e-6 {
					t.Errorf("F[%d][%d] = %g, want %g", i, j, jac.Get(i, j), want.Get(i, j))
				}
			}
		}
	}
}

// Checks the numeric Jacobians against a first-order expansion along random directions
func TestJacobiansLinearize(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, model := range []KinematicModel{ConstantVelocity, ConstantAcceleration} {
		cfg := DefaultConfig()
		cfg.KinematicModel = model
		e, _ := New(cfg)
		l := e.layout

		for k := 0; k < 20; k++ {
			x := createRandomState(r, l)
			in := randomInertial(r)
			dt := 0.01

			f := e.calcJacobianState(x, in, dt)
			h := numericJacobian(e.predictInertial, x)

			dx := make([]float64, l.N)
			xx := make([]float64, l.N)
			for i := range dx {
				dx[i] = 1e-5 * r.NormFloat64()
				xx[i] = x[i] + dx[i]
			}

			fx, fxx := e.transition(x, in, dt), e.transition(xx, in, dt)
			for i := range fx {
				lin := 0.0
				for j := range dx {
					lin += f.Get(i, j) * dx[j]
				}
				d := fxx[i] - fx[i]
				if i == l.Att+2 {
					d = WrapAngle(d)
				}
				if math.Abs(d-lin) > 1e-8 {
					t.Errorf("%s: state %d moved %g, linearization says %g", model, i, d, lin)
				}
			}

			hx, hxx := e.predictInertial(x), e.predictInertial(xx)
			for i := range hx {
				lin := 0.0
				for j := range dx {
					lin += h.Get(i, j) * dx[j]
				}
				if math.Abs(hxx[i]-hx[i]-lin) > 1e-8 {
					t.Errorf("%s: accel %d moved %g, linearization says %g", model, i, hxx[i]-hx[i], lin)
				}
			}
		}
	}
}

func TestPositionJacobian(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KinematicModel = ConstantAcceleration
	e := newInitialized(t, cfg, [3]float64{1, 2, 3})
	_, _, h, _ := e.measurementModel(PositionSample{})
	num := numericJacobian(func(x []float64) []float64 { return append([]float64(nil), x[:3]...) }, e.x)
	for i := 0; i < 3; i++ {
		for j := 0; j < e.layout.N; j++ {
			if math.Abs(h.Get(i, j)-num.Get(i, j)) > 1e-9 {
				t.Errorf("H[%d][%d] = %g, numeric %g", i, j, h.Get(i, j), num.Get(i, j))
			}
		}
	}
}

func TestStationaryAccelerometerReadsGravity(t *testing.T) {
	e, _ := New(testConfig())
	x := make([]float64, e.layout.N)
	f := e.predictInertial(x)
	if math.Abs(f[0]) > 1e-12 || math.Abs(f[1]) > 1e-12 || math.Abs(f[2]-G) > 1e-12 {
		t.Errorf("level stationary accelerometer predicted %v", f)
	}
}
