package estimator

import (
	"math"

	"github.com/skelterjohn/go.matrix"
)

// eulerRates maps body rates w into roll, pitch, yaw rates
func eulerRates(roll, pitch float64, w [3]float64) (dr, dp, dy float64) {
	pitch = math.Max(-maxPitch, math.Min(maxPitch, pitch))
	sr, cr := math.Sin(roll), math.Cos(roll)
	tp, cp := math.Tan(pitch), math.Cos(pitch)

	dr = w[0] + sr*tp*w[1] + cr*tp*w[2]
	dp = cr*w[1] - sr*w[2]
	dy = (sr*w[1] + cr*w[2]) / cp
	return
}

func (e *Estimator) gravity() [3]float64 {
	return [3]float64{0, 0, -e.cfg.Gravity}
}

// transition propagates x through dt seconds with the held inertial input in,
// which may be nil
func (e *Estimator) transition(x []float64, in *InertialSample, dt float64) []float64 {
	l := e.layout
	out := make([]float64, len(x))
	copy(out, x)

	roll, pitch, yaw := x[l.Att], x[l.Att+1], x[l.Att+2]

	var a [3]float64
	if l.Acc >= 0 {
		copy(a[:], x[l.Acc:l.Acc+3])
	}

	if in != nil {
		f, w := in.Accel, in.Gyro
		for i := 0; i < 3; i++ {
			if l.AccelBias >= 0 {
				f[i] -= x[l.AccelBias+i]
			}
			if l.GyroBias >= 0 {
				w[i] -= x[l.GyroBias+i]
			}
		}

		if l.Acc < 0 {
			fw := Rotate(ToQuaternion(roll, pitch, yaw), f)
			g := e.gravity()
			for i := 0; i < 3; i++ {
				a[i] = fw[i] + g[i]
			}
		}

		dr, dp, dy := eulerRates(roll, pitch, w)
		out[l.Att] = roll + dt*dr
		out[l.Att+1] = pitch + dt*dp
		out[l.Att+2] = WrapAngle(yaw + dt*dy)
	}

	for i := 0; i < 3; i++ {
		out[l.Pos+i] = x[l.Pos+i] + x[l.Vel+i]*dt + 0.5*a[i]*dt*dt
		out[l.Vel+i] = x[l.Vel+i] + a[i]*dt
	}

	// Acceleration and biases are modeled as random walks
	return out
}

// calcJacobianState returns the state transition Jacobian F at x
func (e *Estimator) calcJacobianState(x []float64, in *InertialSample, dt float64) *matrix.DenseMatrix {
	return numericJacobian(func(xx []float64) []float64 {
		return e.transition(xx, in, dt)
	}, x, e.layout.Att+2)
}

// predictInertial returns the specific force an accelerometer should read in state x
func (e *Estimator) predictInertial(x []float64) []float64 {
	l := e.layout
	g := e.gravity()

	var a [3]float64
	if l.Acc >= 0 {
		copy(a[:], x[l.Acc:l.Acc+3])
	}
	for i := 0; i < 3; i++ {
		a[i] -= g[i]
	}

	f := RotateInverse(ToQuaternion(x[l.Att], x[l.Att+1], x[l.Att+2]), a)
	if l.AccelBias >= 0 {
		for i := 0; i < 3; i++ {
			f[i] += x[l.AccelBias+i]
		}
	}
	return f[:]
}

// measurementModel returns the measured vector z, the predicted measurement,
// the measurement Jacobian H and the measurement noise covariance R for m
func (e *Estimator) measurementModel(m Measurement) (z, hx []float64, h, r *matrix.DenseMatrix) {
	l := e.layout
	switch m := m.(type) {
	case PositionSample:
		z = m.Position[:]
		hx = []float64{e.x[l.Pos], e.x[l.Pos+1], e.x[l.Pos+2]}
		h = matrix.Zeros(3, l.N)
		for i := 0; i < 3; i++ {
			h.Set(i, l.Pos+i, 1)
		}
		sigma := m.Accuracy
		if !(sigma > 0) {
			sigma = e.cfg.MeasurementNoise.Position * math.Max(1, m.HDOP)
		}
		r = matrix.Scaled(matrix.Eye(3), sigma*sigma)
	case InertialSample:
		z = m.Accel[:]
		hx = e.predictInertial(e.x)
		h = numericJacobian(e.predictInertial, e.x)
		sigma := e.cfg.MeasurementNoise.Accel
		r = matrix.Scaled(matrix.Eye(3), sigma*sigma)
	}
	return
}
