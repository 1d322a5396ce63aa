package sim

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

const pi = math.Pi

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestSituationSimDerivatives(t *testing.T) {
	s := NewSituationBox(20, 4, 10)
	const h = 1e-4
	for tt := s.BeginTime() + 0.05; tt < s.EndTime()-0.05; tt += 0.37 {
		lo, err := s.Truth(tt - h)
		require.NoError(t, err)
		mid, err := s.Truth(tt)
		require.NoError(t, err)
		hi, err := s.Truth(tt + h)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			assert.InDelta(t, mid.Velocity[i], (hi.Position[i]-lo.Position[i])/(2*h), 1e-3, "velocity %d at t=%.2f", i, tt)
		}
	}
}

func TestSituationBoxCloses(t *testing.T) {
	s := NewSituationBox(20, 4, 10)
	start, err := s.Truth(s.BeginTime())
	require.NoError(t, err)
	end, err := s.Truth(s.EndTime())
	require.NoError(t, err)
	assert.InDeltaSlice(t, start.Position[:], end.Position[:], 1e-9)

	// first leg runs east to x=20
	corner, err := s.Truth(2 + 1 + 1 + 4 + 1)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, corner.Position[0], 1e-9)
	assert.InDelta(t, 0.0, corner.Position[1], 1e-9)

	_, err = s.Truth(s.EndTime() + 1)
	assert.ErrorIs(t, err, ErrOutsideScenario)
}

func TestNewSituationSimRejectsBadTables(t *testing.T) {
	_, err := NewSituationSim([3]float64{}, []float64{0}, []float64{0}, []float64{0}, []float64{0}, []float64{0})
	assert.Error(t, err)
	_, err = NewSituationSim([3]float64{}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0})
	assert.Error(t, err)
	_, err = Scenario("loop", 10)
	assert.Error(t, err)
}

// The accelerometer must read the specific force in the body frame for each heading
func TestInertialSpecificForce(t *testing.T) {
	psis := []float64{0, pi / 2, pi, -pi / 2}
	// world acceleration of 1 m/s² east
	exp := [][3]float64{{1, 0, estimator.G}, {0, -1, estimator.G}, {-1, 0, estimator.G}, {0, 1, estimator.G}}
	r := rand.New(rand.NewSource(1))
	for i, psi := range psis {
		m := inertial(Truth{Acceleration: [3]float64{1, 0, 0}, Yaw: psi, YawRate: 0.1}, SensorConfig{}, Faults{}, r)
		assert.InDeltaSlice(t, exp[i][:], m.Accel[:], 1e-9, "yaw %g", psi)
		assert.InDelta(t, 0.1, m.Gyro[2], 1e-12)
	}

	m := inertial(Truth{}, SensorConfig{}, Faults{AccelBias: [3]float64{0.02, -0.02, 0}, GyroBias: [3]float64{0.01, 0, 0}}, r)
	assert.InDelta(t, 0.02*estimator.G, m.Accel[0], 1e-12)
	assert.InDelta(t, -0.02*estimator.G, m.Accel[1], 1e-12)
	assert.InDelta(t, 0.01, m.Gyro[0], 1e-12)
}

func TestStreamRatesAndOrder(t *testing.T) {
	sc := DefaultSensorConfig()
	ms, st, err := Stream(context.Background(), NewSituationHover(10, 5), sc, Faults{}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, 1001, st.Inertial)
	assert.Equal(t, 51, st.Fixes)
	assert.Len(t, ms, st.Inertial+st.Fixes)
	for i := 1; i < len(ms); i++ {
		require.LessOrEqual(t, ms[i-1].Time(), ms[i].Time())
	}
}

func TestStreamFaults(t *testing.T) {
	ctx := context.Background()
	sit := NewSituationHover(10, 5)
	sc := DefaultSensorConfig()

	_, st, err := Stream(ctx, sit, sc, Faults{DropoutProb: 1}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Fixes)
	assert.Equal(t, 51, st.Dropped)

	ms, st, err := Stream(ctx, sit, sc, Faults{GPSInop: true, IMUInop: true}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Empty(t, ms)
	assert.Zero(t, st.Fixes+st.Inertial)

	ms, st, err = Stream(ctx, sit, sc, Faults{SwapProb: 0.2}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Positive(t, st.Swapped)
	inversions := 0
	for i := 1; i < len(ms); i++ {
		if ms[i].Time() < ms[i-1].Time() {
			inversions++
		}
	}
	assert.Positive(t, inversions)
	assert.LessOrEqual(t, inversions, st.Swapped)

	_, st, err = Stream(ctx, sit, sc, Faults{OutlierProb: 1, OutlierSigma: 50}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, st.Fixes, st.Outliers)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = Stream(cctx, sit, sc, Faults{}, rand.New(rand.NewSource(3)))
	assert.ErrorIs(t, err, context.Canceled)
}

// A late fix reports the position the vehicle held latency seconds earlier
func TestStreamLatency(t *testing.T) {
	sit, err := NewSituationSim([3]float64{}, []float64{0, 10}, []float64{2, 2}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0})
	require.NoError(t, err)
	sc := SensorConfig{GPSRate: 1}
	ms, _, err := Stream(context.Background(), sit, sc, Faults{GPSLatency: 0.5}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, ms, 11)
	p := ms[4].(estimator.PositionSample)
	assert.Equal(t, 4.0, p.T)
	assert.InDelta(t, 2*3.5, p.Position[0], 1e-9)
}

func TestOUStationaryVariance(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	o := ou{p: OU{Tau: 2, Sigma: 1.5}}
	var sum, sum2 float64
	const n = 200000
	for i := 0; i < n; i++ {
		v := o.step(0.1, r)
		sum += v
		sum2 += v * v
	}
	mean := sum / n
	assert.InDelta(t, 0, mean, 0.15)
	assert.InDelta(t, 1.5*1.5, sum2/n-mean*mean, 0.3)

	still := ou{p: OU{}}
	assert.Zero(t, still.step(0.1, r))
}

func TestSituationFromReader(t *testing.T) {
	csv := "t,x,y,z,vx,yaw,extra\n" +
		"0,0,0,10,1,3.0,a\n" +
		"bad,row\n" +
		"1,1,0,10,1,-3.0,b\n" +
		"2,2,0,10,3,-3.0,c\n"
	s, err := NewSituationFromReader(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.BeginTime())
	assert.Equal(t, 2.0, s.EndTime())

	tr, err := s.Truth(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, tr.Position[0], 1e-12)
	assert.InDelta(t, 10, tr.Position[2], 1e-12)
	// yaw interpolates across the ±π seam
	assert.InDelta(t, pi, math.Abs(tr.Yaw), 0.2)

	tr, err = s.Truth(1.5)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, tr.Velocity[0], 1e-12)
	assert.InDelta(t, 2.0, tr.Acceleration[0], 1e-12)

	_, err = NewSituationFromReader(strings.NewReader("t,x,y\n0,0,0\n1,1,1\n"))
	assert.Error(t, err)
}

func TestWriteTruthRoundTrip(t *testing.T) {
	box := NewSituationBox(20, 4, 10)
	var buf bytes.Buffer
	require.NoError(t, WriteTruth(&buf, box, 10))

	back, err := NewSituationFromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, box.BeginTime(), back.BeginTime())
	assert.InDelta(t, box.EndTime(), back.EndTime(), 1e-9)
	for _, tt := range []float64{0.05, 9.05, 17.5, 25.33} {
		want, err := box.Truth(tt)
		require.NoError(t, err)
		got, err := back.Truth(tt)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			assert.InDelta(t, want.Position[i], got.Position[i], 0.01)
			assert.InDelta(t, want.Velocity[i], got.Velocity[i], 1e-9)
		}
	}

	assert.Error(t, WriteTruth(&buf, box, 0))
}

func TestRunHover(t *testing.T) {
	c := DefaultRunConfig()
	c.Duration = 60
	c.Logger = quietLogger()
	res, err := Run(context.Background(), c)
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows)
	assert.Less(t, res.Report.PositionRMS, 1.0)
	assert.GreaterOrEqual(t, res.Report.ConvergenceIndex, 0)
	assert.Equal(t, estimator.Running, res.Final.Phase)
	assert.Zero(t, res.Stats.Stale)
	assert.InDelta(t, 60.0, res.Metrics.Secs, 1e-9)
	assert.Nil(t, res.Measurements)
}

func TestRunRecordStream(t *testing.T) {
	c := DefaultRunConfig()
	c.Duration = 5
	c.Logger = quietLogger()
	c.RecordStream = true
	var rows int
	c.OnRow = func(estimator.Snapshot, Truth) { rows++ }
	res, err := Run(context.Background(), c)
	require.NoError(t, err)
	assert.Len(t, res.Measurements, res.Stream.Inertial+res.Stream.Fixes)
	assert.Equal(t, len(res.Rows), rows)
}

func TestRunBox(t *testing.T) {
	c := DefaultRunConfig()
	c.Scenario = "box"
	c.Logger = quietLogger()
	res, err := Run(context.Background(), c)
	require.NoError(t, err)
	assert.Less(t, res.Report.PositionRMS, 1.5)
	assert.Less(t, res.Report.VelocityRMS, 1.0)
}

// A hover with a biased accelerometer and late fixes still holds position
// once the bias has been learned
func TestFaultTolerance(t *testing.T) {
	c := DefaultRunConfig()
	c.Duration = 90
	c.Seed = 11
	c.Logger = quietLogger()
	c.Sensors.GPSNoise = 0.3
	c.Faults = Faults{
		AccelBias:  [3]float64{0.02, -0.02, 0},
		GPSLatency: 0.015,
	}
	c.Estimator.EstimateBias = true
	c.Estimator.ProcessNoise.Position = 0.05
	c.Estimator.ProcessNoise.Velocity = 0.2
	c.Estimator.MeasurementNoise.Position = 0.3

	res, err := Run(context.Background(), c)
	require.NoError(t, err)

	var sum float64
	var n int
	for _, r := range res.Rows {
		if r.T >= 60 {
			sum += r.Error()
			n++
		}
	}
	require.Positive(t, n)
	assert.Less(t, sum/float64(n), 0.5)
	assert.InDelta(t, 15.0, res.Metrics.GPSLatencyMS, 1e-9)
}

func TestRunOutliersAreRejected(t *testing.T) {
	c := DefaultRunConfig()
	c.Duration = 30
	c.Logger = quietLogger()
	c.Faults = Faults{OutlierProb: 0.1, OutlierSigma: 100}
	res, err := Run(context.Background(), c)
	require.NoError(t, err)
	assert.Positive(t, res.Stream.Outliers)
	assert.Positive(t, res.Stats.Rejections)
	assert.Less(t, res.Report.PositionRMS, 1.5)
}

func TestRunOutOfOrder(t *testing.T) {
	c := DefaultRunConfig()
	c.Duration = 30
	c.Logger = quietLogger()
	c.Faults = Faults{SwapProb: 0.05}
	res, err := Run(context.Background(), c)
	require.NoError(t, err)
	assert.Positive(t, res.Stream.Swapped)
	// the reorder window absorbs adjacent swaps
	assert.Zero(t, res.Stats.Stale)
}

func TestMonteCarloDropsCallbacks(t *testing.T) {
	base := DefaultRunConfig()
	base.Duration = 5
	base.Logger = quietLogger()
	var events, rows int
	base.Observer = estimator.ObserverFunc(func(estimator.Event) { events++ })
	base.OnRow = func(estimator.Snapshot, Truth) { rows++ }

	_, errs, sum := MonteCarlo(context.Background(), base, MonteCarloConfig{Runs: 4, Parallel: 4})
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Zero(t, sum.Failed)
	assert.Zero(t, events)
	assert.Zero(t, rows)
}

func TestMonteCarloDeterministic(t *testing.T) {
	base := DefaultRunConfig()
	base.Duration = 20
	base.Logger = quietLogger()
	mc := MonteCarloConfig{Runs: 4, Parallel: 2, Randomize: 0.3}

	r1, errs, sum := MonteCarlo(context.Background(), base, mc)
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 4, sum.Runs)
	assert.Zero(t, sum.Failed)
	assert.Len(t, sum.Reports, 4)
	assert.LessOrEqual(t, sum.PositionRMSMean, sum.PositionRMSWorst)

	mc.Parallel = 1
	r2, _, _ := MonteCarlo(context.Background(), base, mc)
	for i := range r1 {
		assert.Equal(t, r1[i].Seed, r2[i].Seed)
		if diff := cmp.Diff(r1[i].Report, r2[i].Report, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("run %d differs (-parallel +serial):\n%s", i, diff)
		}
	}
}
