package estimator

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/skelterjohn/go.matrix"
)

// Estimator is an extended Kalman filter over position, velocity, attitude and,
// optionally, acceleration and IMU biases.
// An Estimator is owned by a single goroutine; it does no locking and no I/O.
type Estimator struct {
	cfg    Config
	layout Layout
	log    logrus.FieldLogger
	obs    Observer

	phase Phase
	x     []float64           // state vector, see Layout
	M     *matrix.DenseMatrix // covariance of state uncertainty
	N     *matrix.DenseMatrix // covariance of process noise per unit time
	m0    *matrix.DenseMatrix // covariance at initialization, restored on re-acquisition

	t      float64 // time of the last applied sample
	clock  bool    // t is meaningful
	lost   bool    // an inertial gap was crossed; the next fix re-seeds position
	input  *InertialSample
	buf    *reorderBuffer
	reject [2]int // consecutive gate rejections per measurement kind
	accums [3]*varianceAccumulator
	stats  Stats
}

// Option configures an Estimator at construction
type Option func(*Estimator)

// WithLogger routes diagnostics to l instead of the standard logrus logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Estimator) { e.log = l }
}

// WithObserver registers o to receive diagnostic events
func WithObserver(o Observer) Option {
	return func(e *Estimator) { e.obs = o }
}

// Validate checks the configuration for values no estimator can run with
func (c Config) Validate() error {
	switch c.KinematicModel {
	case ConstantVelocity, ConstantAcceleration:
	default:
		return fmt.Errorf("%w: unknown kinematic model %q", ErrInvalidConfig, c.KinematicModel)
	}
	if l := NewLayout(c.KinematicModel, c.EstimateBias); c.StateDimension != 0 && c.StateDimension != l.N {
		return fmt.Errorf("%w: state_dimension %d does not match %s layout of %d",
			ErrInvalidDimension, c.StateDimension, c.KinematicModel, l.N)
	}
	pn, mn, is := c.ProcessNoise, c.MeasurementNoise, c.InitialStd
	for name, v := range map[string]float64{
		"process_noise.position":     pn.Position,
		"process_noise.velocity":     pn.Velocity,
		"process_noise.acceleration": pn.Acceleration,
		"process_noise.attitude":     pn.Attitude,
		"process_noise.accel_bias":   pn.AccelBias,
		"process_noise.gyro_bias":    pn.GyroBias,
		"initial_std.position":       is.Position,
		"initial_std.velocity":       is.Velocity,
		"initial_std.acceleration":   is.Acceleration,
		"initial_std.attitude":       is.Attitude,
		"initial_std.accel_bias":     is.AccelBias,
		"initial_std.gyro_bias":      is.GyroBias,
		"outlier_gate":               c.OutlierGate,
	} {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite and non-negative, got %g", ErrInvalidConfig, name, v)
		}
	}
	if !(mn.Position > 0) || !(mn.Accel > 0) {
		return fmt.Errorf("%w: measurement_noise must be positive", ErrInvalidConfig)
	}
	if !(c.MaxTimestep > 0) {
		return fmt.Errorf("%w: max_timestep_s must be positive, got %g", ErrInvalidConfig, c.MaxTimestep)
	}
	if !(c.Gravity > 0) {
		return fmt.Errorf("%w: gravity must be positive, got %g", ErrInvalidConfig, c.Gravity)
	}
	if c.ReorderWindow < 0 || c.GateRecovery < 0 {
		return fmt.Errorf("%w: reorder_window and gate_recovery must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// New returns an uninitialized Estimator for cfg
func New(cfg Config, opts ...Option) (e *Estimator, err error) {
	if cfg.KinematicModel == "" {
		cfg.KinematicModel = ConstantVelocity
	}
	if cfg.Gravity == 0 {
		cfg.Gravity = G
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	e = &Estimator{
		cfg:    cfg,
		layout: NewLayout(cfg.KinematicModel, cfg.EstimateBias),
		log:    logrus.StandardLogger(),
		obs:    nopObserver{},
		buf:    newReorderBuffer(cfg.ReorderWindow),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.WithField("component", "estimator")
	return e, nil
}

// Config returns the configuration the Estimator was built with
func (e *Estimator) Config() Config { return e.cfg }

// Layout returns the state vector layout
func (e *Estimator) Layout() Layout { return e.layout }

// Phase returns the current lifecycle phase
func (e *Estimator) Phase() Phase { return e.phase }

// Stats returns a copy of the diagnostic counters
func (e *Estimator) Stats() Stats { return e.stats }

// Initialize sets the initial state, covariance and process noise.
// On failure the Estimator is left exactly as it was.
func (e *Estimator) Initialize(state []float64, cov [][]float64, noise ProcessNoise) error {
	if e.phase == Closed {
		return ErrClosed
	}
	n := e.layout.N
	if len(state) != n {
		return fmt.Errorf("%w: state has %d elements, want %d", ErrInvalidDimension, len(state), n)
	}
	for i, v := range state {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: state element %d is %g", ErrInvalidMeasurement, i, v)
		}
	}
	p, err := covarianceFromRows(cov, n)
	if err != nil {
		return err
	}
	q, err := e.processNoise(noise)
	if err != nil {
		return err
	}

	e.x = make([]float64, n)
	copy(e.x, state)
	e.x[e.layout.Att+2] = WrapAngle(e.x[e.layout.Att+2])
	symmetrize(p)
	e.M = p
	e.m0 = p.Copy()
	e.N = q
	e.t, e.clock, e.lost, e.input = 0, false, false, nil
	e.buf.Reset()
	e.reject = [2]int{}
	for i := range e.accums {
		e.accums[i] = newVarianceAccumulator(MMDecay)
	}
	e.stats = Stats{}
	e.phase = Initialized

	e.log.WithFields(logrus.Fields{
		"dimension": n,
		"model":     e.cfg.KinematicModel,
		"bias":      e.cfg.EstimateBias,
	}).Debug("initialized")
	return nil
}

// processNoise builds the diagonal process noise covariance per second
func (e *Estimator) processNoise(pn ProcessNoise) (*matrix.DenseMatrix, error) {
	for _, v := range []float64{pn.Position, pn.Velocity, pn.Acceleration, pn.Attitude, pn.AccelBias, pn.GyroBias} {
		if !(v >= 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: process noise must be finite and non-negative", ErrInvalidConfig)
		}
	}

	l := e.layout
	d := make([]float64, l.N)
	set := func(i int, v float64) {
		if i >= 0 {
			d[i], d[i+1], d[i+2] = v, v, v
		}
	}
	set(l.Pos, pn.Position)
	set(l.Vel, pn.Velocity)
	set(l.Acc, pn.Acceleration)
	set(l.Att, pn.Attitude)
	set(l.AccelBias, pn.AccelBias)
	set(l.GyroBias, pn.GyroBias)

	q := matrix.Diagonal(d)
	return matrix.Product(q, q), nil
}

func (e *Estimator) ready() error {
	switch e.phase {
	case Closed:
		return ErrClosed
	case Uninitialized:
		return ErrNotInitialized
	}
	return nil
}

// Predict performs the prediction phase of the Kalman filter over dt seconds,
// using in as the inertial control input. in may be nil.
func (e *Estimator) Predict(dt float64, in *InertialSample) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !(dt > 0) || math.IsInf(dt, 0) || dt > e.cfg.MaxTimestep {
		return fmt.Errorf("%w: dt %g outside (0, %g]", ErrInvalidTimestep, dt, e.cfg.MaxTimestep)
	}
	if in != nil && !finite(*in) {
		return ErrInvalidMeasurement
	}
	e.predict(dt, in)
	if e.clock {
		e.t += dt
	}
	return nil
}

func (e *Estimator) predict(dt float64, in *InertialSample) {
	f := e.calcJacobianState(e.x, in, dt)
	e.x = e.transition(e.x, in, dt)
	e.M = matrix.Sum(matrix.Product(f, matrix.Product(e.M, f.Transpose())), matrix.Scaled(e.N, dt))

	e.phase = Running
	e.stats.Predicts++
	e.obs.Observe(Event{Kind: EventPredicted, Time: e.t + dt})
	if symmetrize(e.M) {
		e.clamped(e.t + dt)
	}
}

func (e *Estimator) clamped(t float64) {
	e.stats.Clamps++
	e.log.WithField("t", t).Warn(ErrCovarianceClamped)
	e.obs.Observe(Event{Kind: EventClamped, Time: t, Err: ErrCovarianceClamped})
}

// Update applies the Kalman filter corrections given the measurement.
// A measurement beyond the outlier gate is rejected without changing any state.
func (e *Estimator) Update(m Measurement) (Result, error) {
	if err := e.ready(); err != nil {
		return Result{}, err
	}
	m = deref(m)
	if m == nil || !finite(m) {
		return Result{}, ErrInvalidMeasurement
	}
	if m.Kind() == KindInertial && e.layout.Acc < 0 {
		return Result{}, fmt.Errorf("%w: inertial updates need %s", ErrUnsupportedMeasurement, ConstantAcceleration)
	}
	return e.update(m)
}

func (e *Estimator) update(m Measurement) (res Result, err error) {
	z, hx, h, r := e.measurementModel(m)
	n := len(z)

	y := matrix.Zeros(n, 1)
	res.Innovation = make([]float64, n)
	for i := range z {
		res.Innovation[i] = z[i] - hx[i]
		y.Set(i, 0, res.Innovation[i])
	}

	ss := matrix.Sum(matrix.Product(h, matrix.Product(e.M, h.Transpose())), r)
	m2, err := innovationInverse(ss)
	if err != nil {
		e.stats.Singular++
		e.log.WithFields(logrus.Fields{"t": m.Time(), "kind": m.Kind()}).Warn(err)
		e.obs.Observe(Event{Kind: EventSingular, Time: m.Time(), Measurement: m.Kind(), Err: err})
		return Result{}, err
	}

	res.Distance = math.Sqrt(math.Max(0, matrix.Product(y.Transpose(), matrix.Product(m2, y)).Get(0, 0)))

	k := m.Kind()
	if gate := e.cfg.OutlierGate; gate > 0 && res.Distance > gate {
		if e.cfg.GateRecovery == 0 || e.reject[k] < e.cfg.GateRecovery {
			e.reject[k]++
			e.stats.Rejections++
			e.log.WithFields(logrus.Fields{
				"t":        m.Time(),
				"kind":     k,
				"distance": res.Distance,
			}).Debug("measurement rejected")
			e.obs.Observe(Event{Kind: EventRejected, Time: m.Time(), Measurement: k, Distance: res.Distance})
			return res, nil
		}
		res.Recovered = true
		e.stats.Recovered++
		e.log.WithFields(logrus.Fields{
			"t":          m.Time(),
			"kind":       k,
			"rejections": e.reject[k],
		}).Info("accepting measurement after repeated rejections")
		e.obs.Observe(Event{Kind: EventGateRecovered, Time: m.Time(), Measurement: k, Distance: res.Distance})
	}
	e.reject[k] = 0

	kk := matrix.Product(e.M, matrix.Product(h.Transpose(), m2))
	su := matrix.Product(kk, y)
	for i := range e.x {
		e.x[i] += su.Get(i, 0)
	}
	yaw := e.layout.Att + 2
	e.x[yaw] = WrapAngle(e.x[yaw])
	e.M = matrix.Product(matrix.Difference(matrix.Eye(e.layout.N), matrix.Product(kk, h)), e.M)

	if k == KindPosition {
		for i, a := range e.accums {
			e.stats.Innovation[i] = a.Add(res.Innovation[i])
		}
	}
	res.Accepted = true
	e.phase = Running
	e.stats.Updates++
	e.obs.Observe(Event{Kind: EventUpdated, Time: m.Time(), Measurement: k, Distance: res.Distance})
	if symmetrize(e.M) {
		res.Clamped = true
		e.clamped(m.Time())
	}
	return res, nil
}

// Estimate returns a deep copy of the current estimate. It has no side effects
// and remains available after Close.
func (e *Estimator) Estimate() (Snapshot, error) {
	if e.x == nil {
		return Snapshot{}, ErrNotInitialized
	}
	return newSnapshot(e), nil
}

// Close marks the Estimator closed; subsequent mutating calls fail with ErrClosed
func (e *Estimator) Close() error {
	if e.phase != Closed {
		e.log.WithFields(logrus.Fields{
			"predicts":   e.stats.Predicts,
			"updates":    e.stats.Updates,
			"rejections": e.stats.Rejections,
			"clamps":     e.stats.Clamps,
		}).Debug("closed")
	}
	e.phase = Closed
	e.buf.Reset()
	return nil
}

// deref turns pointer samples into values
func deref(m Measurement) Measurement {
	switch mm := m.(type) {
	case *InertialSample:
		if mm == nil {
			return nil
		}
		return *mm
	case *PositionSample:
		if mm == nil {
			return nil
		}
		return *mm
	}
	return m
}

func finite(m Measurement) bool {
	bad := func(vs ...float64) bool {
		for _, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
		return false
	}
	switch m := m.(type) {
	case InertialSample:
		return !bad(m.T) && !bad(m.Accel[:]...) && !bad(m.Gyro[:]...)
	case PositionSample:
		return !bad(m.T, m.Accuracy, m.HDOP) && !bad(m.Position[:]...)
	}
	return false
}
