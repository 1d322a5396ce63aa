package estimator

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Process accepts one measurement from a stream. Measurements are held in a
// reorder buffer of Config.ReorderWindow samples and applied oldest first once
// the buffer overflows, so mildly out-of-order input is applied in time order.
// A measurement older than the last applied one fails with ErrStaleMeasurement.
func (e *Estimator) Process(m Measurement) error {
	if err := e.ready(); err != nil {
		return err
	}
	m = deref(m)
	if m == nil || !finite(m) {
		return ErrInvalidMeasurement
	}
	if e.clock && m.Time() < e.t {
		e.stats.Stale++
		e.log.WithFields(logrus.Fields{
			"t":    m.Time(),
			"last": e.t,
			"kind": m.Kind(),
		}).Debug("stale measurement")
		e.obs.Observe(Event{Kind: EventStale, Time: m.Time(), Measurement: m.Kind(), Err: ErrStaleMeasurement})
		return fmt.Errorf("%w: t=%g is before %g", ErrStaleMeasurement, m.Time(), e.t)
	}

	e.buf.Push(m)
	if !e.buf.Full() {
		return nil
	}
	mm, _ := e.buf.Pop()
	return e.apply(mm)
}

// Flush applies every buffered measurement in time order
func (e *Estimator) Flush() error {
	if err := e.ready(); err != nil {
		return err
	}
	var errs []error
	for {
		m, ok := e.buf.Pop()
		if !ok {
			break
		}
		if err := e.apply(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Buffered returns the number of measurements waiting in the reorder buffer
func (e *Estimator) Buffered() int { return e.buf.Len() }

// Time returns the timestamp of the last applied measurement and whether the clock has started
func (e *Estimator) Time() (float64, bool) { return e.t, e.clock }

// apply predicts from the last applied time up to m, then applies m
func (e *Estimator) apply(m Measurement) error {
	t := m.Time()
	if !e.clock {
		e.clock = true
		e.t = t
	}

	dt := t - e.t
	if p, ok := m.(PositionSample); ok && (dt > e.cfg.MaxTimestep || e.lost) {
		e.reacquire(p, dt)
		return nil
	}
	if dt > e.cfg.MaxTimestep {
		e.coast(m.(InertialSample), dt)
		return fmt.Errorf("%w: gap of %g s exceeds %g s", ErrInvalidTimestep, dt, e.cfg.MaxTimestep)
	}
	if dt > 0 {
		e.predict(dt, e.input)
		e.t = t
	}

	switch m := m.(type) {
	case InertialSample:
		in := m
		e.input = &in
		if e.layout.Acc >= 0 {
			if _, err := e.update(m); err != nil {
				return err
			}
		}
	case PositionSample:
		if _, err := e.update(m); err != nil {
			return err
		}
	}
	return nil
}

// reacquire re-seeds position from a fix after a gap too long to predict across,
// restoring the position and velocity covariance to their initial values
func (e *Estimator) reacquire(p PositionSample, gap float64) {
	l := e.layout
	copy(e.x[l.Pos:l.Pos+3], p.Position[:])
	resetBlock(e.M, e.m0, l.Pos, 3)
	resetBlock(e.M, e.m0, l.Vel, 3)
	e.t = p.T
	e.lost = false
	e.reject = [2]int{}
	e.phase = Running
	e.stats.Reacquired++

	e.log.WithFields(logrus.Fields{
		"t":   p.T,
		"gap": gap,
	}).Warn("position re-acquired after gap")
	e.obs.Observe(Event{Kind: EventReacquired, Time: p.T, Measurement: KindPosition})
}

// coast restarts the clock at an inertial sample that arrives after a gap too
// long to predict across. Velocity and attitude fall back to their initial
// uncertainty and the next position fix re-seeds position.
func (e *Estimator) coast(in InertialSample, gap float64) {
	l := e.layout
	resetBlock(e.M, e.m0, l.Vel, 3)
	resetBlock(e.M, e.m0, l.Att, 3)
	e.t = in.T
	e.input = &in
	e.lost = true

	e.log.WithFields(logrus.Fields{
		"t":   in.T,
		"gap": gap,
	}).Warn("inertial gap, coasting until the next position fix")
}
