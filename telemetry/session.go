package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

// Emission is what a Session hands its sinks after each applied measurement
type Emission struct {
	Session  string
	Snapshot estimator.Snapshot
	Last     estimator.Measurement // most recent measurement read from the source
	Stats    estimator.Stats
}

// Sink receives session output
type Sink interface {
	Emit(Emission) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(Emission) error

func (f SinkFunc) Emit(e Emission) error { return f(e) }

// ReplayStats counts what a replay did with its input
type ReplayStats struct {
	Read    int `json:"read"`
	Skipped int `json:"skipped"` // stale, invalid or before the first fix
	Emitted int `json:"emitted"`
}

// Session is one run of an estimator over a measurement source. It is not safe
// for concurrent use; run one Session per goroutine.
type Session struct {
	ID        string
	Estimator *estimator.Estimator
	Log       logrus.FieldLogger
	Sinks     []Sink
}

// NewSession wraps est. A nil log uses the standard logger.
func NewSession(id string, est *estimator.Estimator, log logrus.FieldLogger, sinks ...Sink) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		ID:        id,
		Estimator: est,
		Log:       log.WithField("session", id),
		Sinks:     sinks,
	}
}

// Replay feeds src through the estimator one measurement at a time and emits
// a snapshot to every sink whenever the estimator's time advances. An
// uninitialized estimator is seeded from the first position fix; inertial
// samples before it are skipped. Stale and invalid measurements are counted
// and skipped. The reorder buffer is flushed when src is exhausted.
func (s *Session) Replay(ctx context.Context, src Source) (st ReplayStats, err error) {
	est := s.Estimator
	var (
		last    estimator.Measurement
		emitted bool
		lastT   float64
	)
	emit := func() error {
		t, ok := est.Time()
		if !ok || (emitted && t == lastT) {
			return nil
		}
		snap, err := est.Estimate()
		if err != nil {
			return err
		}
		emitted, lastT = true, t
		e := Emission{Session: s.ID, Snapshot: snap, Last: last, Stats: est.Stats()}
		for _, k := range s.Sinks {
			if err := k.Emit(e); err != nil {
				return fmt.Errorf("sink: %w", err)
			}
		}
		st.Emitted++
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		m, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return st, err
		}
		st.Read++
		last = m

		if est.Phase() == estimator.Uninitialized {
			p, ok := m.(estimator.PositionSample)
			if !ok {
				st.Skipped++
				continue
			}
			x, cov := estimator.Prior(est.Config(), p.Position, 0)
			if err := est.Initialize(x, cov, est.Config().ProcessNoise); err != nil {
				return st, err
			}
			s.Log.WithField("t", p.T).Info("initialized from first position fix")
		}

		if err := est.Process(m); err != nil {
			switch {
			case errors.Is(err, estimator.ErrStaleMeasurement),
				errors.Is(err, estimator.ErrInvalidMeasurement),
				errors.Is(err, estimator.ErrInvalidTimestep),
				errors.Is(err, estimator.ErrSingularInnovationCovariance):
				st.Skipped++
				s.Log.WithError(err).WithField("t", m.Time()).Debug("measurement skipped")
				continue
			default:
				return st, err
			}
		}
		if err := emit(); err != nil {
			return st, err
		}
	}

	if est.Phase() == estimator.Uninitialized {
		return st, nil
	}
	if err := est.Flush(); err != nil {
		s.Log.WithError(err).Warn("errors flushing reorder buffer")
	}
	if err := emit(); err != nil {
		return st, err
	}

	s.Log.WithFields(logrus.Fields{
		"read":    st.Read,
		"skipped": st.Skipped,
		"emitted": st.Emitted,
	}).Info("replay complete")
	return st, nil
}
