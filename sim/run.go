package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/BradleyConlin/northstrike-training/estimator"
	"github.com/BradleyConlin/northstrike-training/kpi"
)

// RunConfig describes one simulated flight
type RunConfig struct {
	Scenario       string           `yaml:"scenario" mapstructure:"scenario"`
	Duration       float64          `yaml:"duration_s" mapstructure:"duration_s"`
	Seed           int64            `yaml:"seed" mapstructure:"seed"`
	OutputRate     float64          `yaml:"output_rate_hz" mapstructure:"output_rate_hz"` // 0 records after every applied measurement
	ConvergenceRMS float64          `yaml:"convergence_rms_m" mapstructure:"convergence_rms_m"`
	Estimator      estimator.Config `yaml:"-" mapstructure:"-"`
	Sensors        SensorConfig     `yaml:"sensors" mapstructure:"sensors"`
	Faults         Faults           `yaml:"faults" mapstructure:"faults"`

	// Situation overrides Scenario when set
	Situation Situation                       `yaml:"-" mapstructure:"-"`
	Logger    logrus.FieldLogger              `yaml:"-" mapstructure:"-"`
	Observer  estimator.Observer              `yaml:"-" mapstructure:"-"`
	OnRow     func(estimator.Snapshot, Truth) `yaml:"-" mapstructure:"-"`
	// RecordStream keeps the synthesized measurements in the result
	RecordStream bool `yaml:"-" mapstructure:"-"`
}

// DefaultRunConfig is a one-minute hover with default sensors and no faults
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Scenario:       "hover",
		Duration:       60,
		Seed:           1,
		OutputRate:     10,
		ConvergenceRMS: 1,
		Estimator:      estimator.DefaultConfig(),
		Sensors:        DefaultSensorConfig(),
	}
}

// Row pairs the true state with the estimate at one instant
type Row struct {
	T           float64    `json:"t"`
	Truth       [3]float64 `json:"truth"`
	TruthVel    [3]float64 `json:"truth_vel"`
	Estimate    [3]float64 `json:"estimate"`
	EstimateVel [3]float64 `json:"estimate_vel"`
	Std         [3]float64 `json:"std"`
}

// Error returns the horizontal and vertical position error magnitude
func (r Row) Error() float64 {
	dx, dy, dz := r.Estimate[0]-r.Truth[0], r.Estimate[1]-r.Truth[1], r.Estimate[2]-r.Truth[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// SessionMetrics summarizes a run in the form recorded for hardware-in-the-loop sessions
type SessionMetrics struct {
	IMUBiasG     struct{ X, Y float64 } `json:"imu_bias_g"`
	GPSLatencyMS float64                `json:"gps_latency_ms"`
	DroppedGPS   int                    `json:"dropped_gps"`
	Secs         float64                `json:"secs"`
}

// RunResult is the outcome of one simulated flight
type RunResult struct {
	Seed    int64
	Rows    []Row
	Report  kpi.Report
	Stream  StreamStats
	Stats   estimator.Stats
	Final   estimator.Snapshot
	Metrics SessionMetrics

	Measurements []estimator.Measurement // only with RecordStream
}

// Samples splits rows into estimate and reference samples for the kpi package
func (r *RunResult) Samples() (est, ref []kpi.Sample) {
	est = make([]kpi.Sample, len(r.Rows))
	ref = make([]kpi.Sample, len(r.Rows))
	for i, row := range r.Rows {
		est[i] = kpi.Sample{T: row.T, Position: row.Estimate, Velocity: row.EstimateVel}
		ref[i] = kpi.Sample{T: row.T, Position: row.Truth, Velocity: row.TruthVel}
	}
	return
}

func (c RunConfig) situation() (Situation, error) {
	if c.Situation != nil {
		return c.Situation, nil
	}
	return Scenario(c.Scenario, c.Duration)
}

// Run flies one simulated scenario through a fresh estimator
func Run(ctx context.Context, c RunConfig) (*RunResult, error) {
	log := c.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("seed", c.Seed)

	sit, err := c.situation()
	if err != nil {
		return nil, err
	}
	r := rand.New(rand.NewSource(c.Seed))
	ms, ss, err := Stream(ctx, sit, c.Sensors, c.Faults, r)
	if err != nil {
		return nil, fmt.Errorf("synthesize stream: %w", err)
	}

	opts := []estimator.Option{estimator.WithLogger(log)}
	if c.Observer != nil {
		opts = append(opts, estimator.WithObserver(c.Observer))
	}
	est, err := estimator.New(c.Estimator, opts...)
	if err != nil {
		return nil, err
	}
	defer est.Close()

	start, err := sit.Truth(sit.BeginTime())
	if err != nil {
		return nil, err
	}
	// seed from the first fix, or from the known start when GPS is out
	pos := start.Position
	for _, m := range ms {
		if p, ok := m.(estimator.PositionSample); ok {
			pos = p.Position
			break
		}
	}
	x0, p0 := estimator.Prior(est.Config(), pos, start.Yaw)
	if err := est.Initialize(x0, p0, est.Config().ProcessNoise); err != nil {
		return nil, err
	}

	res := &RunResult{Seed: c.Seed, Stream: ss}
	if c.RecordStream {
		res.Measurements = ms
	}
	lastRow := math.Inf(-1)
	record := func() error {
		t, ok := est.Time()
		if !ok || est.Phase() != estimator.Running {
			return nil
		}
		if c.OutputRate > 0 && t-lastRow < 1/c.OutputRate-1e-9 {
			return nil
		}
		if t == lastRow {
			return nil
		}
		s, err := est.Estimate()
		if err != nil {
			return err
		}
		tr, err := sit.Truth(t)
		if err != nil {
			return err
		}
		lastRow = t
		res.Rows = append(res.Rows, Row{
			T:           t,
			Truth:       tr.Position,
			TruthVel:    tr.Velocity,
			Estimate:    s.Position,
			EstimateVel: s.Velocity,
			Std:         s.PositionStd(),
		})
		if c.OnRow != nil {
			c.OnRow(s, tr)
		}
		return nil
	}

	for i, m := range ms {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := est.Process(m); err != nil {
			switch {
			case errors.Is(err, estimator.ErrStaleMeasurement),
				errors.Is(err, estimator.ErrInvalidTimestep),
				errors.Is(err, estimator.ErrSingularInnovationCovariance):
				log.WithError(err).Debug("measurement skipped")
				continue
			default:
				return nil, err
			}
		}
		if err := record(); err != nil {
			return nil, err
		}
	}
	if err := est.Flush(); err != nil {
		log.WithError(err).Debug("flush")
	}
	if err := record(); err != nil {
		return nil, err
	}

	res.Stats = est.Stats()
	if res.Final, err = est.Estimate(); err != nil {
		return nil, err
	}

	estS, refS := res.Samples()
	res.Report, err = kpi.Compute(estS, refS, c.ConvergenceRMS)
	if err != nil && !errors.Is(err, kpi.ErrNoOverlap) {
		return nil, err
	}

	res.Metrics = SessionMetrics{
		GPSLatencyMS: c.Faults.GPSLatency * 1000,
		DroppedGPS:   ss.Dropped,
		Secs:         sit.EndTime() - sit.BeginTime(),
	}
	res.Metrics.IMUBiasG.X = res.Final.AccelBias[0] / estimator.G
	res.Metrics.IMUBiasG.Y = res.Final.AccelBias[1] / estimator.G

	log.WithFields(logrus.Fields{
		"rows":         len(res.Rows),
		"position_rms": res.Report.PositionRMS,
		"rejections":   res.Stats.Rejections,
	}).Info("run complete")
	return res, nil
}
