// Package config loads estimator, simulation and output settings from
// defaults, a YAML file, NORTHSTRIKE_* environment variables and flags
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/BradleyConlin/northstrike-training/estimator"
	"github.com/BradleyConlin/northstrike-training/kpi"
	"github.com/BradleyConlin/northstrike-training/sim"
)

// Output controls what runs write and where
type Output struct {
	Dir            string  `yaml:"dir" mapstructure:"dir"`
	Rate           float64 `yaml:"rate_hz" mapstructure:"rate_hz"` // estimate rows per second, 0 for one per measurement
	FullCovariance bool    `yaml:"full_covariance" mapstructure:"full_covariance"`
}

// Web controls live publication and metrics
type Web struct {
	Publish     string `yaml:"publish" mapstructure:"publish"`           // room host to publish to, empty to disable
	Listen      string `yaml:"listen" mapstructure:"listen"`             // serve a room and /metrics here, empty to disable
	MetricsPath string `yaml:"metrics_path" mapstructure:"metrics_path"`
}

// Log controls logrus
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Config is the full configuration of a run
type Config struct {
	Estimator  estimator.Config     `yaml:"estimator" mapstructure:"estimator"`
	Sim        sim.RunConfig        `yaml:"sim" mapstructure:"sim"`
	MonteCarlo sim.MonteCarloConfig `yaml:"monte_carlo" mapstructure:"monte_carlo"`
	Thresholds kpi.Thresholds       `yaml:"thresholds" mapstructure:"thresholds"`
	Output     Output               `yaml:"output" mapstructure:"output"`
	Web        Web                  `yaml:"web" mapstructure:"web"`
	Log        Log                  `yaml:"log" mapstructure:"log"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Estimator:  estimator.DefaultConfig(),
		Sim:        sim.DefaultRunConfig(),
		MonteCarlo: sim.MonteCarloConfig{Runs: 0, Parallel: 0, Randomize: 0.2},
		Thresholds: kpi.DefaultThresholds(),
		Output:     Output{Dir: "artifacts", Rate: 0},
		Web:        Web{MetricsPath: "/metrics"},
		Log:        Log{Level: "info", Format: "text"},
	}
}

// Validate checks the configuration, failing fast with estimator.ErrInvalidConfig
func (c Config) Validate() error {
	if err := c.Estimator.Validate(); err != nil {
		return err
	}
	s := c.Sim
	if !(s.Duration > 0) {
		return fmt.Errorf("%w: sim.duration_s must be positive, got %g", estimator.ErrInvalidConfig, s.Duration)
	}
	if s.Sensors.IMURate < 0 || s.Sensors.GPSRate < 0 {
		return fmt.Errorf("%w: sensor rates must be non-negative", estimator.ErrInvalidConfig)
	}
	if s.Sensors.IMURate > 0 && 1/s.Sensors.IMURate > c.Estimator.MaxTimestep {
		return fmt.Errorf("%w: imu period %g s exceeds max_timestep_s %g",
			estimator.ErrInvalidConfig, 1/s.Sensors.IMURate, c.Estimator.MaxTimestep)
	}
	for name, p := range map[string]float64{
		"sim.faults.outlier_prob": s.Faults.OutlierProb,
		"sim.faults.dropout_prob": s.Faults.DropoutProb,
		"sim.faults.swap_prob":    s.Faults.SwapProb,
	} {
		if !(p >= 0 && p <= 1) {
			return fmt.Errorf("%w: %s must be within [0, 1], got %g", estimator.ErrInvalidConfig, name, p)
		}
	}
	if s.OutputRate < 0 || c.Output.Rate < 0 {
		return fmt.Errorf("%w: output rates must be non-negative", estimator.ErrInvalidConfig)
	}
	if c.MonteCarlo.Runs < 0 || c.MonteCarlo.Parallel < 0 {
		return fmt.Errorf("%w: monte_carlo runs and parallel must be non-negative", estimator.ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", estimator.ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", estimator.ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// RunConfig returns the simulation settings with the estimator settings applied
func (c Config) RunConfig() sim.RunConfig {
	r := c.Sim
	r.Estimator = c.Estimator
	if r.ConvergenceRMS == 0 {
		r.ConvergenceRMS = c.Thresholds.ConvergenceRMS
	}
	return r
}

// ApplyLogging configures l from the log settings
func (c Config) ApplyLogging(l *logrus.Logger) error {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// WriteEffective writes the resolved configuration as YAML
func (c Config) WriteEffective(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// WriteEffectiveFile writes the resolved configuration to path
func (c Config) WriteEffectiveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteEffective(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
