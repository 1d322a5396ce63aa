package config

import (
	"fmt"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

// EnvPrefix prefixes environment overrides, e.g. NORTHSTRIKE_ESTIMATOR_OUTLIER_GATE
const EnvPrefix = "NORTHSTRIKE"

// flagBindings maps viper keys to pflag names
var flagBindings = map[string]string{
	"estimator.kinematic_model":            "model",
	"estimator.state_dimension":            "state-dimension",
	"estimator.estimate_bias":              "estimate-bias",
	"estimator.outlier_gate":               "outlier-gate",
	"estimator.max_timestep_s":             "max-timestep",
	"estimator.reorder_window":             "reorder-window",
	"estimator.gate_recovery":              "gate-recovery",
	"estimator.process_noise.position":     "q-pos",
	"estimator.process_noise.velocity":     "q-vel",
	"estimator.measurement_noise.position": "r-pos",
	"sim.scenario":                         "scenario",
	"sim.duration_s":                       "duration",
	"sim.seed":                             "seed",
	"sim.sensors.accel_noise":              "accel-noise",
	"sim.sensors.gyro_noise":               "gyro-noise",
	"sim.sensors.gps_noise":                "gps-noise",
	"sim.faults.accel_bias_g":              "accel-bias",
	"sim.faults.gyro_bias":                 "gyro-bias",
	"sim.faults.gps_latency_s":             "gps-latency",
	"sim.faults.outlier_prob":              "outlier-prob",
	"sim.faults.dropout_prob":              "dropout-prob",
	"sim.faults.swap_prob":                 "swap-prob",
	"sim.faults.imu_inop":                  "imu-inop",
	"sim.faults.gps_inop":                  "gps-inop",
	"monte_carlo.runs":                     "runs",
	"monte_carlo.parallel":                 "parallel",
	"output.dir":                           "out",
	"output.rate_hz":                       "rate",
	"output.full_covariance":               "full-covariance",
	"web.publish":                          "publish",
	"web.listen":                           "listen",
	"log.level":                            "log-level",
	"log.format":                           "log-format",
}

// vectorKeys hold "x,y,z" strings when set from flags or the environment
var vectorKeys = []string{"sim.faults.accel_bias_g", "sim.faults.gyro_bias"}

// RegisterFlags adds every bindable option to fs
func RegisterFlags(fs *flag.FlagSet) {
	d := Default()
	e, s := d.Estimator, d.Sim

	fs.String("model", string(e.KinematicModel), "Kinematic model, constant_velocity or constant_acceleration")
	fs.Int("state-dimension", e.StateDimension, "Expected state dimension, 0 to derive from the model")
	fs.Bool("estimate-bias", e.EstimateBias, "Estimate accelerometer and gyro biases")
	fs.Float64("outlier-gate", e.OutlierGate, "Mahalanobis distance above which measurements are rejected, 0 disables")
	fs.Float64("max-timestep", e.MaxTimestep, "Longest prediction step, seconds")
	fs.Int("reorder-window", e.ReorderWindow, "Measurements held to restore time order")
	fs.Int("gate-recovery", e.GateRecovery, "Consecutive rejections after which a measurement is forced in, 0 disables")
	fs.Float64("q-pos", e.ProcessNoise.Position, "Position process noise, m/√s")
	fs.Float64("q-vel", e.ProcessNoise.Velocity, "Velocity process noise, m/s/√s")
	fs.Float64("r-pos", e.MeasurementNoise.Position, "Position fix noise when a fix reports no accuracy, m")

	fs.StringP("scenario", "s", s.Scenario, "Scenario to simulate, hover or box")
	fs.Float64("duration", s.Duration, "Scenario duration, seconds")
	fs.Int64("seed", s.Seed, "Random seed")
	fs.Float64P("accel-noise", "a", s.Sensors.AccelNoise, "Amount of noise to add to accel measurements, m/s²")
	fs.Float64P("gyro-noise", "g", s.Sensors.GyroNoise, "Amount of noise to add to gyro measurements, rad/s")
	fs.Float64P("gps-noise", "n", s.Sensors.GPSNoise, "Amount of noise to add to GPS position fixes, m")
	fs.String("accel-bias", "", "Amount of bias to add to accel measurements, \"x,y,z\" G")
	fs.String("gyro-bias", "", "Amount of bias to add to gyro measurements, \"x,y,z\" rad/s")
	fs.Float64("gps-latency", s.Faults.GPSLatency, "Age of GPS fixes on arrival, seconds")
	fs.Float64("outlier-prob", s.Faults.OutlierProb, "Probability of a GPS outlier")
	fs.Float64("dropout-prob", s.Faults.DropoutProb, "Probability of dropping a GPS fix")
	fs.Float64("swap-prob", s.Faults.SwapProb, "Probability of delivering adjacent measurements out of order")
	fs.Bool("imu-inop", s.Faults.IMUInop, "Make the IMU inoperative")
	fs.BoolP("gps-inop", "w", s.Faults.GPSInop, "Make the GPS inoperative")

	fs.Int("runs", d.MonteCarlo.Runs, "Monte-Carlo runs, 0 for a single run")
	fs.Int("parallel", d.MonteCarlo.Parallel, "Concurrent Monte-Carlo runs, 0 for GOMAXPROCS")
	fs.StringP("out", "o", d.Output.Dir, "Output directory")
	fs.Float64("rate", d.Output.Rate, "Estimate rows per second, 0 for one per measurement")
	fs.Bool("full-covariance", d.Output.FullCovariance, "Write the full covariance rather than its diagonal")
	fs.String("publish", d.Web.Publish, "Publish live estimates to the room at this host:port")
	fs.String("listen", d.Web.Listen, "Serve a live room and metrics on this address")
	fs.String("log-level", d.Log.Level, "Log level")
	fs.String("log-format", d.Log.Format, "Log format, text or json")
}

// Load resolves the configuration.
// Precedence: flags > env > YAML file > defaults
// path and fs may be empty or nil.
func Load(path string, fs *flag.FlagSet) (Config, error) {
	v := viper.New()

	defaults, err := flatten(Default())
	if err != nil {
		return Config{}, err
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range flagBindings {
			if f := fs.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	for _, k := range vectorKeys {
		str, ok := v.Get(k).(string)
		if !ok {
			continue
		}
		vec, err := ParseVector(str)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", estimator.ErrInvalidConfig, k, err)
		}
		v.Set(k, vec[:])
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", estimator.ErrInvalidConfig, err)
	}
	c.Sim.Estimator = c.Estimator
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

// ParseVector parses "x,y,z". An empty string is the zero vector.
func ParseVector(str string) (a [3]float64, err error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return
	}
	parts := strings.Split(str, ",")
	if len(parts) != 3 {
		return a, fmt.Errorf("want 3 comma-separated values, got %q", str)
	}
	for i, s := range parts {
		if a[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return
		}
	}
	return
}

// flatten turns c into dotted viper keys by way of its YAML form
func flatten(c Config) (map[string]interface{}, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]interface{}); ok {
				walk(key, sub)
				continue
			}
			out[key] = val
		}
	}
	walk("", m)
	return out, nil
}
