package sim

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

// OU parameterizes an Ornstein-Uhlenbeck disturbance
type OU struct {
	Tau   float64 `yaml:"tau_s" mapstructure:"tau_s"` // correlation time, s
	Sigma float64 `yaml:"sigma" mapstructure:"sigma"` // steady-state std
}

// ou is one OU component with exact discretization
type ou struct {
	p     OU
	state float64
}

func (o *ou) step(dt float64, r *rand.Rand) float64 {
	if dt <= 0 || o.p.Tau <= 0 || o.p.Sigma <= 0 {
		return o.state
	}
	a := math.Exp(-dt / o.p.Tau)
	v := o.p.Sigma * o.p.Sigma * (1 - a*a)
	o.state = a*o.state + r.NormFloat64()*math.Sqrt(math.Max(1e-12, v))
	return o.state
}

// SensorConfig describes the simulated sensor suite
type SensorConfig struct {
	IMURate        float64 `yaml:"imu_rate_hz" mapstructure:"imu_rate_hz"`
	GPSRate        float64 `yaml:"gps_rate_hz" mapstructure:"gps_rate_hz"`
	AccelNoise     float64 `yaml:"accel_noise" mapstructure:"accel_noise"` // m/s² per sample
	GyroNoise      float64 `yaml:"gyro_noise" mapstructure:"gyro_noise"`   // rad/s per sample
	GPSNoise       float64 `yaml:"gps_noise" mapstructure:"gps_noise"`     // m per fix
	HDOP           float64 `yaml:"hdop" mapstructure:"hdop"`
	ReportAccuracy bool    `yaml:"report_accuracy" mapstructure:"report_accuracy"` // stamp fixes with GPSNoise as their accuracy
	Drift          OU      `yaml:"drift" mapstructure:"drift"`                     // correlated error on fixes, m
}

// DefaultSensorConfig is a typical small-multirotor IMU and GNSS receiver
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		IMURate:    100,
		GPSRate:    5,
		AccelNoise: 0.05,
		GyroNoise:  0.002,
		GPSNoise:   0.5,
		HDOP:       1,
	}
}

// Faults are injected sensor faults
type Faults struct {
	AccelBias    [3]float64 `yaml:"accel_bias_g" mapstructure:"accel_bias_g"` // g
	GyroBias     [3]float64 `yaml:"gyro_bias" mapstructure:"gyro_bias"`       // rad/s
	GPSLatency   float64    `yaml:"gps_latency_s" mapstructure:"gps_latency_s"`
	OutlierProb  float64    `yaml:"outlier_prob" mapstructure:"outlier_prob"`
	OutlierSigma float64    `yaml:"outlier_sigma" mapstructure:"outlier_sigma"` // m
	DropoutProb  float64    `yaml:"dropout_prob" mapstructure:"dropout_prob"`
	SwapProb     float64    `yaml:"swap_prob" mapstructure:"swap_prob"` // adjacent out-of-order delivery
	IMUInop      bool       `yaml:"imu_inop" mapstructure:"imu_inop"`
	GPSInop      bool       `yaml:"gps_inop" mapstructure:"gps_inop"`
}

// StreamStats counts what fault injection did to a stream
type StreamStats struct {
	Inertial int `json:"inertial"`
	Fixes    int `json:"fixes"`
	Dropped  int `json:"dropped_gps"`
	Outliers int `json:"outliers"`
	Swapped  int `json:"swapped"`
}

// Stream synthesizes the measurements sensors would deliver while flying sit,
// perturbed by faults. Measurements are returned in delivery order.
func Stream(ctx context.Context, sit Situation, sc SensorConfig, f Faults, r *rand.Rand) ([]estimator.Measurement, StreamStats, error) {
	var (
		ms    []estimator.Measurement
		stats StreamStats
	)
	t0, t1 := sit.BeginTime(), sit.EndTime()

	if !f.IMUInop && sc.IMURate > 0 {
		n := int(math.Floor((t1-t0)*sc.IMURate + 1e-9))
		for i := 0; i <= n; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, stats, err
				}
			}
			t := t0 + float64(i)/sc.IMURate
			s, err := sit.Truth(t)
			if err != nil {
				return nil, stats, err
			}
			ms = append(ms, inertial(s, sc, f, r))
			stats.Inertial++
		}
	}

	if !f.GPSInop && sc.GPSRate > 0 {
		drift := [3]ou{{p: sc.Drift}, {p: sc.Drift}, {p: sc.Drift}}
		n := int(math.Floor((t1-t0)*sc.GPSRate + 1e-9))
		for i := 0; i <= n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			t := t0 + float64(i)/sc.GPSRate
			var d [3]float64
			for k := range drift {
				d[k] = drift[k].step(1/sc.GPSRate, r)
			}
			if f.DropoutProb > 0 && r.Float64() < f.DropoutProb {
				stats.Dropped++
				continue
			}
			// a late fix reports where the vehicle was
			s, err := sit.Truth(math.Max(t0, t-f.GPSLatency))
			if err != nil {
				return nil, stats, err
			}
			p := estimator.PositionSample{T: t, HDOP: sc.HDOP}
			if sc.ReportAccuracy {
				p.Accuracy = sc.GPSNoise
			}
			outlier := f.OutlierProb > 0 && r.Float64() < f.OutlierProb
			for k := 0; k < 3; k++ {
				p.Position[k] = s.Position[k] + d[k] + sc.GPSNoise*r.NormFloat64()
				if outlier {
					p.Position[k] += f.OutlierSigma * r.NormFloat64()
				}
			}
			if outlier {
				stats.Outliers++
			}
			ms = append(ms, p)
			stats.Fixes++
		}
	}

	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Time() < ms[j].Time() })

	if f.SwapProb > 0 {
		for i := 0; i+1 < len(ms); i++ {
			if r.Float64() < f.SwapProb {
				ms[i], ms[i+1] = ms[i+1], ms[i]
				stats.Swapped++
				i++
			}
		}
	}
	return ms, stats, nil
}

// inertial returns what the IMU reads in true state s.
// The vehicle is level, so the body frame is the world frame rotated by yaw.
func inertial(s Truth, sc SensorConfig, f Faults, r *rand.Rand) estimator.InertialSample {
	q := estimator.ToQuaternion(0, 0, s.Yaw)
	fw := [3]float64{s.Acceleration[0], s.Acceleration[1], s.Acceleration[2] + estimator.G}
	fb := estimator.RotateInverse(q, fw)

	m := estimator.InertialSample{T: s.T}
	for k := 0; k < 3; k++ {
		m.Accel[k] = fb[k] + f.AccelBias[k]*estimator.G + sc.AccelNoise*r.NormFloat64()
		m.Gyro[k] = f.GyroBias[k] + sc.GyroNoise*r.NormFloat64()
	}
	m.Gyro[2] += s.YawRate
	return m
}
