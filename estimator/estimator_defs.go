// Package estimator implements an extended Kalman filter for determining a multirotor's
// position, velocity and attitude based on inputs from an IMU and a GPS-like position source
package estimator

import (
	"math"
)

const (
	Pi      = math.Pi
	G       = 9.80665 // G is the standard acceleration due to gravity, m/s²
	Small   = 1e-9    // Floor applied to negative covariance diagonals
	Big     = 1e9
	Deg     = Pi / 180
	MMDecay = 1 - 1.0/50 // Exponential decay constant for innovation variances

	maxPitch = 89 * Deg // Euler kinematics are singular at ±90° pitch
)

// KinematicModel names the motion model used by the prediction step
type KinematicModel string

const (
	ConstantVelocity     KinematicModel = "constant_velocity"
	ConstantAcceleration KinematicModel = "constant_acceleration"
)

// ProcessNoise holds the process noise standard deviations per √s for each state block
type ProcessNoise struct {
	Position     float64 `yaml:"position" mapstructure:"position"`
	Velocity     float64 `yaml:"velocity" mapstructure:"velocity"`
	Acceleration float64 `yaml:"acceleration" mapstructure:"acceleration"`
	Attitude     float64 `yaml:"attitude" mapstructure:"attitude"`
	AccelBias    float64 `yaml:"accel_bias" mapstructure:"accel_bias"`
	GyroBias     float64 `yaml:"gyro_bias" mapstructure:"gyro_bias"`
}

// MeasurementNoise holds the measurement noise standard deviations
type MeasurementNoise struct {
	Position float64 `yaml:"position" mapstructure:"position"` // m, scaled by HDOP when the fix has no accuracy
	Accel    float64 `yaml:"accel" mapstructure:"accel"`       // m/s²
}

// InitialStd holds the prior standard deviations used by Prior and on re-acquisition
type InitialStd struct {
	Position     float64 `yaml:"position" mapstructure:"position"`
	Velocity     float64 `yaml:"velocity" mapstructure:"velocity"`
	Acceleration float64 `yaml:"acceleration" mapstructure:"acceleration"`
	Attitude     float64 `yaml:"attitude" mapstructure:"attitude"`
	AccelBias    float64 `yaml:"accel_bias" mapstructure:"accel_bias"`
	GyroBias     float64 `yaml:"gyro_bias" mapstructure:"gyro_bias"`
}

// Config holds everything that shapes an Estimator for its lifetime
type Config struct {
	StateDimension   int              `yaml:"state_dimension" mapstructure:"state_dimension"` // 0 means derive from the layout
	KinematicModel   KinematicModel   `yaml:"kinematic_model" mapstructure:"kinematic_model"`
	EstimateBias     bool             `yaml:"estimate_bias" mapstructure:"estimate_bias"`
	ProcessNoise     ProcessNoise     `yaml:"process_noise" mapstructure:"process_noise"`
	MeasurementNoise MeasurementNoise `yaml:"measurement_noise" mapstructure:"measurement_noise"`
	InitialStd       InitialStd       `yaml:"initial_std" mapstructure:"initial_std"`
	OutlierGate      float64          `yaml:"outlier_gate" mapstructure:"outlier_gate"`     // Mahalanobis distance, 0 disables
	MaxTimestep      float64          `yaml:"max_timestep_s" mapstructure:"max_timestep_s"` // s
	ReorderWindow    int              `yaml:"reorder_window" mapstructure:"reorder_window"` // samples
	GateRecovery     int              `yaml:"gate_recovery" mapstructure:"gate_recovery"`   // consecutive rejections, 0 disables
	Gravity          float64          `yaml:"gravity" mapstructure:"gravity"`               // m/s²
}

// DefaultConfig returns the tuning used by the offline pipeline and the simulator
func DefaultConfig() Config {
	return Config{
		KinematicModel: ConstantVelocity,
		EstimateBias:   true,
		ProcessNoise: ProcessNoise{
			Position:     0.5,
			Velocity:     0.8,
			Acceleration: 2,
			Attitude:     0.01,
			AccelBias:    0.005,
			GyroBias:     0.0005,
		},
		MeasurementNoise: MeasurementNoise{
			Position: 2,
			Accel:    0.5,
		},
		InitialStd: InitialStd{
			Position:     10,
			Velocity:     5,
			Acceleration: 2,
			Attitude:     0.1,
			AccelBias:    0.5,
			GyroBias:     0.02,
		},
		OutlierGate:   5,
		MaxTimestep:   1,
		ReorderWindow: 8,
		GateRecovery:  10,
		Gravity:       G,
	}
}

// Layout describes where each block lives in the state vector.
// Absent blocks have offset -1.
type Layout struct {
	Pos, Vel, Acc, Att, AccelBias, GyroBias int
	N                                       int
}

// NewLayout computes the state layout for a model and bias selection
func NewLayout(model KinematicModel, bias bool) (l Layout) {
	l = Layout{Pos: 0, Vel: 3, Acc: -1, AccelBias: -1, GyroBias: -1}
	n := 6
	if model == ConstantAcceleration {
		l.Acc = n
		n += 3
	}
	l.Att = n
	n += 3
	if bias {
		l.AccelBias = n
		l.GyroBias = n + 3
		n += 6
	}
	l.N = n
	return
}

// Phase is the lifecycle phase of an Estimator
type Phase int

const (
	Uninitialized Phase = iota
	Initialized
	Running
	Closed
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Kind tags the variant of a Measurement
type Kind int

const (
	KindInertial Kind = iota
	KindPosition
)

func (k Kind) String() string {
	if k == KindInertial {
		return "inertial"
	}
	return "position"
}

// Measurement is a single timestamped sample, either InertialSample or PositionSample
type Measurement interface {
	Time() float64
	Kind() Kind
}

// InertialSample holds one IMU reading.
// Body frame is x forward, y left, z up.
type InertialSample struct {
	T     float64    // s
	Accel [3]float64 // specific force, body frame, m/s²
	Gyro  [3]float64 // body rates, rad/s
}

func (m InertialSample) Time() float64 { return m.T }
func (m InertialSample) Kind() Kind     { return KindInertial }

// PositionSample holds one absolute position fix in the local level frame (x east, y north, z up)
type PositionSample struct {
	T        float64    // s
	Position [3]float64 // m
	Accuracy float64    // 1σ horizontal accuracy, m; 0 if unknown
	HDOP     float64    // 0 if unknown
}

func (m PositionSample) Time() float64 { return m.T }
func (m PositionSample) Kind() Kind     { return KindPosition }

// Result reports what Update did with a measurement
type Result struct {
	Accepted   bool
	Distance   float64   // Mahalanobis distance of the innovation
	Innovation []float64 // measured minus predicted
	Clamped    bool      // a covariance diagonal was clamped to Small
	Recovered  bool      // accepted despite the gate after repeated rejections
}
