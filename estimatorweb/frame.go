// Package estimatorweb broadcasts live estimator output to websocket clients
package estimatorweb

import (
	"github.com/BradleyConlin/northstrike-training/estimator"
	"github.com/BradleyConlin/northstrike-training/telemetry"
)

const (
	Port = 8000
	Path = "/estimatorweb"
)

// Frame is one estimate as sent over the wire
type Frame struct {
	Session string  `json:"session,omitempty"`
	T       float64 `json:"t"`
	Phase   string  `json:"phase"`

	// Estimate
	Position     [3]float64 `json:"position"`     // m, local level frame
	Velocity     [3]float64 `json:"velocity"`     // m/s
	Acceleration [3]float64 `json:"acceleration"` // m/s²
	Roll         float64    `json:"roll"`         // °
	Pitch        float64    `json:"pitch"`        // °
	Heading      float64    `json:"heading"`      // °
	AccelBias    [3]float64 `json:"accel_bias"`   // m/s²
	GyroBias     [3]float64 `json:"gyro_bias"`    // °/s
	PositionStd  [3]float64 `json:"position_std"` // m
	VelocityStd  [3]float64 `json:"velocity_std"` // m/s
	Variance     []float64  `json:"variance"`     // covariance diagonal in state order
	StateNames   []string   `json:"state_names"`

	// Last measurement
	Kind     string     `json:"kind,omitempty"`
	LastT    float64    `json:"last_t"`
	Accel    [3]float64 `json:"accel"` // m/s², body frame
	Gyro     [3]float64 `json:"gyro"`  // °/s, body frame
	Fix      [3]float64 `json:"fix"`   // m
	Accuracy float64    `json:"accuracy"`

	// Counters
	Updates    int `json:"updates"`
	Rejections int `json:"rejections"`
	Stale      int `json:"stale"`
	Clamps     int `json:"clamps"`
	Reacquired int `json:"reacquired"`
}

// NewFrame builds a frame from a session emission
func NewFrame(e telemetry.Emission) *Frame {
	s := e.Snapshot
	l := s.Layout
	f := &Frame{
		Session:      e.Session,
		T:            s.T,
		Phase:        s.Phase.String(),
		Position:     s.Position,
		Velocity:     s.Velocity,
		Acceleration: s.Acceleration,
		Roll:         s.Roll / estimator.Deg,
		Pitch:        s.Pitch / estimator.Deg,
		Heading:      s.Yaw / estimator.Deg,
		AccelBias:    s.AccelBias,
		PositionStd:  s.PositionStd(),
		StateNames:   estimator.StateNames(l),
		Updates:      e.Stats.Updates,
		Rejections:   e.Stats.Rejections,
		Stale:        e.Stats.Stale,
		Clamps:       e.Stats.Clamps,
		Reacquired:   e.Stats.Reacquired,
	}
	for i := 0; i < 3; i++ {
		f.GyroBias[i] = s.GyroBias[i] / estimator.Deg
		if l.Vel >= 0 {
			f.VelocityStd[i] = s.Std(l.Vel + i)
		}
	}
	f.Variance = make([]float64, len(s.Covariance))
	for i, row := range s.Covariance {
		f.Variance[i] = row[i]
	}

	switch m := e.Last.(type) {
	case estimator.InertialSample:
		f.Kind, f.LastT, f.Accel = m.Kind().String(), m.T, m.Accel
		for i := 0; i < 3; i++ {
			f.Gyro[i] = m.Gyro[i] / estimator.Deg
		}
	case estimator.PositionSample:
		f.Kind, f.LastT, f.Fix, f.Accuracy = m.Kind().String(), m.T, m.Position, m.Accuracy
	}
	return f
}
