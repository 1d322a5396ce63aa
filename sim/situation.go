// Package sim synthesizes IMU and position-fix streams from a known flight path,
// perturbs them with injected faults, and drives estimators over them
package sim

import "errors"

var ErrOutsideScenario = errors.New("requested time is outside of scenario")

// Truth is the true vehicle state at one instant.
// The vehicle is modeled level, so specific force follows from acceleration and yaw alone.
type Truth struct {
	T            float64
	Position     [3]float64 // m, local level frame, z up
	Velocity     [3]float64 // m/s
	Acceleration [3]float64 // m/s²
	Yaw          float64    // rad
	YawRate      float64    // rad/s
}

// Situation defines a flight path by its true state over time
type Situation interface {
	BeginTime() float64
	EndTime() float64
	Truth(t float64) (Truth, error)
}
