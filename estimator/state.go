package estimator

import (
	"fmt"
	"math"

	"github.com/westphae/quaternion"
)

// Snapshot is a read-only copy of an Estimator's state at one instant
type Snapshot struct {
	T      float64
	Phase  Phase
	Layout Layout

	State      []float64
	Covariance [][]float64

	Position     [3]float64 // m, local level frame
	Velocity     [3]float64 // m/s
	Acceleration [3]float64 // m/s², zero unless the model carries it
	Roll         float64    // rad
	Pitch        float64    // rad
	Yaw          float64    // rad, (-π, π]
	Quaternion   quaternion.Quaternion
	AccelBias    [3]float64 // m/s², zero unless estimated
	GyroBias     [3]float64 // rad/s, zero unless estimated
}

func newSnapshot(e *Estimator) (s Snapshot) {
	l := e.layout
	s = Snapshot{
		T:          e.t,
		Phase:      e.phase,
		Layout:     l,
		State:      make([]float64, len(e.x)),
		Covariance: rows(e.M),
	}
	copy(s.State, e.x)
	copy(s.Position[:], e.x[l.Pos:l.Pos+3])
	copy(s.Velocity[:], e.x[l.Vel:l.Vel+3])
	if l.Acc >= 0 {
		copy(s.Acceleration[:], e.x[l.Acc:l.Acc+3])
	}
	s.Roll, s.Pitch, s.Yaw = e.x[l.Att], e.x[l.Att+1], e.x[l.Att+2]
	s.Quaternion = ToQuaternion(s.Roll, s.Pitch, s.Yaw)
	if l.AccelBias >= 0 {
		copy(s.AccelBias[:], e.x[l.AccelBias:l.AccelBias+3])
		copy(s.GyroBias[:], e.x[l.GyroBias:l.GyroBias+3])
	}
	return
}

// Std returns the standard deviation of state element i
func (s Snapshot) Std(i int) float64 {
	return math.Sqrt(math.Max(0, s.Covariance[i][i]))
}

// PositionStd returns the per-axis position standard deviations
func (s Snapshot) PositionStd() [3]float64 {
	p := s.Layout.Pos
	return [3]float64{s.Std(p), s.Std(p + 1), s.Std(p + 2)}
}

// StateNames lists the names of the state elements in layout order
func StateNames(l Layout) []string {
	names := make([]string, l.N)
	put := func(i int, a, b, c string) {
		if i >= 0 {
			names[i], names[i+1], names[i+2] = a, b, c
		}
	}
	put(l.Pos, "x", "y", "z")
	put(l.Vel, "vx", "vy", "vz")
	put(l.Acc, "ax", "ay", "az")
	put(l.Att, "roll", "pitch", "yaw")
	put(l.AccelBias, "bax", "bay", "baz")
	put(l.GyroBias, "bgx", "bgy", "bgz")
	return names
}

// CovarianceNames lists column names for the covariance, either the diagonal
// only ("var_x", ...) or the full row-major matrix ("P_x_y", ...)
func CovarianceNames(l Layout, full bool) []string {
	names := StateNames(l)
	if !full {
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = "var_" + n
		}
		return out
	}
	out := make([]string, 0, len(names)*len(names))
	for _, a := range names {
		for _, b := range names {
			out = append(out, fmt.Sprintf("P_%s_%s", a, b))
		}
	}
	return out
}

// Values returns the state followed by the covariance values in the order of
// StateNames and CovarianceNames
func (s Snapshot) Values(full bool) []float64 {
	out := make([]float64, 0, len(s.State)*(len(s.State)+1))
	out = append(out, s.State...)
	for i, row := range s.Covariance {
		if !full {
			out = append(out, row[i])
			continue
		}
		out = append(out, row...)
	}
	return out
}

// Prior builds a state and diagonal covariance centred on a first position fix,
// using cfg.InitialStd for the uncertainties
func Prior(cfg Config, pos [3]float64, yaw float64) ([]float64, [][]float64) {
	if cfg.KinematicModel == "" {
		cfg.KinematicModel = ConstantVelocity
	}
	l := NewLayout(cfg.KinematicModel, cfg.EstimateBias)
	x := make([]float64, l.N)
	copy(x[l.Pos:l.Pos+3], pos[:])
	x[l.Att+2] = WrapAngle(yaw)

	d := make([]float64, l.N)
	set := func(i int, v float64) {
		if i >= 0 {
			d[i], d[i+1], d[i+2] = v*v, v*v, v*v
		}
	}
	is := cfg.InitialStd
	set(l.Pos, is.Position)
	set(l.Vel, is.Velocity)
	set(l.Acc, is.Acceleration)
	set(l.Att, is.Attitude)
	set(l.AccelBias, is.AccelBias)
	set(l.GyroBias, is.GyroBias)

	cov := make([][]float64, l.N)
	for i := range cov {
		cov[i] = make([]float64, l.N)
		cov[i][i] = d[i]
	}
	return x, cov
}
