// Package kpi computes estimator accuracy and hover stability indicators and
// checks them against configured thresholds
package kpi

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrNoOverlap = errors.New("estimate and reference do not overlap in time")

// Sample is one timestamped position/velocity record, either an estimate or a reference
type Sample struct {
	T        float64
	Position [3]float64
	Velocity [3]float64
}

// Report holds accuracy indicators of an estimate against a reference
type Report struct {
	N                int        `json:"n" yaml:"n"`
	Duration         float64    `json:"duration_s" yaml:"duration_s"`
	PositionBias     [3]float64 `json:"position_bias_m" yaml:"position_bias_m"`
	PositionAxisRMS  [3]float64 `json:"position_axis_rms_m" yaml:"position_axis_rms_m"`
	PositionRMS      float64    `json:"position_rms_m" yaml:"position_rms_m"`
	VelocityRMS      float64    `json:"velocity_rms_mps" yaml:"velocity_rms_mps"`
	MaxPositionError float64    `json:"max_position_error_m" yaml:"max_position_error_m"`
	ConvergenceIndex int        `json:"convergence_index" yaml:"convergence_index"` // -1 if never converged
}

// Interpolate returns the reference linearly interpolated at t. ref must be sorted by time.
func Interpolate(ref []Sample, t float64) (Sample, bool) {
	n := len(ref)
	if n == 0 || t < ref[0].T || t > ref[n-1].T {
		return Sample{}, false
	}
	ix := sort.Search(n, func(i int) bool { return ref[i].T >= t })
	if ref[ix].T == t || ix == 0 {
		return ref[ix], true
	}
	a, b := ref[ix-1], ref[ix]
	f := (t - a.T) / (b.T - a.T)
	s := Sample{T: t}
	for i := 0; i < 3; i++ {
		s.Position[i] = a.Position[i] + f*(b.Position[i]-a.Position[i])
		s.Velocity[i] = a.Velocity[i] + f*(b.Velocity[i]-a.Velocity[i])
	}
	return s, true
}

// Errors aligns est to ref and returns the estimate-minus-reference samples.
// Estimates outside the reference time span are dropped.
func Errors(est, ref []Sample) []Sample {
	out := make([]Sample, 0, len(est))
	for _, e := range est {
		r, ok := Interpolate(ref, e.T)
		if !ok {
			continue
		}
		d := Sample{T: e.T}
		for i := 0; i < 3; i++ {
			d.Position[i] = e.Position[i] - r.Position[i]
			d.Velocity[i] = e.Velocity[i] - r.Velocity[i]
		}
		out = append(out, d)
	}
	return out
}

// Compute aligns est to ref and summarizes the errors. convergenceRMS is the
// running position RMS below which the estimate counts as converged.
func Compute(est, ref []Sample, convergenceRMS float64) (r Report, err error) {
	errs := Errors(est, ref)
	if len(errs) == 0 {
		return Report{ConvergenceIndex: -1}, ErrNoOverlap
	}
	r.N = len(errs)
	r.Duration = errs[len(errs)-1].T - errs[0].T

	axis := make([]float64, r.N)
	norm2 := make([]float64, r.N)
	vel2 := make([]float64, r.N)
	for i := 0; i < 3; i++ {
		for k, e := range errs {
			axis[k] = e.Position[i]
		}
		r.PositionBias[i] = stat.Mean(axis, nil)
		r.PositionAxisRMS[i] = math.Sqrt(floats.Dot(axis, axis) / float64(r.N))
	}
	for k, e := range errs {
		norm2[k] = e.Position[0]*e.Position[0] + e.Position[1]*e.Position[1] + e.Position[2]*e.Position[2]
		vel2[k] = e.Velocity[0]*e.Velocity[0] + e.Velocity[1]*e.Velocity[1] + e.Velocity[2]*e.Velocity[2]
	}
	r.PositionRMS = math.Sqrt(stat.Mean(norm2, nil))
	r.VelocityRMS = math.Sqrt(stat.Mean(vel2, nil))
	r.MaxPositionError = math.Sqrt(floats.Max(norm2))
	r.ConvergenceIndex = ConvergenceIndex(RunningRMS(norm2), convergenceRMS)
	return r, nil
}

// RunningRMS returns the cumulative RMS of the square roots of sq
func RunningRMS(sq []float64) []float64 {
	out := make([]float64, len(sq))
	cum := make([]float64, len(sq))
	floats.CumSum(cum, sq)
	for k := range cum {
		out[k] = math.Sqrt(cum[k] / float64(k+1))
	}
	return out
}

// ConvergenceIndex returns the first index from which rms stays at or below threshold, or -1
func ConvergenceIndex(rms []float64, threshold float64) int {
	ix := -1
	for k := len(rms) - 1; k >= 0; k-- {
		if rms[k] > threshold {
			break
		}
		ix = k
	}
	return ix
}
