package kpi

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Hover score bands: at or below good scores 1, at or above bad scores 0
const (
	altStdGood = 0.05
	altStdBad  = 0.5
	xyStdGood  = 0.05
	xyStdBad   = 1.0
)

// HoverReport characterizes how steadily an estimate holds position, without a reference
type HoverReport struct {
	N          int      `json:"n" yaml:"n"`
	Duration   float64  `json:"duration_s" yaml:"duration_s"`
	AltMean    float64  `json:"alt_mean" yaml:"alt_mean"`
	AltStd     float64  `json:"alt_std" yaml:"alt_std"`
	AltRMSE    *float64 `json:"alt_rmse" yaml:"alt_rmse"` // nil without a setpoint
	MaxAltDev  float64  `json:"max_alt_dev" yaml:"max_alt_dev"`
	XYStd      float64  `json:"xy_std" yaml:"xy_std"`
	HoverScore float64  `json:"hover_score" yaml:"hover_score"`
}

// Hover computes hover indicators from estimates. If setpoint is non-nil the
// altitude deviation is measured against it rather than the mean altitude.
func Hover(est []Sample, setpoint *float64) (h HoverReport) {
	h.N = len(est)
	if h.N == 0 {
		h.AltMean, h.AltStd = math.NaN(), math.NaN()
		return
	}
	h.Duration = est[h.N-1].T - est[0].T

	z := make([]float64, h.N)
	x := make([]float64, h.N)
	y := make([]float64, h.N)
	for i, s := range est {
		x[i], y[i], z[i] = s.Position[0], s.Position[1], s.Position[2]
	}
	h.AltMean, h.AltStd = stat.PopMeanStdDev(z, nil)

	ref := h.AltMean
	if setpoint != nil {
		ref = *setpoint
		d := make([]float64, h.N)
		for i := range z {
			d[i] = z[i] - ref
		}
		rmse := math.Sqrt(floats.Dot(d, d) / float64(h.N))
		h.AltRMSE = &rmse
	}
	for _, v := range z {
		h.MaxAltDev = math.Max(h.MaxAltDev, math.Abs(v-ref))
	}

	mx, my := stat.Mean(x, nil), stat.Mean(y, nil)
	r := make([]float64, h.N)
	for i := range r {
		r[i] = math.Hypot(x[i]-mx, y[i]-my)
	}
	_, h.XYStd = stat.PopMeanStdDev(r, nil)

	h.HoverScore = (score(h.AltStd, altStdGood, altStdBad) + score(h.XYStd, xyStdGood, xyStdBad)) / 2
	return
}

// score maps v in [good, bad] linearly onto [1, 0]
func score(v, good, bad float64) float64 {
	switch {
	case v <= good:
		return 1
	case v >= bad:
		return 0
	}
	return 1 - (v-good)/(bad-good)
}
