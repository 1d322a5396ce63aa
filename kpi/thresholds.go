package kpi

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are pass/fail limits. A zero limit is not checked.
type Thresholds struct {
	MaxPositionBias       float64 `yaml:"max_position_bias_m" json:"max_position_bias_m" mapstructure:"max_position_bias_m"`
	MaxPositionRMS        float64 `yaml:"max_position_rms_m" json:"max_position_rms_m" mapstructure:"max_position_rms_m"`
	MaxVelocityRMS        float64 `yaml:"max_velocity_rms_mps" json:"max_velocity_rms_mps" mapstructure:"max_velocity_rms_mps"`
	ConvergenceRMS        float64 `yaml:"convergence_rms_m" json:"convergence_rms_m" mapstructure:"convergence_rms_m"`
	MaxConvergenceSamples int     `yaml:"max_convergence_samples" json:"max_convergence_samples" mapstructure:"max_convergence_samples"`
	MinHoverScore         float64 `yaml:"min_hover_score" json:"min_hover_score" mapstructure:"min_hover_score"`
}

// DefaultThresholds are the limits applied when no thresholds file is given
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxPositionBias:       0.5,
		MaxPositionRMS:        1.5,
		MaxVelocityRMS:        1.0,
		ConvergenceRMS:        1.0,
		MaxConvergenceSamples: 250,
	}
}

// LoadThresholds reads thresholds from a YAML file, starting from DefaultThresholds
func LoadThresholds(path string) (Thresholds, error) {
	th := DefaultThresholds()
	b, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read thresholds: %w", err)
	}
	if err := yaml.Unmarshal(b, &th); err != nil {
		return th, fmt.Errorf("parse thresholds %s: %w", path, err)
	}
	return th, nil
}

// Violation describes one failed check
type Violation struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Limit float64 `json:"limit"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %.4g exceeds limit %.4g", v.Name, v.Value, v.Limit)
}

// Verdict is the outcome of checking reports against thresholds
type Verdict struct {
	Pass       bool         `json:"pass"`
	Violations []Violation  `json:"violations,omitempty"`
	Accuracy   *Report      `json:"accuracy,omitempty"`
	Hover      *HoverReport `json:"hover,omitempty"`
	Thresholds Thresholds   `json:"thresholds"`
}

// Evaluate checks whichever reports are given against th
func Evaluate(acc *Report, hover *HoverReport, th Thresholds) Verdict {
	v := Verdict{Accuracy: acc, Hover: hover, Thresholds: th}
	over := func(name string, value, limit float64) {
		if limit <= 0 {
			return
		}
		if math.IsNaN(value) {
			// not computable counts as failing
			v.Violations = append(v.Violations, Violation{Name: name, Value: -1, Limit: limit})
		} else if value > limit {
			v.Violations = append(v.Violations, Violation{Name: name, Value: value, Limit: limit})
		}
	}

	if acc != nil {
		bias := 0.0
		for _, b := range acc.PositionBias {
			bias = math.Max(bias, math.Abs(b))
		}
		over("position_bias_m", bias, th.MaxPositionBias)
		over("position_rms_m", acc.PositionRMS, th.MaxPositionRMS)
		over("velocity_rms_mps", acc.VelocityRMS, th.MaxVelocityRMS)
		if limit := th.MaxConvergenceSamples; limit > 0 {
			if acc.ConvergenceIndex < 0 {
				// never converged
				v.Violations = append(v.Violations, Violation{Name: "convergence_samples", Value: -1, Limit: float64(limit)})
			} else {
				over("convergence_samples", float64(acc.ConvergenceIndex), float64(limit))
			}
		}
	}
	if hover != nil && th.MinHoverScore > 0 && hover.HoverScore < th.MinHoverScore {
		v.Violations = append(v.Violations, Violation{Name: "hover_score_below", Value: hover.HoverScore, Limit: th.MinHoverScore})
	}
	v.Pass = len(v.Violations) == 0
	return v
}

// WriteJSON writes the verdict as indented JSON
func (v Verdict) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
