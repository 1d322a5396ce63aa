package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

var truthColumns = []string{"t", "x", "y", "z", "vx", "vy", "vz", "yaw"}

// WriteTruth samples sit at rate Hz and writes it in the CSV layout read by
// NewSituationFromReader
func WriteTruth(w io.Writer, sit Situation, rate float64) error {
	if !(rate > 0) {
		return fmt.Errorf("truth rate must be positive, got %g", rate)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(truthColumns); err != nil {
		return err
	}
	t0, t1 := sit.BeginTime(), sit.EndTime()
	n := int(math.Floor((t1-t0)*rate + 1e-9))
	rec := make([]string, len(truthColumns))
	for i := 0; i <= n; i++ {
		s, err := sit.Truth(math.Min(t0+float64(i)/rate, t1))
		if err != nil {
			return err
		}
		v := [...]float64{s.T, s.Position[0], s.Position[1], s.Position[2],
			s.Velocity[0], s.Velocity[1], s.Velocity[2], s.Yaw}
		for k := range v {
			rec[k] = strconv.FormatFloat(v[k], 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
