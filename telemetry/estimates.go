package telemetry

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/BradleyConlin/northstrike-training/estimator"
	"github.com/BradleyConlin/northstrike-training/kpi"
)

// EstimateWriter logs estimator output as CSV, one row per emitted snapshot.
// It is a Sink.
type EstimateWriter struct {
	w    *csv.Writer
	h    []string
	full bool
	rate float64 // Hz; 0 writes every snapshot
	last float64
	rows int
}

// NewEstimateWriter starts an estimate log for a layout. With full set the whole
// covariance is written, otherwise only its diagonal. A positive rate thins
// rows to at most rate per second of estimator time.
func NewEstimateWriter(w io.Writer, l estimator.Layout, full bool, rate float64) (*EstimateWriter, error) {
	ew := &EstimateWriter{w: csv.NewWriter(w), full: full, rate: rate, last: -1e300}
	ew.h = append([]string{"t", "phase"}, estimator.StateNames(l)...)
	ew.h = append(ew.h, estimator.CovarianceNames(l, full)...)
	if err := ew.w.Write(ew.h); err != nil {
		return nil, err
	}
	return ew, nil
}

// Header returns the column names
func (ew *EstimateWriter) Header() []string { return ew.h }

// Rows returns the number of rows written
func (ew *EstimateWriter) Rows() int { return ew.rows }

// Log writes one snapshot unless it falls inside the output interval
func (ew *EstimateWriter) Log(s estimator.Snapshot) error {
	if ew.rate > 0 && s.T-ew.last < 1/ew.rate-1e-9 {
		return nil
	}
	vals := s.Values(ew.full)
	if len(vals)+2 != len(ew.h) {
		return fmt.Errorf("%w: snapshot has %d values for %d columns", estimator.ErrInvalidDimension, len(vals), len(ew.h)-2)
	}
	rec := make([]string, 0, len(ew.h))
	rec = append(rec, ff(s.T), s.Phase.String())
	for _, v := range vals {
		rec = append(rec, ff(v))
	}
	ew.last = s.T
	ew.rows++
	return ew.w.Write(rec)
}

// Emit implements Sink
func (ew *EstimateWriter) Emit(e Emission) error {
	return ew.Log(e.Snapshot)
}

// Close flushes the log
func (ew *EstimateWriter) Close() error {
	ew.w.Flush()
	return ew.w.Error()
}

// ReadSamples loads position and velocity columns (t, x, y, z and optionally
// vx, vy, vz) from an estimate or reference CSV
func ReadSamples(rd io.Reader) ([]kpi.Sample, error) {
	r := csv.NewReader(bufio.NewReader(rd))
	r.FieldsPerRecord = -1

	rec, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("samples header: %w", err)
	}
	idx := make(map[string]int)
	for i, k := range rec {
		idx[k] = i
	}
	for _, k := range []string{"t", "x", "y", "z"} {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("samples file is missing column %q", k)
		}
	}

	var out []kpi.Sample
	cols := []string{"t", "x", "y", "z", "vx", "vy", "vz"}
	line := 1
	for {
		rec, err = r.Read()
		line++
		if err == io.EOF {
			break
		} else if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return out, fmt.Errorf("read samples: %w", err)
			}
			logrus.WithError(err).WithField("line", line).Warn("samples: skipping row")
			continue
		}
		var v [7]float64
		ok := true
		for i, k := range cols {
			j, present := idx[k]
			if !present {
				continue
			}
			if j >= len(rec) {
				ok = false
				break
			}
			if v[i], err = strconv.ParseFloat(rec[j], 64); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			logrus.WithField("line", line).Warn("samples: skipping unparseable row")
			continue
		}
		out = append(out, kpi.Sample{
			T:        v[0],
			Position: [3]float64{v[1], v[2], v[3]},
			Velocity: [3]float64{v[4], v[5], v[6]},
		})
	}
	return out, nil
}
