// Package telemetry records and replays estimator inputs and outputs
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
)

const (
	typeInertial = "inertial"
	typePosition = "position"
)

// MeasurementColumns is the header written by MeasurementWriter
var MeasurementColumns = []string{"type", "t", "ax", "ay", "az", "gx", "gy", "gz", "px", "py", "pz", "hdop", "accuracy"}

// Source yields measurements one at a time, returning io.EOF when exhausted
type Source interface {
	Next() (estimator.Measurement, error)
}

// SliceSource serves measurements from memory
type SliceSource []estimator.Measurement

// Next pops the first measurement
func (s *SliceSource) Next() (estimator.Measurement, error) {
	if len(*s) == 0 {
		return nil, io.EOF
	}
	m := (*s)[0]
	*s = (*s)[1:]
	return m, nil
}

// MeasurementWriter records measurements as CSV
type MeasurementWriter struct {
	w      *csv.Writer
	header bool
}

func NewMeasurementWriter(w io.Writer) *MeasurementWriter {
	return &MeasurementWriter{w: csv.NewWriter(w)}
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Write appends one measurement
func (mw *MeasurementWriter) Write(m estimator.Measurement) error {
	if !mw.header {
		if err := mw.w.Write(MeasurementColumns); err != nil {
			return err
		}
		mw.header = true
	}

	rec := make([]string, len(MeasurementColumns))
	switch m := m.(type) {
	case estimator.InertialSample:
		rec[0] = typeInertial
		rec[1] = ff(m.T)
		for i := 0; i < 3; i++ {
			rec[2+i] = ff(m.Accel[i])
			rec[5+i] = ff(m.Gyro[i])
		}
	case estimator.PositionSample:
		rec[0] = typePosition
		rec[1] = ff(m.T)
		for i := 0; i < 3; i++ {
			rec[8+i] = ff(m.Position[i])
		}
		rec[11] = ff(m.HDOP)
		rec[12] = ff(m.Accuracy)
	case *estimator.InertialSample:
		return mw.Write(*m)
	case *estimator.PositionSample:
		return mw.Write(*m)
	default:
		return fmt.Errorf("unsupported measurement %T", m)
	}
	return mw.w.Write(rec)
}

// Flush writes any buffered rows
func (mw *MeasurementWriter) Flush() error {
	mw.w.Flush()
	return mw.w.Error()
}

// WriteAll records ms and flushes
func (mw *MeasurementWriter) WriteAll(ms []estimator.Measurement) error {
	for _, m := range ms {
		if err := mw.Write(m); err != nil {
			return err
		}
	}
	return mw.Flush()
}

// MeasurementReader reads measurements from CSV.
// Columns are matched by header name and unknown columns are ignored.
// Rows that do not parse are logged and skipped.
type MeasurementReader struct {
	r       *csv.Reader
	idx     map[string]int
	log     logrus.FieldLogger
	line    int
	Skipped int
}

func NewMeasurementReader(rd io.Reader, log logrus.FieldLogger) (*MeasurementReader, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := csv.NewReader(bufio.NewReader(rd))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	rec, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("measurement header: %w", err)
	}
	idx := make(map[string]int, len(rec))
	for i, k := range rec {
		idx[k] = i
	}
	for _, k := range []string{"type", "t"} {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("measurement file is missing column %q", k)
		}
	}
	return &MeasurementReader{r: r, idx: idx, log: log, line: 1}, nil
}

var errBadRow = errors.New("bad measurement row")

// Next returns the next measurement that parses
func (mr *MeasurementReader) Next() (estimator.Measurement, error) {
	for {
		rec, err := mr.r.Read()
		mr.line++
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == nil {
			var m estimator.Measurement
			if m, err = mr.parse(rec); err == nil {
				return m, nil
			}
		}
		var pe *csv.ParseError
		if err != nil && !errors.Is(err, errBadRow) && !errors.As(err, &pe) {
			return nil, err
		}
		mr.Skipped++
		mr.log.WithError(err).WithField("line", mr.line).Warn("skipping measurement row")
	}
}

// ReadAll returns every remaining measurement
func (mr *MeasurementReader) ReadAll() ([]estimator.Measurement, error) {
	var out []estimator.Measurement
	for {
		m, err := mr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}

func (mr *MeasurementReader) parse(rec []string) (estimator.Measurement, error) {
	get := func(k string, required bool) (float64, error) {
		j, ok := mr.idx[k]
		if !ok || j >= len(rec) || rec[j] == "" {
			if required {
				return 0, fmt.Errorf("%w: missing %s", errBadRow, k)
			}
			return 0, nil
		}
		v, err := strconv.ParseFloat(rec[j], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", errBadRow, k, err)
		}
		return v, nil
	}
	vec := func(keys ...string) (out [3]float64, err error) {
		for i, k := range keys {
			if out[i], err = get(k, true); err != nil {
				return
			}
		}
		return
	}

	t, err := get("t", true)
	if err != nil {
		return nil, err
	}
	j := mr.idx["type"]
	if j >= len(rec) {
		return nil, fmt.Errorf("%w: missing type", errBadRow)
	}
	switch typ := rec[j]; typ {
	case typeInertial:
		m := estimator.InertialSample{T: t}
		if m.Accel, err = vec("ax", "ay", "az"); err != nil {
			return nil, err
		}
		if m.Gyro, err = vec("gx", "gy", "gz"); err != nil {
			return nil, err
		}
		return m, nil
	case typePosition:
		m := estimator.PositionSample{T: t}
		if m.Position, err = vec("px", "py", "pz"); err != nil {
			return nil, err
		}
		if m.HDOP, err = get("hdop", false); err != nil {
			return nil, err
		}
		if m.Accuracy, err = get("accuracy", false); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errBadRow, typ)
	}
}
