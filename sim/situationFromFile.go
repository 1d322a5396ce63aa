package sim

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

// SituationFromFile replays a recorded reference trajectory.
// Columns are matched by header name; t, x, y and z are required while vx, vy,
// vz and yaw default to zero. Rows that do not parse are skipped.
type SituationFromFile struct {
	t          []float64
	x, y, z    []float64
	vx, vy, vz []float64
	yaw        []float64
}

var trajectoryColumns = []string{"t", "x", "y", "z", "vx", "vy", "vz", "yaw"}

// NewSituationFromFile loads a reference trajectory CSV from fn
func NewSituationFromFile(fn string) (*SituationFromFile, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewSituationFromReader(f)
}

// NewSituationFromReader loads a reference trajectory CSV
func NewSituationFromReader(rd io.Reader) (*SituationFromFile, error) {
	r := csv.NewReader(bufio.NewReader(rd))
	r.FieldsPerRecord = -1

	// Read header line
	rec, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("trajectory header: %w", err)
	}
	idx := make(map[string]int)
	for i, k := range rec {
		idx[k] = i
	}
	for _, k := range trajectoryColumns[:4] {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("trajectory is missing column %q", k)
		}
	}

	sit := new(SituationFromFile)
	cols := []*[]float64{&sit.t, &sit.x, &sit.y, &sit.z, &sit.vx, &sit.vy, &sit.vz, &sit.yaw}
	line := 1
	for {
		rec, err = r.Read()
		line++
		if err == io.EOF {
			break
		} else if err != nil {
			logrus.WithError(err).WithField("line", line).Warn("trajectory: skipping row")
			continue
		}

		vals := make([]float64, len(trajectoryColumns))
		ok := true
		for i, k := range trajectoryColumns {
			j, present := idx[k]
			if !present {
				continue
			}
			if j >= len(rec) {
				ok = false
				break
			}
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			logrus.WithField("line", line).Warn("trajectory: skipping unparseable row")
			continue
		}
		for i, c := range cols {
			*c = append(*c, vals[i])
		}
	}

	if len(sit.t) < 2 {
		return nil, fmt.Errorf("trajectory needs at least 2 rows, got %d", len(sit.t))
	}
	if !sort.Float64sAreSorted(sit.t) {
		return nil, fmt.Errorf("trajectory times are not sorted")
	}
	return sit, nil
}

// BeginTime returns the time stamp when the recording begins
func (s *SituationFromFile) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time stamp when the recording ends
func (s *SituationFromFile) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Truth linearly interpolates the recording at time t.
// Acceleration is the slope of the recorded velocity between rows.
func (s *SituationFromFile) Truth(t float64) (st Truth, err error) {
	if t < s.t[0] || t > s.t[len(s.t)-1] {
		return st, ErrOutsideScenario
	}
	ix := sort.SearchFloat64s(s.t, t)
	if ix == 0 {
		ix = 1
	}
	ddt := s.t[ix] - s.t[ix-1]
	f := 0.0
	if ddt > 0 {
		f = (t - s.t[ix-1]) / ddt
	}
	lerp := func(a []float64) float64 { return a[ix-1] + f*(a[ix]-a[ix-1]) }

	st.T = t
	st.Position = [3]float64{lerp(s.x), lerp(s.y), lerp(s.z)}
	st.Velocity = [3]float64{lerp(s.vx), lerp(s.vy), lerp(s.vz)}
	dyaw := estimator.WrapAngle(s.yaw[ix] - s.yaw[ix-1])
	st.Yaw = estimator.WrapAngle(s.yaw[ix-1] + f*dyaw)
	if ddt > 0 {
		st.Acceleration = [3]float64{
			(s.vx[ix] - s.vx[ix-1]) / ddt,
			(s.vy[ix] - s.vy[ix-1]) / ddt,
			(s.vz[ix] - s.vz[ix-1]) / ddt,
		}
		st.YawRate = dyaw / ddt
	}
	return st, nil
}
