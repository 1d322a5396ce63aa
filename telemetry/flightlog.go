package telemetry

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/BradleyConlin/northstrike-training/estimator"
)

// FlightLogMode says how local positions were recovered from a flight log
type FlightLogMode string

const (
	ModeLocalColumns  FlightLogMode = "local_xy_columns"
	ModeGeodetic      FlightLogMode = "geodetic"
	ModeIntegratedVel FlightLogMode = "integrated_vn_ve"
)

const (
	earthRadius        = 6378137.0 // m
	geodeticSpanThresh = 1e-6      // deg, about 0.1 m
)

// GeodeticToLocal projects lat/lon onto a local east/north plane about lat0/lon0
func GeodeticToLocal(lat0, lon0, lat, lon float64) (x, y float64) {
	dlat := (lat - lat0) * math.Pi / 180
	dlon := (lon - lon0) * math.Pi / 180
	x = earthRadius * dlon * math.Cos((lat+lat0)/2*math.Pi/180)
	y = earthRadius * dlat
	return
}

// ReadFlightLog converts a recorded telemetry log (t, lat, lon, rel_alt_m, vn,
// ve, vd; or local x_m, y_m) into position fixes. Local columns are preferred;
// otherwise lat/lon are projected if they move, and if they do not the east and
// north velocities are integrated.
func ReadFlightLog(rd io.Reader) ([]estimator.PositionSample, FlightLogMode, error) {
	r := csv.NewReader(bufio.NewReader(rd))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, "", fmt.Errorf("read flight log: %w", err)
	}
	if len(recs) < 2 {
		return nil, "", fmt.Errorf("flight log has no rows")
	}
	idx := make(map[string]int)
	for i, k := range recs[0] {
		idx[k] = i
	}
	rows := recs[1:]
	num := func(rec []string, k string) float64 {
		j, ok := idx[k]
		if !ok || j >= len(rec) {
			return 0
		}
		v, err := strconv.ParseFloat(rec[j], 64)
		if err != nil {
			return 0
		}
		return v
	}

	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, rec := range rows {
		lat, lon := num(rec, "lat"), num(rec, "lon")
		minLat, maxLat = math.Min(minLat, lat), math.Max(maxLat, lat)
		minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
	}

	_, hasX := idx["x_m"]
	_, hasY := idx["y_m"]
	var mode FlightLogMode
	switch {
	case hasX && hasY:
		mode = ModeLocalColumns
	case maxLat-minLat > geodeticSpanThresh || maxLon-minLon > geodeticSpanThresh:
		mode = ModeGeodetic
	default:
		mode = ModeIntegratedVel
	}

	lat0, lon0 := num(rows[0], "lat"), num(rows[0], "lon")
	tPrev := num(rows[0], "t")
	var x, y float64
	out := make([]estimator.PositionSample, 0, len(rows))
	for _, rec := range rows {
		t := num(rec, "t")
		switch mode {
		case ModeLocalColumns:
			x, y = num(rec, "x_m"), num(rec, "y_m")
		case ModeGeodetic:
			x, y = GeodeticToLocal(lat0, lon0, num(rec, "lat"), num(rec, "lon"))
		case ModeIntegratedVel:
			dt := math.Max(1e-3, t-tPrev)
			x += num(rec, "ve") * dt
			y += num(rec, "vn") * dt
		}
		tPrev = t
		out = append(out, estimator.PositionSample{
			T:        t,
			Position: [3]float64{x, y, num(rec, "rel_alt_m")},
			HDOP:     num(rec, "hdop"),
		})
	}
	return out, mode, nil
}
