package sim

import (
	"fmt"
	"math"
	"sort"
)

// SituationSim defines a scenario by piecewise-linear velocity and yaw; position
// is integrated exactly, so acceleration is piecewise constant
type SituationSim struct {
	t          []float64 // times for situation, s
	v1, v2, v3 []float64 // velocity, m/s, east/north/up
	psi        []float64 // yaw, rad
	p0         [3]float64
	p          [][3]float64 // position at each knot
}

// NewSituationSim builds a scenario from knot tables. All tables must have the
// same length of at least 2 and t must be strictly increasing.
func NewSituationSim(start [3]float64, t, v1, v2, v3, psi []float64) (*SituationSim, error) {
	n := len(t)
	if n < 2 || len(v1) != n || len(v2) != n || len(v3) != n || len(psi) != n {
		return nil, fmt.Errorf("scenario tables must share a length of at least 2")
	}
	for i := 1; i < n; i++ {
		if !(t[i] > t[i-1]) {
			return nil, fmt.Errorf("scenario times must increase, got %g after %g", t[i], t[i-1])
		}
	}

	s := &SituationSim{t: t, v1: v1, v2: v2, v3: v3, psi: psi, p0: start}
	s.p = make([][3]float64, n)
	s.p[0] = start
	for i := 1; i < n; i++ {
		ddt := t[i] - t[i-1]
		s.p[i] = [3]float64{
			s.p[i-1][0] + 0.5*(v1[i-1]+v1[i])*ddt,
			s.p[i-1][1] + 0.5*(v2[i-1]+v2[i])*ddt,
			s.p[i-1][2] + 0.5*(v3[i-1]+v3[i])*ddt,
		}
	}
	return s, nil
}

// BeginTime returns the time stamp when the simulation begins
func (s *SituationSim) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time stamp when the simulation ends
func (s *SituationSim) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Truth interpolates the true state at time t
func (s *SituationSim) Truth(t float64) (st Truth, err error) {
	if t < s.t[0] || t > s.t[len(s.t)-1] {
		return st, ErrOutsideScenario
	}
	ix := 0
	if t > s.t[0] {
		ix = sort.SearchFloat64s(s.t, t) - 1
	}

	ddt := s.t[ix+1] - s.t[ix]
	tau := t - s.t[ix]
	v0 := [3]float64{s.v1[ix], s.v2[ix], s.v3[ix]}
	v1 := [3]float64{s.v1[ix+1], s.v2[ix+1], s.v3[ix+1]}

	st.T = t
	for i := 0; i < 3; i++ {
		a := (v1[i] - v0[i]) / ddt
		st.Acceleration[i] = a
		st.Velocity[i] = v0[i] + a*tau
		st.Position[i] = s.p[ix][i] + v0[i]*tau + 0.5*a*tau*tau
	}
	st.YawRate = (s.psi[ix+1] - s.psi[ix]) / ddt
	st.Yaw = s.psi[ix] + st.YawRate*tau
	return st, nil
}

// NewSituationHover holds position at altitude for duration seconds
func NewSituationHover(duration, altitude float64) *SituationSim {
	s, _ := NewSituationSim([3]float64{0, 0, altitude},
		[]float64{0, duration},
		[]float64{0, 0}, []float64{0, 0}, []float64{0, 0},
		[]float64{0, 0})
	return s
}

// NewSituationBox flies a square of the given side at speed and altitude,
// turning to face each leg during a one-second hover at each corner
func NewSituationBox(side, speed, altitude float64) *SituationSim {
	const ramp = 1.0
	cruise := math.Max(side/speed-ramp, 0)

	t := []float64{0, 2}
	v1 := []float64{0, 0}
	v2 := []float64{0, 0}
	v3 := []float64{0, 0}
	psi := []float64{0, 0}

	dirs := [][2]float64{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	yaw := 0.0
	for _, d := range dirs {
		now := t[len(t)-1]
		target := math.Atan2(d[1], d[0])
		for target-yaw > math.Pi {
			target -= 2 * math.Pi
		}
		for target-yaw < -math.Pi {
			target += 2 * math.Pi
		}
		yaw = target

		// turn, accelerate, cruise, decelerate
		for _, k := range []struct{ dt, v float64 }{
			{ramp, 0},
			{ramp, speed},
			{cruise, speed},
			{ramp, 0},
		} {
			if k.dt == 0 {
				continue
			}
			now += k.dt
			t = append(t, now)
			v1 = append(v1, d[0]*k.v)
			v2 = append(v2, d[1]*k.v)
			v3 = append(v3, 0)
			psi = append(psi, yaw)
		}
	}
	t = append(t, t[len(t)-1]+2)
	v1 = append(v1, 0)
	v2 = append(v2, 0)
	v3 = append(v3, 0)
	psi = append(psi, yaw)

	s, _ := NewSituationSim([3]float64{0, 0, altitude}, t, v1, v2, v3, psi)
	return s
}

// Scenario returns a built-in scenario by name
func Scenario(name string, duration float64) (Situation, error) {
	switch name {
	case "hover":
		return NewSituationHover(duration, 10), nil
	case "box":
		return NewSituationBox(20, 4, 10), nil
	}
	return nil, fmt.Errorf("unknown scenario %q", name)
}
