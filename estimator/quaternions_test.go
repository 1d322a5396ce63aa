package estimator

import (
	"fmt"
	"math"
	"testing"
)

func TestRoundTrips(t *testing.T) {
	rolls := []float64{0, 0.1, 0.2, 0.5, 1, 1.5, 2, 2.5, 3, -3, -2, -1, -0.5, -0.2}
	pitches := []float64{0.1, 0.2, 0.5, 1, 1.5, -1.5, -0.5, -0.2, 0.2, 0.1, -1, -0.5, -0.2, 0}
	yaws := []float64{1, 1.5, 2, 2.5, 3, -3, 0.1, 0.2, 0.5, -1, -0.5, 3.1, -2, 0}

	for i := 0; i < len(rolls); i++ {
		roll, pitch, yaw := rolls[i], pitches[i], yaws[i]
		rollOut, pitchOut, yawOut := FromQuaternion(ToQuaternion(roll, pitch, yaw))
		if math.Abs(roll-rollOut) > 1e-6 || math.Abs(pitch-pitchOut) > 1e-6 || math.Abs(yaw-yawOut) > 1e-6 {
			fmt.Printf("%+5.3f -> %+5.3f, %+5.3f -> %+5.3f, %+5.3f -> %+5.3f\n",
				roll, rollOut, pitch, pitchOut, yaw, yawOut)
			t.Fail()
		}
	}
}

func TestRotateSpecific(t *testing.T) {
	const c30 = 0.8660254037844386

	// body x axis into the world frame
	rolls := []float64{0, 0, 0, 0, Pi / 2, 0}
	pitches := []float64{0, 0, 0, Pi / 6, 0, -Pi / 6}
	yaws := []float64{0, Pi / 2, Pi, 0, 0, Pi / 2}
	xs := [][3]float64{
		{1, 0, 0},
		{0, 1, 0},
		{-1, 0, 0},
		{c30, 0, -0.5},
		{1, 0, 0},
		{0, c30, 0.5},
	}

	for i := range rolls {
		q := ToQuaternion(rolls[i], pitches[i], yaws[i])
		got := Rotate(q, [3]float64{1, 0, 0})
		for j := 0; j < 3; j++ {
			if math.Abs(got[j]-xs[i][j]) > 1e-9 {
				t.Errorf("case %d: body x rotated to %v, want %v", i, got, xs[i])
				break
			}
		}
		back := RotateInverse(q, got)
		if math.Abs(back[0]-1) > 1e-9 || math.Abs(back[1]) > 1e-9 || math.Abs(back[2]) > 1e-9 {
			t.Errorf("case %d: inverse rotation gave %v", i, back)
		}
	}
}

func TestRollMovesBodyYUp(t *testing.T) {
	// a right-hand roll about the nose lifts the left (y) axis
	q := ToQuaternion(Pi/2, 0, 0)
	got := Rotate(q, [3]float64{0, 1, 0})
	if math.Abs(got[2]-1) > 1e-9 {
		t.Errorf("body y rotated to %v, want +z", got)
	}
}

func TestQuaternionIsUnit(t *testing.T) {
	for _, a := range []float64{-3, -1, 0, 0.3, 2.9} {
		q := ToQuaternion(a, a/3, -a)
		if math.Abs(q.Norm()-1) > 1e-12 {
			t.Errorf("quaternion for %g has norm %g", a, q.Norm())
		}
	}
}

func TestWrapAngle(t *testing.T) {
	ins := []float64{0, Pi, -Pi, -3 * Pi / 2, 7, -7, 2 * Pi}
	outs := []float64{0, Pi, Pi, Pi / 2, 7 - 2*Pi, -7 + 2*Pi, 0}
	for i := range ins {
		if got := WrapAngle(ins[i]); math.Abs(got-outs[i]) > 1e-12 {
			t.Errorf("WrapAngle(%g) = %g, want %g", ins[i], got, outs[i])
		}
	}
}
