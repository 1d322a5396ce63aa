package estimator

import (
	"math"

	"github.com/westphae/quaternion"
)

// ToQuaternion calculates the rotation quaternion taking body to world frame
// corresponding to the Tait-Bryan angles roll, pitch, yaw (z-y-x order)
func ToQuaternion(roll, pitch, yaw float64) quaternion.Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return quaternion.Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// FromQuaternion calculates the Tait-Bryan angles roll, pitch, yaw corresponding to
// the quaternion. Yaw is in (-π, π].
func FromQuaternion(q quaternion.Quaternion) (roll, pitch, yaw float64) {
	q = q.Unit()
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	sp := 2 * (q.W*q.Y - q.Z*q.X)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	yaw = WrapAngle(math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z)))
	return
}

// Rotate takes a body-frame vector into the world frame
func Rotate(q quaternion.Quaternion, v [3]float64) [3]float64 {
	r := quaternion.Prod(q, quaternion.Quaternion{X: v[0], Y: v[1], Z: v[2]}, q.Conj())
	return [3]float64{r.X, r.Y, r.Z}
}

// RotateInverse takes a world-frame vector into the body frame
func RotateInverse(q quaternion.Quaternion, v [3]float64) [3]float64 {
	return Rotate(q.Conj(), v)
}

// WrapAngle maps an angle into (-π, π]
func WrapAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	a = math.Mod(a, 2*Pi)
	if a > Pi {
		a -= 2 * Pi
	} else if a <= -Pi {
		a += 2 * Pi
	}
	return a
}
