package estimator

import (
	"math"

	"github.com/skelterjohn/go.matrix"
)

// numericJacobian computes the central difference Jacobian of f at x.
// Output components listed in angles are differenced modulo 2π.
func numericJacobian(f func([]float64) []float64, x []float64, angles ...int) *matrix.DenseMatrix {
	y0 := f(x)
	jac := matrix.Zeros(len(y0), len(x))
	xx := make([]float64, len(x))
	copy(xx, x)

	for j := range x {
		h := 1e-6 * math.Max(1, math.Abs(x[j]))
		xx[j] = x[j] + h
		yp := f(xx)
		xx[j] = x[j] - h
		ym := f(xx)
		xx[j] = x[j]

		for i := range y0 {
			d := yp[i] - ym[i]
			for _, a := range angles {
				if a == i {
					d = WrapAngle(d)
				}
			}
			jac.Set(i, j, d/(2*h))
		}
	}
	return jac
}
