package estimator

import (
	"fmt"
	"math"

	"github.com/skelterjohn/go.matrix"
	"gonum.org/v1/gonum/mat"
)

const (
	symmetryTol = 1e-9 // relative asymmetry tolerated in a supplied covariance
	psdTol      = 1e-9 // relative negative eigenvalue tolerated in a supplied covariance
	maxCond     = 1e12 // innovation covariance condition number above which S is singular
)

// symmetrize replaces p with (p + pᵀ)/2 in place and clamps negative or NaN
// diagonals to Small. It reports whether anything was clamped.
func symmetrize(p *matrix.DenseMatrix) (clamped bool) {
	n := p.Rows()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := 0.5 * (p.Get(i, j) + p.Get(j, i))
			p.Set(i, j, v)
			p.Set(j, i, v)
		}
		if d := p.Get(i, i); !(d >= 0) {
			p.Set(i, i, Small)
			clamped = true
		}
	}
	return
}

func toSym(p *matrix.DenseMatrix) *mat.SymDense {
	n := p.Rows()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, p.Get(i, j))
		}
	}
	return s
}

func fromSym(s *mat.SymDense) *matrix.DenseMatrix {
	n := s.SymmetricDim()
	p := matrix.Zeros(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p.Set(i, j, s.At(i, j))
		}
	}
	return p
}

// covarianceFromRows validates a caller-supplied n×n covariance and returns it as a matrix
func covarianceFromRows(cov [][]float64, n int) (*matrix.DenseMatrix, error) {
	if len(cov) != n {
		return nil, fmt.Errorf("%w: covariance has %d rows, want %d", ErrInvalidDimension, len(cov), n)
	}
	p := matrix.Zeros(n, n)
	for i, row := range cov {
		if len(row) != n {
			return nil, fmt.Errorf("%w: covariance row %d has %d columns, want %d", ErrInvalidDimension, i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite entry at (%d, %d)", ErrNonPositiveSemiDefinite, i, j)
			}
			p.Set(i, j, v)
		}
	}
	if err := checkPSD(p); err != nil {
		return nil, err
	}
	return p, nil
}

// checkPSD verifies p is symmetric and has no eigenvalue meaningfully below zero
func checkPSD(p *matrix.DenseMatrix) error {
	n := p.Rows()
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(p.Get(i, i)))
	}
	scale = math.Max(scale, 1)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(p.Get(i, j)-p.Get(j, i)) > symmetryTol*scale {
				return fmt.Errorf("%w: asymmetric at (%d, %d)", ErrNonPositiveSemiDefinite, i, j)
			}
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(toSym(p), false); !ok {
		return fmt.Errorf("%w: eigendecomposition failed", ErrNonPositiveSemiDefinite)
	}
	for i, v := range es.Values(nil) {
		if v < -psdTol*scale {
			return fmt.Errorf("%w: eigenvalue %d is %g", ErrNonPositiveSemiDefinite, i, v)
		}
	}
	return nil
}

// innovationInverse inverts the innovation covariance through its Cholesky factor.
// S must be positive definite and reasonably conditioned.
func innovationInverse(s *matrix.DenseMatrix) (*matrix.DenseMatrix, error) {
	var ch mat.Cholesky
	if ok := ch.Factorize(toSym(s)); !ok {
		return nil, fmt.Errorf("%w: not positive definite", ErrSingularInnovationCovariance)
	}
	if c := ch.Cond(); c > maxCond || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: condition number %g", ErrSingularInnovationCovariance, c)
	}
	var inv mat.SymDense
	if err := ch.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularInnovationCovariance, err)
	}
	return fromSym(&inv), nil
}

// resetBlock zeroes the rows and columns of p from i to i+k-1 and restores
// that diagonal block from p0
func resetBlock(p, p0 *matrix.DenseMatrix, i, k int) {
	n := p.Rows()
	for r := i; r < i+k; r++ {
		for c := 0; c < n; c++ {
			p.Set(r, c, 0)
			p.Set(c, r, 0)
		}
	}
	for r := i; r < i+k; r++ {
		for c := i; c < i+k; c++ {
			p.Set(r, c, p0.Get(r, c))
		}
	}
}

func rows(p *matrix.DenseMatrix) [][]float64 {
	n, m := p.Rows(), p.Cols()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, m)
		for j := range out[i] {
			out[i][j] = p.Get(i, j)
		}
	}
	return out
}
