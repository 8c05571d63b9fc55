package linsolve

import (
	"errors"
	"testing"

	"github.com/notargets/goadjoint/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// convectionDiffusion1D returns a non-symmetric, diagonally dominant tridiagonal
// matrix and, optionally, only its diagonal.
func convectionDiffusion1D(n int, diagOnly bool) utils.CSR {
	A := utils.NewDOK(n, n)
	for i := 0; i < n; i++ {
		A.Set(i, i, 4)
		if diagOnly {
			continue
		}
		if i > 0 {
			A.Set(i, i-1, -2)
		}
		if i < n-1 {
			A.Set(i, i+1, -1)
		}
	}
	return A.ToCSR()
}

func denseSolve(t *testing.T, A utils.CSR, b []float64) []float64 {
	var x mat.VecDense
	require.NoError(t, x.SolveVec(mat.DenseCopyOf(A), mat.NewVecDense(len(b), b)))
	return x.RawVector().Data
}

func TestILU0(t *testing.T) {
	{ // Test ILU(0) of a tridiagonal matrix is the exact LU
		A := convectionDiffusion1D(8, false)
		ilu, err := NewILU0(A)
		require.NoError(t, err)
		b := []float64{1, 2, 3, 4, 5, 6, 7, 8}
		x := make([]float64, 8)
		require.NoError(t, ilu.Solve(x, b))
		assert.InDeltaSlice(t, denseSolve(t, A, b), x, 1e-12)
	}
	{ // Test a zero pivot is a diagnosable error
		A := utils.NewDOK(2, 2)
		A.Set(0, 0, 0)
		A.Set(0, 1, 1)
		A.Set(1, 0, 1)
		A.Set(1, 1, 1)
		_, err := NewILU0(A.ToCSR())
		assert.True(t, errors.Is(err, ErrSingularPreconditioner))
	}
	{ // Test a missing diagonal entry
		A := utils.NewDOK(2, 2)
		A.Set(0, 1, 1)
		A.Set(1, 1, 1)
		_, err := NewILU0(A.ToCSR())
		assert.True(t, errors.Is(err, ErrSingularPreconditioner))
	}
}

func TestFGMRES(t *testing.T) {
	var (
		n = 30
		A = convectionDiffusion1D(n, false)
		b = make([]float64, n)
	)
	for i := range b {
		b[i] = float64(i%7) - 3
	}
	exact := denseSolve(t, A, b)
	op, err := NewCSROperator(A)
	require.NoError(t, err)
	{ // Test unpreconditioned with restarts
		x := make([]float64, n)
		s := DefaultSettings()
		s.Restart = 5
		s.RelTol = 1e-12
		res, err := FGMRES(op, nil, b, x, s)
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.Equal(t, 0, res.Status())
		assert.InDeltaSlice(t, exact, x, 1e-9)
		assert.Equal(t, res.Iterations+1, len(res.History))
	}
	{ // Test ILU(0) makes the tridiagonal solve a single iteration
		ilu, err := NewILU0(A)
		require.NoError(t, err)
		x := make([]float64, n)
		res, err := FGMRES(op, ilu, b, x, DefaultSettings())
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.Equal(t, 1, res.Iterations)
		assert.InDeltaSlice(t, exact, x, 1e-9)
	}
	{ // Test multi-level Richardson around a diagonal inner level
		mlr, err := NewMultiLevelRichardson([]MLRLevel{
			{Matrix: convectionDiffusion1D(n, true)},
			{Matrix: A, Iters: 3, Omega: 1},
		})
		require.NoError(t, err)
		x := make([]float64, n)
		s := DefaultSettings()
		s.RelTol = 1e-10
		res, err := FGMRES(op, mlr, b, x, s)
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.InDeltaSlice(t, exact, x, 1e-8)
	}
	{ // Test a partitioned inner product reproduces the serial solve
		var (
			pm    = utils.NewPartitionMap(4, n)
			calls int
			x     = make([]float64, n)
			s     = DefaultSettings()
		)
		s.Restart, s.RelTol = 5, 1e-12
		s.Dot = func(a, b []float64) float64 {
			calls++
			return pm.Dot(a, b)
		}
		res, err := FGMRES(op, nil, b, x, s)
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.InDeltaSlice(t, exact, x, 1e-9)
		assert.Greater(t, calls, res.Iterations)
	}
	{ // Test the residual condition holds for a non-zero initial guess
		x := make([]float64, n)
		copy(x, exact)
		x[3] += 1
		s := DefaultSettings()
		s.RelTol = 1e-8
		res, err := FGMRES(op, nil, b, x, s)
		require.NoError(t, err)
		r := make([]float64, n)
		A.MulVec(r, x)
		floats.Sub(r, b)
		assert.LessOrEqual(t, floats.Norm(r, 2), 1e-8*res.InitialNorm*(1+1e-6))
	}
	{ // Test non-convergence is a status, not an error
		x := make([]float64, n)
		s := DefaultSettings()
		s.MaxIters = 2
		s.RelTol = 1e-14
		res, err := FGMRES(op, nil, b, x, s)
		require.NoError(t, err)
		assert.False(t, res.Converged)
		assert.Equal(t, 1, res.Status())
		assert.Equal(t, 2, res.Iterations)
	}
	{ // Test zero right hand side converges immediately
		x := make([]float64, n)
		res, err := FGMRES(op, nil, make([]float64, n), x, DefaultSettings())
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.Equal(t, 0, res.Iterations)
	}
	{ // Test dimension mismatch
		_, err := FGMRES(op, nil, b[:3], make([]float64, n), DefaultSettings())
		assert.True(t, errors.Is(err, ErrDimension))
	}
	{ // Test row scaling leaves the solution unchanged
		scale := make([]float64, n)
		sb := make([]float64, n)
		for i := range scale {
			scale[i] = 1 + float64(i%3)
			sb[i] = scale[i] * b[i]
		}
		x := make([]float64, n)
		s := DefaultSettings()
		s.RelTol = 1e-12
		_, err := FGMRES(RowScaled{Op: op, Scale: scale}, nil, sb, x, s)
		require.NoError(t, err)
		assert.InDeltaSlice(t, exact, x, 1e-9)
	}
}
