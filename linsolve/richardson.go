package linsolve

import (
	"fmt"

	"github.com/notargets/goadjoint/utils"
	"gonum.org/v1/gonum/floats"
)

type MLRLevel struct {
	Matrix utils.CSR
	Iters  int     // Richardson sweeps at this level, ignored on the innermost level
	Omega  float64 // relaxation, 1 when zero
}

/*
MultiLevelRichardson approximates the inverse of the outermost level matrix.
Levels are ordered from the innermost (lowest connectivity), which is
factored with ILU(0), outward. Each outer level runs Iters sweeps of

	x = x + omega * M_inner^-1 (b - P x)

with the next inner level as M_inner.
*/
type MultiLevelRichardson struct {
	Levels []MLRLevel
	inner  *ILU0
	r, z   [][]float64
}

func NewMultiLevelRichardson(levels []MLRLevel) (mlr *MultiLevelRichardson, err error) {
	if len(levels) == 0 {
		err = fmt.Errorf("multi-level Richardson needs at least one level")
		return
	}
	mlr = &MultiLevelRichardson{Levels: levels}
	if mlr.inner, err = NewILU0(levels[0].Matrix); err != nil {
		return
	}
	n, _ := levels[0].Matrix.Dims()
	for l, lev := range levels {
		nr, nc := lev.Matrix.Dims()
		if nr != n || nc != n {
			err = fmt.Errorf("%w: level %d is %dx%d, innermost is %dx%d", ErrDimension, l, nr, nc, n, n)
			return
		}
		if l > 0 && lev.Iters < 1 {
			err = fmt.Errorf("level %d needs at least one Richardson sweep", l)
			return
		}
		mlr.r = append(mlr.r, make([]float64, n))
		mlr.z = append(mlr.z, make([]float64, n))
	}
	return
}

func (mlr *MultiLevelRichardson) Solve(dst, b []float64) error {
	return mlr.solveLevel(len(mlr.Levels)-1, dst, b)
}

func (mlr *MultiLevelRichardson) solveLevel(l int, x, b []float64) (err error) {
	if l == 0 {
		return mlr.inner.Solve(x, b)
	}
	var (
		lev   = mlr.Levels[l]
		r, z  = mlr.r[l], mlr.z[l]
		omega = lev.Omega
	)
	if omega == 0 {
		omega = 1
	}
	for i := range x {
		x[i] = 0
	}
	for it := 0; it < lev.Iters; it++ {
		lev.Matrix.MulVec(r, x)
		floats.SubTo(r, b, r)
		if err = mlr.solveLevel(l-1, z, r); err != nil {
			return
		}
		floats.AddScaled(x, omega, z)
	}
	return
}
