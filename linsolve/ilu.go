package linsolve

import (
	"fmt"
	"math"

	"github.com/notargets/goadjoint/utils"
)

/*
ILU0 is an incomplete LU factorization with the sparsity of the input matrix.
L is unit lower triangular and shares storage with U, both kept in CSR order.
*/
type ILU0 struct {
	n      int
	indptr []int
	ind    []int
	data   []float64
	diag   []int // position of the diagonal entry of each row
	work   []float64
}

func NewILU0(A utils.CSR) (ilu *ILU0, err error) {
	nr, nc := A.Dims()
	if nr != nc {
		err = fmt.Errorf("%w: ILU(0) of a %dx%d matrix", ErrDimension, nr, nc)
		return
	}
	raw := A.RawMatrix()
	ilu = &ILU0{
		n:      nr,
		indptr: append([]int{}, raw.Indptr...),
		ind:    append([]int{}, raw.Ind...),
		data:   append([]float64{}, raw.Data...),
		diag:   make([]int, nr),
		work:   make([]float64, nr),
	}
	for i := 0; i < nr; i++ {
		ilu.diag[i] = -1
		for k := ilu.indptr[i]; k < ilu.indptr[i+1]; k++ {
			if ilu.ind[k] == i {
				ilu.diag[i] = k
			}
		}
		if ilu.diag[i] < 0 {
			err = fmt.Errorf("%w: %q has no diagonal entry in row %d", ErrSingularPreconditioner, A.Name(), i)
			return
		}
	}
	iw := make([]int, nr)
	for j := range iw {
		iw[j] = -1
	}
	for i := 0; i < nr; i++ {
		b, e := ilu.indptr[i], ilu.indptr[i+1]
		for k := b; k < e; k++ {
			iw[ilu.ind[k]] = k
		}
		for k := b; k < e && ilu.ind[k] < i; k++ {
			kr := ilu.ind[k]
			pivot := ilu.data[ilu.diag[kr]]
			ilu.data[k] /= pivot
			for kk := ilu.diag[kr] + 1; kk < ilu.indptr[kr+1]; kk++ {
				if pos := iw[ilu.ind[kk]]; pos >= 0 {
					ilu.data[pos] -= ilu.data[k] * ilu.data[kk]
				}
			}
		}
		for k := b; k < e; k++ {
			iw[ilu.ind[k]] = -1
		}
		if d := ilu.data[ilu.diag[i]]; d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			err = fmt.Errorf("%w: %q has pivot %g in row %d", ErrSingularPreconditioner, A.Name(), d, i)
			return
		}
	}
	return
}

// Solve applies (LU)^-1 to b.
func (ilu *ILU0) Solve(dst, b []float64) error {
	if len(dst) != ilu.n || len(b) != ilu.n {
		return fmt.Errorf("%w: ILU(0) of order %d, len(dst) = %d, len(b) = %d", ErrDimension, ilu.n, len(dst), len(b))
	}
	y := ilu.work
	for i := 0; i < ilu.n; i++ {
		sum := b[i]
		for k := ilu.indptr[i]; k < ilu.diag[i]; k++ {
			sum -= ilu.data[k] * y[ilu.ind[k]]
		}
		y[i] = sum
	}
	for i := ilu.n - 1; i >= 0; i-- {
		sum := y[i]
		for k := ilu.diag[i] + 1; k < ilu.indptr[i+1]; k++ {
			sum -= ilu.data[k] * dst[ilu.ind[k]]
		}
		dst[i] = sum / ilu.data[ilu.diag[i]]
	}
	return nil
}
