package linsolve

import (
	"errors"
	"fmt"

	"github.com/notargets/goadjoint/utils"
)

var (
	ErrSingularPreconditioner = errors.New("singular preconditioner")
	ErrNonFinite              = errors.New("non-finite value in Krylov iteration")
	ErrDimension              = errors.New("dimension mismatch")
)

// Operator is a square linear operator known only through its action.
type Operator interface {
	Dim() int
	Apply(dst, x []float64) error
}

// Preconditioner approximately solves M dst = b.
type Preconditioner interface {
	Solve(dst, b []float64) error
}

// OperatorFunc adapts a closure to Operator.
type OperatorFunc struct {
	N  int
	Fn func(dst, x []float64) error
}

func (o OperatorFunc) Dim() int                     { return o.N }
func (o OperatorFunc) Apply(dst, x []float64) error { return o.Fn(dst, x) }

// CSROperator applies an assembled sparse matrix.
type CSROperator struct {
	A utils.CSR
}

func NewCSROperator(A utils.CSR) (op CSROperator, err error) {
	nr, nc := A.Dims()
	if nr != nc {
		err = fmt.Errorf("%w: operator matrix %q is %dx%d", ErrDimension, A.Name(), nr, nc)
		return
	}
	return CSROperator{A: A}, nil
}

func (o CSROperator) Dim() int {
	n, _ := o.A.Dims()
	return n
}

func (o CSROperator) Apply(dst, x []float64) error {
	o.A.MulVec(dst, x)
	return nil
}

// RowScaled applies diag(Scale) * Op.
type RowScaled struct {
	Op    Operator
	Scale []float64
}

func (o RowScaled) Dim() int { return o.Op.Dim() }

func (o RowScaled) Apply(dst, x []float64) (err error) {
	if err = o.Op.Apply(dst, x); err != nil {
		return
	}
	for i := range dst {
		dst[i] *= o.Scale[i]
	}
	return
}

type Identity struct{}

func (Identity) Solve(dst, b []float64) error {
	copy(dst, b)
	return nil
}
