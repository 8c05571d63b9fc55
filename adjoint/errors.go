package adjoint

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownObjective = errors.New("unknown objective function")
	ErrUnknownDesignVar = errors.New("unknown design variable")
	ErrUnknownModel     = errors.New("unknown solver")
	ErrLength           = errors.New("vector length mismatch")
	ErrState            = errors.New("operation not valid in the current solver state")
	ErrNumericalInvalid = errors.New("numerically invalid state")
	ErrDiverged         = errors.New("primal diverged")
	ErrADFDMismatch     = errors.New("AD and FD partials disagree")
)

// FailureError reports a hard failure after the mesh and state were dumped
// to Dir for postmortem.
type FailureError struct {
	Dir string
	Err error
}

func (fe *FailureError) Error() string {
	return fmt.Sprintf("%v (state written to %s)", fe.Err, fe.Dir)
}

func (fe *FailureError) Unwrap() error { return fe.Err }

type SolverState uint8

const (
	Uninitialized SolverState = iota
	PrimalConverged
	JacobianBuilt
	AdjointSolved
	DerivativesAssembled
)

func (s SolverState) String() string {
	return [...]string{"Uninitialized", "PrimalConverged", "JacobianBuilt", "AdjointSolved", "DerivativesAssembled"}[s]
}

func checkLen(what string, v []float64, n int) error {
	if len(v) != n {
		return fmt.Errorf("%w: %s has %d entries, expected %d", ErrLength, what, len(v), n)
	}
	return nil
}
