package adjoint

import (
	"errors"
	"fmt"

	"github.com/notargets/goadjoint/timeinstance"
	"github.com/notargets/goadjoint/types"
	"gonum.org/v1/gonum/mat"
)

func (s *Solver) instances() (*timeinstance.Manager, error) {
	if s.TimeInstances == nil {
		return nil, fmt.Errorf("%w: time instances need unsteadyAdjoint.mode hybrid or timeAccurate", ErrState)
	}
	return s.TimeInstances, nil
}

/*
SetTimeInstanceField writes instance i back into the live fields: state,
boundary values, time and time index. Residuals evaluated afterwards see the
instance's time level, and for time accurate runs the previous instance as the
old time level.
*/
func (s *Solver) SetTimeInstanceField(i int) (err error) {
	var (
		a    = s.Model.Adapter()
		fs   = a.Fields
		inst timeinstance.Instance
	)
	if _, err = s.instances(); err != nil {
		return
	}
	if inst, err = s.setInstanceContext(i); err != nil {
		return
	}
	if err = a.StateVecToField(inst.State); err != nil {
		return
	}
	if err = a.SetBoundaryStateVec(inst.StateBoundary); err != nil {
		return
	}
	fs.Time, fs.TimeIndex = inst.Time, inst.TimeIndex
	fs.DeltaT, fs.OldState = s.ctx.deltaT, s.ctx.wOld
	return
}

/*
ResumePrimal reloads the time instances of an earlier unsteady primal from the
instance store in place of marching again. The mesh must be the one the
instances were computed on. The last instance becomes the live solution and
the solver is ready for SolveAdjoint.
*/
func (s *Solver) ResumePrimal() (err error) {
	var tm *timeinstance.Manager
	if tm, err = s.instances(); err != nil {
		return
	}
	s.State = Uninitialized
	s.totals = make(map[string]map[string][]float64)
	if err = tm.Load(); err != nil {
		return
	}
	if _, err = tm.Initial(); err != nil && s.Unsteady == types.TimeAccurate {
		return fmt.Errorf("time accurate resume needs the stored initial state: %w", err)
	}
	if err = s.SetTimeInstanceField(tm.N() - 1); err != nil {
		return fmt.Errorf("%w: restoring the stored instances: %v", ErrLength, err)
	}
	s.ctx = s.liveContext()
	s.State = PrimalConverged
	return
}

// GetTimeInstanceObjFunc returns objective name as saved at instance i.
func (s *Solver) GetTimeInstanceObjFunc(i int, name string) (val float64, err error) {
	var tm *timeinstance.Manager
	if tm, err = s.instances(); err != nil {
		return
	}
	if _, err = s.objFunc(name); err != nil {
		return
	}
	return tm.Objective(i, name)
}

/*
SetTimeInstanceVar moves every instance between the arena and column per
instance matrices. "list2Mat" fills state, stateBC, times and timeIdx, which
must be sized nStates x n, nBoundary x n, n and n. "mat2List" replaces the
instances from them.
*/
func (s *Solver) SetTimeInstanceVar(mode string, state, stateBC *mat.Dense, times, timeIdx []float64) (err error) {
	var tm *timeinstance.Manager
	if tm, err = s.instances(); err != nil {
		return
	}
	if state == nil || stateBC == nil {
		return fmt.Errorf("%w: setTimeInstanceVar needs both the state and the boundary state matrix", ErrLength)
	}
	switch mode {
	case "list2Mat":
		var (
			st, bc *mat.Dense
			tt, ti []float64
		)
		if st, bc, tt, ti, err = tm.ToMatrices(); err != nil {
			return
		}
		for _, pair := range [][2]*mat.Dense{{state, st}, {stateBC, bc}} {
			dr, dc := pair[0].Dims()
			sr, sc := pair[1].Dims()
			if dr != sr || dc != sc {
				return fmt.Errorf("%w: matrix is %dx%d, time instances need %dx%d", ErrLength, dr, dc, sr, sc)
			}
			pair[0].Copy(pair[1])
		}
		if len(times) != len(tt) || len(timeIdx) != len(ti) {
			return fmt.Errorf("%w: have %d times and %d indices for %d instances", ErrLength, len(times), len(timeIdx), len(tt))
		}
		copy(times, tt)
		copy(timeIdx, ti)
	case "mat2List":
		if err = tm.FromMatrices(state, stateBC, times, timeIdx); errors.Is(err, timeinstance.ErrShape) {
			err = fmt.Errorf("%w: %v", ErrLength, err)
		}
	default:
		err = fmt.Errorf("unknown setTimeInstanceVar mode %q, have list2Mat and mat2List", mode)
	}
	return
}
