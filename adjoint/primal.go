package adjoint

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/notargets/goadjoint/timeinstance"
	"github.com/notargets/goadjoint/types"
	"github.com/notargets/goadjoint/utils"
)

/*
SolvePrimal converges the primal from state w on mesh points xv. A nil xv
keeps the current mesh and a nil w starts from the model's initial state.

Status is 0 when the smallest residual seen is within
primalMinResTol*primalMinResTolDiff and 1 otherwise. Invalid meshes,
non-finite residuals, failed iterations and persistent divergence dump the
mesh and state and return a *FailureError.
*/
func (s *Solver) SolvePrimal(xv, w []float64) (status int, err error) {
	var (
		a  = s.Model.Adapter()
		fs = a.Fields
	)
	s.State = Uninitialized
	s.totals = make(map[string]map[string][]float64)
	if xv != nil {
		if err = checkLen("point vector", xv, 2*s.NPoints()); err != nil {
			return 1, err
		}
		if err = a.PointVecToMesh(xv); err != nil {
			return 1, err
		}
	}
	if w == nil {
		w = s.Model.InitialState()
	}
	if err = a.StateVecToField(w); err != nil {
		return 1, fmt.Errorf("%w: %v", ErrLength, err)
	}
	fs.Time, fs.TimeIndex, fs.DeltaT, fs.OldState = 0, 0, 0, nil
	if err = s.Model.CorrectBoundaryConditions(); err != nil {
		return 1, err
	}
	if !s.CheckMesh() {
		return 1, s.writeFailedMesh(fmt.Errorf("%w: mesh quality check failed", ErrNumericalInvalid))
	}
	switch s.Unsteady {
	case types.Steady:
		status, err = s.converge(s.IP.PrimalMaxIters, s.Verbose)
	default:
		status, err = s.march()
	}
	s.ctx = s.liveContext()
	if err == nil && status == 0 {
		s.State = PrimalConverged
	}
	return
}

/*
converge iterates the model until the residual drops below primalMinResTol.
It keeps the state with the smallest residual. When the residual grows for
maxDivergeIters consecutive iterations the best state is restored. Unless
that state is already within primalMinResTolDiff of the tolerance, it is
dumped and returned as a *FailureError, as is the last valid state when an
iteration fails.
*/
func (s *Solver) converge(maxIters int, verbose bool) (status int, err error) {
	var (
		ip        = s.IP
		a         = s.Model.Adapter()
		best      = a.StateVec()
		diverging int
	)
	s.primalMinRes = math.Inf(1)
	if verbose {
		fmt.Printf("%8s%14s\n", "Iter", "Residual")
	}
	for iter := 0; iter < maxIters; iter++ {
		var (
			before  = a.StateVec()
			resNorm float64
		)
		if resNorm, err = s.Model.Iterate(); err != nil {
			if rerr := a.StateVecToField(before); rerr != nil {
				return 1, rerr
			}
			return 1, s.writeFailedMesh(fmt.Errorf("%w: primal iteration %d: %v", ErrNumericalInvalid, iter, err))
		}
		s.Metrics.PrimalIterations.Inc()
		s.PrimalHistory = append(s.PrimalHistory, resNorm)
		if math.IsNaN(resNorm) || math.IsInf(resNorm, 0) {
			if err = a.StateVecToField(before); err != nil {
				return 1, err
			}
			return 1, s.writeFailedMesh(fmt.Errorf("%w: residual norm %g at primal iteration %d",
				ErrNumericalInvalid, resNorm, iter))
		}
		if verbose {
			fmt.Printf("%8d%14.4e\n", iter, resNorm)
		}
		if resNorm < s.primalMinRes {
			s.primalMinRes, best, diverging = resNorm, before, 0
		} else {
			diverging++
		}
		if resNorm < ip.PrimalMinResTol {
			break
		}
		if ip.MaxDivergeIters > 0 && diverging >= ip.MaxDivergeIters {
			fmt.Printf("primal diverged for %d iterations, restoring the state with residual %11.4e\n",
				diverging, s.primalMinRes)
			if err = a.StateVecToField(best); err != nil {
				return 1, err
			}
			if s.primalMinRes <= ip.PrimalMinResTol*ip.PrimalMinResTolDiff {
				// stalled at round-off
				break
			}
			return 1, s.writeFailedMesh(fmt.Errorf("%w: residual grew for %d iterations from %11.4e",
				ErrDiverged, diverging, s.primalMinRes))
		}
	}
	if err = s.Model.CorrectBoundaryConditions(); err != nil {
		return 1, err
	}
	var final float64
	s.ctx = s.liveContext()
	if final, err = s.residualNorm(a.StateVec(), s.LivePoints()); err != nil {
		return 1, err
	}
	if math.IsNaN(final) || math.IsInf(final, 0) {
		return 1, s.writeFailedMesh(fmt.Errorf("%w: final residual norm %g", ErrNumericalInvalid, final))
	}
	if k := utils.FirstNonFinite(a.StateVec()); k >= 0 {
		return 1, s.writeFailedMesh(fmt.Errorf("%w: state entry %d is not finite", ErrNumericalInvalid, k))
	}
	s.primalMinRes = math.Min(s.primalMinRes, final)
	switch {
	case s.primalMinRes <= ip.PrimalMinResTol:
		return 0, nil
	case s.primalMinRes <= ip.PrimalMinResTol*ip.PrimalMinResTolDiff:
		fmt.Printf("primal residual %11.4e missed primalMinResTol %11.4e but is within primalMinResTolDiff\n",
			s.primalMinRes, ip.PrimalMinResTol)
		return 0, nil
	}
	fmt.Printf("primal residual %11.4e failed to reach %11.4e\n", s.primalMinRes, ip.PrimalMinResTol*ip.PrimalMinResTolDiff)
	return 1, nil
}

// march steps an unsteady primal to endTime, converging every step and
// saving the time instances as their sample times are reached.
func (s *Solver) march() (status int, err error) {
	var (
		ua     = s.IP.UnsteadyAdjoint
		fs     = s.Model.Adapter().Fields
		tm     = s.TimeInstances
		nSteps = int(math.Round(ua.EndTime / ua.DeltaT))
		saved  int
		inst   timeinstance.Instance
	)
	if inst, err = s.snapshot(); err != nil {
		return 1, err
	}
	if err = tm.SaveInitial(inst); err != nil {
		return 1, err
	}
	for step := 0; step < nSteps; step++ {
		s.Model.StepTime(ua.DeltaT)
		var st int
		if st, err = s.converge(s.IP.PrimalMaxIters, false); err != nil {
			return 1, err
		}
		status = max(status, st)
		if s.Verbose {
			fmt.Printf("Time = %8.5f, residual %11.4e\n", fs.Time, s.primalMinRes)
		}
		if i := tm.InstanceAt(fs.Time, ua.EndTime, ua.DeltaT); i >= 0 {
			if inst, err = s.snapshot(); err != nil {
				return 1, err
			}
			if err = tm.Save(i, inst); err != nil {
				return 1, err
			}
			saved++
		}
	}
	if saved != tm.N() {
		err = fmt.Errorf("%w: saved %d of %d time instances, check endTime, deltaT and periodicity",
			timeinstance.ErrNotSaved, saved, tm.N())
		return 1, err
	}
	return
}

func (s *Solver) snapshot() (inst timeinstance.Instance, err error) {
	var (
		a  = s.Model.Adapter()
		fs = a.Fields
	)
	inst = timeinstance.Instance{
		State:         a.StateVec(),
		StateBoundary: a.BoundaryStateVec(),
		ObjFuncs:      make(map[string]float64),
		Time:          fs.Time,
		TimeIndex:     fs.TimeIndex,
	}
	ctx := s.ctx
	s.ctx = s.liveContext()
	defer func() { s.ctx = ctx }()
	for name, f := range s.ObjFuncs {
		val, err := s.evalObjective(f, s.inputs(inst.State, s.LivePoints()), false)
		if err != nil {
			return inst, err
		}
		inst.ObjFuncs[name] = val.V
	}
	return
}

// writeFailedMesh dumps the live mesh points and state under a fresh
// directory in failedDir and wraps cause in a FailureError.
func (s *Solver) writeFailedMesh(cause error) error {
	dir := filepath.Join(s.IP.FailedDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w (writing failed mesh: %v)", cause, err)
	}
	w := s.LiveState()
	for _, wr := range []struct {
		file string
		fn   func(string, []float64) error
		v    []float64
	}{
		{"points.bin", utils.WriteVectorBinary, s.LivePoints()},
		{"state.bin", utils.WriteVectorBinary, w},
		{"state.txt", utils.WriteVectorASCII, w},
	} {
		if err := wr.fn(filepath.Join(dir, wr.file), wr.v); err != nil {
			return fmt.Errorf("%w (writing failed mesh: %v)", cause, err)
		}
	}
	fmt.Printf("wrote failed mesh and state to %s\n", dir)
	return &FailureError{Dir: dir, Err: cause}
}
