package adjoint

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/notargets/goadjoint/linsolve"
	"github.com/notargets/goadjoint/timeinstance"
	"github.com/notargets/goadjoint/types"
	"github.com/notargets/goadjoint/utils"
)

func (s *Solver) gmresSettings() linsolve.Settings {
	opt := s.IP.AdjEqnOption
	return linsolve.Settings{
		RelTol:        opt.GMRESRelTol,
		AbsTol:        opt.GMRESAbsTol,
		MaxIters:      opt.GMRESMaxIters,
		Restart:       opt.GMRESRestart,
		PrintInterval: opt.PrintInterval,
		Dot:           s.pm.Dot,
	}
}

/*
SolveLinearEqn solves op psi = rhs with FGMRES preconditioned by pc. psi holds
the initial guess. With normalizeStates the rows of the operator and the
right hand side are scaled, which leaves psi unchanged. Status is 0 when the
tolerance was reached.
*/
func (s *Solver) SolveLinearEqn(op linsolve.Operator, pc linsolve.Preconditioner, rhs, psi []float64, label string) (status int, err error) {
	b := rhs
	if s.stateScale != nil {
		op = linsolve.RowScaled{Op: op, Scale: s.stateScale}
		b = make([]float64, len(rhs))
		for i := range b {
			b[i] = rhs[i] * s.stateScale[i]
		}
	}
	var res linsolve.Result
	if res, err = linsolve.FGMRES(op, pc, b, psi, s.gmresSettings()); err != nil {
		return 1, err
	}
	s.KrylovHistory[label] = res.History
	s.Metrics.KrylovIterations.Observe(float64(res.Iterations))
	s.Metrics.AdjointSolves.WithLabelValues(label, fmt.Sprint(res.Status())).Inc()
	if s.Verbose || !res.Converged {
		fmt.Printf("%s: %d iterations, residual %13.6e of %13.6e, converged = %v\n",
			label, res.Iterations, res.ResidualNorm, res.InitialNorm, res.Converged)
	}
	return res.Status(), nil
}

// operator builds the adjoint operator for the current point: matrix free by
// reverse sweeps, or the assembled FD transpose when useAD is fd.
func (s *Solver) operator(xv, w []float64) (op linsolve.Operator, release func(), err error) {
	if s.ADMode != types.AD_FD {
		return s.adjointOperator(xv, w)
	}
	var dRdWT utils.CSR
	if dRdWT, err = s.calcdRdWT(xv, w, exactLevel); err != nil {
		return
	}
	if op, err = linsolve.NewCSROperator(dRdWT); err != nil {
		return
	}
	return op, func() {}, nil
}

/*
solveAt solves (dR/dW)^T psi = rhs at one point. The previous psi seeds the
solve with useNonZeroInitGuess. A nil pc is built here and returned for
reuse.
*/
func (s *Solver) solveAt(xv, w, rhs, prev []float64, pc linsolve.Preconditioner, label string) (psi []float64, pcOut linsolve.Preconditioner, status int, err error) {
	if pc == nil {
		if pc, err = s.buildPreconditioner(xv, w); err != nil {
			return
		}
	}
	pcOut = pc
	s.State = JacobianBuilt
	var (
		op      linsolve.Operator
		release func()
	)
	if op, release, err = s.operator(xv, w); err != nil {
		return
	}
	defer release()
	psi = make([]float64, len(w))
	if s.IP.AdjEqnOption.UseNonZeroInitGuess && len(prev) == len(w) {
		copy(psi, prev)
	}
	status, err = s.SolveLinearEqn(op, pc, rhs, psi, label)
	s.NSolveAdjointCalls++
	return
}

/*
SolveAdjoint solves for one adjoint vector per objective at the converged
primal and assembles the total derivative of every objective with respect to
every design variable. Status is 0 when every linear solve converged.
*/
func (s *Solver) SolveAdjoint() (status int, err error) {
	if s.State < PrimalConverged {
		err = fmt.Errorf("%w: solveAdjoint needs a converged primal, state is %s", ErrState, s.State)
		return
	}
	if s.IP.ADFDCheck.Enabled {
		if err = s.checkADFD(); err != nil {
			return
		}
	}
	s.totals = make(map[string]map[string][]float64)
	for name := range s.ObjFuncs {
		s.totals[name] = make(map[string][]float64)
	}
	switch s.Unsteady {
	case types.Steady:
		status, err = s.solveSteady()
	case types.Hybrid:
		status, err = s.solveHybrid()
	case types.TimeAccurate:
		status, err = s.solveTimeAccurate()
	}
	if err != nil {
		return
	}
	s.State = DerivativesAssembled
	return
}

func (s *Solver) solveSteady() (status int, err error) {
	var (
		xv = s.LivePoints()
		w  = s.LiveState()
		pc linsolve.Preconditioner
	)
	s.ctx = s.liveContext()
	for _, name := range sortedKeys(s.ObjFuncs) {
		var (
			rhs, psi []float64
			st       int
		)
		if rhs, err = s.calcdFdW(xv, w, name); err != nil {
			return
		}
		if psi, pc, st, err = s.solveAt(xv, w, rhs, s.psi[name], pc, name); err != nil {
			return
		}
		status = max(status, st)
		s.psi[name] = psi
	}
	s.State = AdjointSolved
	for _, name := range sortedKeys(s.ObjFuncs) {
		for _, dvName := range sortedKeys(s.DesignVars) {
			if s.totals[name][dvName], err = s.partialTotal(name, s.DesignVars[dvName], xv, w, s.psi[name]); err != nil {
				return
			}
		}
	}
	return
}

// setInstanceContext evaluates residuals at instance i: its own state and
// time, and for time accurate runs the previous instance as old time level.
func (s *Solver) setInstanceContext(i int) (inst timeinstance.Instance, err error) {
	tm := s.TimeInstances
	if inst, err = tm.Restore(i); err != nil {
		return
	}
	s.ctx = evalContext{time: inst.Time}
	if s.Unsteady == types.TimeAccurate {
		var prev timeinstance.Instance
		if i == 0 {
			prev, err = tm.Initial()
		} else {
			prev, err = tm.Restore(i - 1)
		}
		if err != nil {
			return
		}
		s.ctx.wOld, s.ctx.deltaT = prev.State, s.IP.UnsteadyAdjoint.DeltaT
	}
	return
}

func scaled(v []float64, c float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = c * v[i]
	}
	return out
}

func (s *Solver) accumulate(name, dvName string, term []float64) {
	acc := s.totals[name][dvName]
	if acc == nil {
		s.totals[name][dvName] = term
		return
	}
	for i := range acc {
		acc[i] += term[i]
	}
}

/*
solveHybrid treats each instance as a steady state with the time coupling
frozen. The objective is the instance mean, so each instance solves for its
share of dF/dW and the totals are summed.
*/
func (s *Solver) solveHybrid() (status int, err error) {
	var (
		tm = s.TimeInstances
		n  = tm.N()
		xv = s.LivePoints()
	)
	defer func() { s.ctx = s.liveContext() }()
	for i := 0; i < n; i++ {
		var inst timeinstance.Instance
		if inst, err = s.setInstanceContext(i); err != nil {
			return
		}
		var pc linsolve.Preconditioner
		for _, name := range sortedKeys(s.ObjFuncs) {
			var (
				rhs, psi []float64
				st       int
			)
			if rhs, err = s.calcdFdW(xv, inst.State, name); err != nil {
				return
			}
			if psi, pc, st, err = s.solveAt(xv, inst.State, scaled(rhs, 1/float64(n)), s.instancePrev(name, i), pc,
				fmt.Sprintf("%s@%d", name, i)); err != nil {
				return
			}
			status = max(status, st)
			s.setInstancePsi(name, i, psi)
			for _, dvName := range sortedKeys(s.DesignVars) {
				var term []float64
				if term, err = s.instanceTerm(name, s.DesignVars[dvName], xv, inst.State, psi, n); err != nil {
					return
				}
				s.accumulate(name, dvName, term)
			}
		}
	}
	s.State = AdjointSolved
	return
}

/*
solveTimeAccurate marches the adjoint backward from the last instance. Each
step adds the coupling of the following step through its old time level:

	(dR_i/dW_i)^T psi_i = dF_i/dW_i / n - (dR_i+1/dW_i)^T psi_i+1

The preconditioner is rebuilt every adjPCLag instances.
*/
func (s *Solver) solveTimeAccurate() (status int, err error) {
	var (
		tm  = s.TimeInstances
		n   = tm.N()
		xv  = s.LivePoints()
		lag = max(s.IP.AdjPCLag, 1)
	)
	defer func() { s.ctx = s.liveContext() }()
	for _, name := range sortedKeys(s.ObjFuncs) {
		var (
			pc       linsolve.Preconditioner
			next     []float64 // psi of instance i+1
			nextInst timeinstance.Instance
		)
		for i := n - 1; i >= 0; i-- {
			var (
				inst     timeinstance.Instance
				rhs, psi []float64
				st       int
			)
			if (n-1-i)%lag == 0 {
				pc = nil
			}
			if i < n-1 {
				var coupling []float64
				if inst, err = tm.Restore(i); err != nil {
					return
				}
				if _, err = s.setInstanceContext(i + 1); err != nil {
					return
				}
				if coupling, err = s.CalcdRdWOldTPsiAD(xv, nextInst.State, inst.State, next); err != nil {
					return
				}
				if inst, err = s.setInstanceContext(i); err != nil {
					return
				}
				if rhs, err = s.calcdFdW(xv, inst.State, name); err != nil {
					return
				}
				for k := range rhs {
					rhs[k] = rhs[k]/float64(n) - coupling[k]
				}
			} else {
				if inst, err = s.setInstanceContext(i); err != nil {
					return
				}
				if rhs, err = s.calcdFdW(xv, inst.State, name); err != nil {
					return
				}
				rhs = scaled(rhs, 1/float64(n))
			}
			if psi, pc, st, err = s.solveAt(xv, inst.State, rhs, s.instancePrev(name, i), pc,
				fmt.Sprintf("%s@%d", name, i)); err != nil {
				return
			}
			status = max(status, st)
			s.setInstancePsi(name, i, psi)
			for _, dvName := range sortedKeys(s.DesignVars) {
				var term []float64
				if term, err = s.instanceTerm(name, s.DesignVars[dvName], xv, inst.State, psi, n); err != nil {
					return
				}
				s.accumulate(name, dvName, term)
			}
			next, nextInst = psi, inst
		}
	}
	s.State = AdjointSolved
	return
}

// instanceTerm is dF_i/dX / n - psi_i^T dR_i/dX.
func (s *Solver) instanceTerm(name string, dv DesignVar, xv, w, psi []float64, n int) (term []float64, err error) {
	// psi already carries the 1/n weight; the partial of F is scaled here
	var full, prod []float64
	if full, err = s.partialTotal(name, dv, xv, w, psi); err != nil {
		return
	}
	if prod, err = s.partialTotal(name, dv, xv, w, make([]float64, len(psi))); err != nil {
		return
	}
	term = make([]float64, len(full))
	for i := range term {
		// full = dF/dX - psi^T dR/dX, prod = dF/dX
		term[i] = prod[i]/float64(n) + (full[i] - prod[i])
	}
	return
}

func (s *Solver) instancePrev(name string, i int) []float64 {
	if ps := s.instancePsi[name]; i < len(ps) {
		return ps[i]
	}
	return nil
}

func (s *Solver) setInstancePsi(name string, i int, psi []float64) {
	if s.instancePsi[name] == nil {
		s.instancePsi[name] = make([][]float64, s.TimeInstances.N())
	}
	s.instancePsi[name][i] = psi
}

/*
checkADFD compares the AD and FD forms of dR/dW and of dR/dX for every design
variable at the live point. Mismatches beyond adFDCheck.tol are logged, or
returned as ErrADFDMismatch with hardFail.
*/
func (s *Solver) checkADFD() (err error) {
	var (
		chk    = s.IP.ADFDCheck
		xv, w  = s.LivePoints(), s.LiveState()
		report = func(what string, diff float64) error {
			if diff <= chk.Tol {
				if s.Verbose {
					fmt.Printf("AD/FD check %-20s relative difference %11.4e\n", what, diff)
				}
				return nil
			}
			fmt.Printf("***AD/FD check %-20s relative difference %11.4e exceeds %11.4e\n", what, diff, chk.Tol)
			if chk.HardFail {
				return fmt.Errorf("%w: %s differs by %g", ErrADFDMismatch, what, diff)
			}
			return nil
		}
	)
	if s.TimeInstances == nil {
		s.ctx = s.liveContext()
	} else {
		var inst timeinstance.Instance
		if inst, err = s.setInstanceContext(s.TimeInstances.N() - 1); err != nil {
			return
		}
		defer func() { s.ctx = s.liveContext() }()
		w = inst.State
	}
	adJ, err := s.calcdRdWTAD(xv, w, exactLevel)
	if err != nil {
		return
	}
	fdJ, err := s.calcdRdWT(xv, w, exactLevel)
	if err != nil {
		return
	}
	if err = report("dRdW", relativeDifference(adJ, fdJ)); err != nil {
		return
	}
	for _, dvName := range sortedKeys(s.DesignVars) {
		dv := s.DesignVars[dvName]
		adX, err := s.calcdRdXAD(dv, xv, w)
		if err != nil {
			return err
		}
		fdX, err := s.calcdRdX(dv, xv, w)
		if err != nil {
			return err
		}
		var (
			_, c = fdX.Dims()
			sums = make([]float64, 2)
		)
		s.pm.ReduceVec(sums, func(i int, acc []float64) {
			for j := 0; j < c; j++ {
				d := adX.At(i, j) - fdX.At(i, j)
				acc[0] += d * d
				acc[1] += fdX.At(i, j) * fdX.At(i, j)
			}
		})
		diff, den := sums[0], sums[1]
		if den > 0 {
			diff /= den
		}
		if err = report("dRd"+dvName, math.Sqrt(diff)); err != nil {
			return err
		}
	}
	return
}

// GetTotalDerivative returns dF/dX from the last SolveAdjoint.
func (s *Solver) GetTotalDerivative(objName, dvName string) (dFdX []float64, err error) {
	if _, err = s.objFunc(objName); err != nil {
		return
	}
	if _, err = s.designVar(dvName); err != nil {
		return
	}
	if s.State != DerivativesAssembled {
		err = fmt.Errorf("%w: total derivatives need solveAdjoint, state is %s", ErrState, s.State)
		return
	}
	return append([]float64{}, s.totals[objName][dvName]...), nil
}

// GetPsi returns the steady adjoint vector of an objective.
func (s *Solver) GetPsi(objName string) (psi []float64, err error) {
	if _, err = s.objFunc(objName); err != nil {
		return
	}
	var ok bool
	if psi, ok = s.psi[objName]; !ok {
		err = fmt.Errorf("%w: no adjoint solved for %s", ErrState, objName)
		return
	}
	return append([]float64{}, psi...), nil
}

// GetInstancePsi returns the adjoint vector of an objective at time instance i.
func (s *Solver) GetInstancePsi(objName string, i int) (psi []float64, err error) {
	if _, err = s.objFunc(objName); err != nil {
		return
	}
	if s.TimeInstances == nil {
		err = fmt.Errorf("%w: steady runs have no time instances", ErrState)
		return
	}
	if i < 0 || i >= s.TimeInstances.N() {
		err = fmt.Errorf("%w: %d not in [0,%d)", timeinstance.ErrInstanceRange, i, s.TimeInstances.N())
		return
	}
	if psi = s.instancePrev(objName, i); psi == nil {
		err = fmt.Errorf("%w: no adjoint solved for %s at instance %d", ErrState, objName, i)
		return
	}
	return append([]float64{}, psi...), nil
}

func (s *Solver) PrintTotalDerivatives() {
	for _, name := range sortedKeys(s.totals) {
		for _, dvName := range sortedKeys(s.totals[name]) {
			fmt.Printf("d%s/d%s = %v\n", name, dvName, s.totals[name][dvName])
		}
	}
}

// WriteMatrices writes dR/dW^T, the preconditioner matrix and the adjoint
// vectors at the live point into dir, binary and ASCII.
func (s *Solver) WriteMatrices(dir string) (err error) {
	var (
		xv, w = s.LivePoints(), s.LiveState()
		write = func(name string, A utils.CSR) error {
			if err := utils.WriteMatrixBinary(filepath.Join(dir, name+".bin"), A); err != nil {
				return err
			}
			return utils.WriteMatrixASCII(filepath.Join(dir, name+".txt"), A)
		}
	)
	s.ctx = s.liveContext()
	var dRdWT, P utils.CSR
	if dRdWT, err = s.calcdRdWT(xv, w, exactLevel); err != nil {
		return
	}
	if err = write("dRdWT", dRdWT); err != nil {
		return
	}
	if P, err = s.pcMatrix(xv, w, s.IP.AdjEqnOption.PCConLevel); err != nil {
		return
	}
	if err = write("dRdWTPC", P); err != nil {
		return
	}
	for _, name := range sortedKeys(s.psi) {
		if err = utils.WriteVectorBinary(filepath.Join(dir, "psi_"+name+".bin"), s.psi[name]); err != nil {
			return
		}
		if err = utils.WriteVectorASCII(filepath.Join(dir, "psi_"+name+".txt"), s.psi[name]); err != nil {
			return
		}
	}
	return
}
