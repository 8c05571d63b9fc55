package adjoint

import (
	"fmt"
	"math"
	"sync"

	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/coloring"
	"github.com/notargets/goadjoint/linsolve"
	"github.com/notargets/goadjoint/types"
	"github.com/notargets/goadjoint/utils"
	"gonum.org/v1/gonum/diff/fd"
)

// exactLevel asks a model for its full residual stencil.
const exactLevel = math.MaxInt32

// errLatch keeps the first error reported by concurrent evaluations.
type errLatch struct {
	mu  sync.Mutex
	err error
}

func (el *errLatch) Set(err error) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.err == nil {
		el.err = err
	}
}

func (el *errLatch) Err() error {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.err
}

// record runs fn while recording on the solver tape. On success the caller
// owns the recording and must Reset the tape.
func (s *Solver) record(mode string, fn func(t *ad.Tape) error) (err error) {
	t := s.Tape
	if err = t.Begin(mode); err != nil {
		return
	}
	if err = fn(t); err != nil {
		t.Reset()
		return
	}
	if err = t.End(); err != nil {
		return
	}
	s.Metrics.TapeRecordings.WithLabelValues(mode).Inc()
	return
}

func (s *Solver) coloringFor(level int) (p *coloring.Pattern, c *coloring.Coloring, err error) {
	if p, err = s.Model.Connectivity(level); err != nil {
		return
	}
	if c = s.colorings[level]; c == nil {
		if c, err = coloring.Color(p); err != nil {
			return
		}
		s.colorings[level] = c
		if s.Verbose {
			fmt.Printf("connectivity level %d: %d non-zeros, %d colors\n", level, p.NNZ(), c.NColors)
		}
	}
	return
}

func (s *Solver) level(isPC bool) int {
	if isPC {
		return s.IP.AdjEqnOption.PCConLevel
	}
	return exactLevel
}

/*
CalcdRdWT assembles (dR/dW)^T by one-sided finite differences, perturbing
every column of a color at once. With isPC set the reduced preconditioner
connectivity is used and the result only approximates the Jacobian.
*/
func (s *Solver) CalcdRdWT(xv, w []float64, isPC bool) (dRdWT utils.CSR, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	return s.calcdRdWT(xv, w, s.level(isPC))
}

func (s *Solver) calcdRdWT(xv, w []float64, level int) (dRdWT utils.CSR, err error) {
	var (
		p  *coloring.Pattern
		c  *coloring.Coloring
		r0 []float64
		h  = s.IP.AdjPartDerivFDStep["State"]
	)
	if p, c, err = s.coloringFor(level); err != nil {
		return
	}
	if r0, err = s.residual(s.inputs(w, xv)); err != nil {
		return
	}
	jvp := func(dst, seed []float64) error {
		wp := make([]float64, len(w))
		for i := range w {
			wp[i] = w[i] + h*seed[i]
		}
		rp, err := s.residual(s.inputs(wp, xv))
		if err != nil {
			return err
		}
		for i := range dst {
			dst[i] = (rp[i] - r0[i]) / h
		}
		return nil
	}
	if dRdWT, err = coloring.Assemble(p, c, jvp, true, s.pm.ParallelDegree); err != nil {
		return
	}
	dRdWT.SetReadOnly("dRdWT")
	return
}

// CalcdRdWTAD assembles (dR/dW)^T exactly from forward mode tangents, one
// sweep per color.
func (s *Solver) CalcdRdWTAD(xv, w []float64, isPC bool) (dRdWT utils.CSR, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	return s.calcdRdWTAD(xv, w, s.level(isPC))
}

func (s *Solver) calcdRdWTAD(xv, w []float64, level int) (dRdWT utils.CSR, err error) {
	var (
		p      *coloring.Pattern
		c      *coloring.Coloring
		wg, og int
	)
	if p, c, err = s.coloringFor(level); err != nil {
		return
	}
	err = s.record("dRdW", func(t *ad.Tape) (err error) {
		var W []ad.Real
		if wg, W, err = t.RegisterInput(w); err != nil {
			return
		}
		in := s.inputs(w, xv)
		in.Tape, in.W = t, W
		var res []ad.Real
		if res, _, err = s.Model.Evaluate(in); err != nil {
			return
		}
		og, err = t.RegisterOutput(res)
		return
	})
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	jvp := func(dst, seed []float64) error { return s.Tape.TangentProduct(wg, og, dst, seed) }
	if dRdWT, err = coloring.Assemble(p, c, jvp, true, 1); err != nil {
		return
	}
	dRdWT.SetReadOnly("dRdWT")
	return
}

/*
adjointOperator records the residual once and applies (dR/dW)^T with one
reverse sweep per product. The recording stays live until release is called.
*/
func (s *Solver) adjointOperator(xv, w []float64) (op linsolve.Operator, release func(), err error) {
	var wg, og int
	err = s.record("dRdWTPsi", func(t *ad.Tape) (err error) {
		var W []ad.Real
		if wg, W, err = t.RegisterInput(w); err != nil {
			return
		}
		in := s.inputs(w, xv)
		in.Tape, in.W = t, W
		var res []ad.Real
		if res, _, err = s.Model.Evaluate(in); err != nil {
			return
		}
		og, err = t.RegisterOutput(res)
		return
	})
	if err != nil {
		return
	}
	t := s.Tape
	op = linsolve.OperatorFunc{
		N:  len(w),
		Fn: func(dst, x []float64) error { return t.RunReverse(og, x, wg, dst) },
	}
	return op, t.Reset, nil
}

// CalcdRdWTPsiAD returns (dR/dW)^T psi from one reverse sweep.
func (s *Solver) CalcdRdWTPsiAD(xv, w, psi []float64) (prod []float64, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	if err = checkLen("psi", psi, len(w)); err != nil {
		return
	}
	var (
		op      linsolve.Operator
		release func()
	)
	if op, release, err = s.adjointOperator(xv, w); err != nil {
		return
	}
	defer release()
	prod = make([]float64, len(w))
	err = op.Apply(prod, psi)
	return
}

// CalcdRdWOldTPsiAD returns (dR/dW_old)^T psi, the coupling of a time step
// to the previous time level.
func (s *Solver) CalcdRdWOldTPsiAD(xv, w, wOld, psi []float64) (prod []float64, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	if err = checkLen("old state", wOld, len(w)); err != nil {
		return
	}
	if err = checkLen("psi", psi, len(w)); err != nil {
		return
	}
	var og, wg int
	err = s.record("dRdWOldTPsi", func(t *ad.Tape) (err error) {
		var WOld []ad.Real
		if wg, WOld, err = t.RegisterInput(wOld); err != nil {
			return
		}
		in := s.inputs(w, xv)
		in.Tape, in.WOld = t, WOld
		var res []ad.Real
		if res, _, err = s.Model.Evaluate(in); err != nil {
			return
		}
		og, err = t.RegisterOutput(res)
		return
	})
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	prod = make([]float64, len(w))
	err = s.Tape.RunReverse(og, psi, wg, prod)
	return
}

// CalcdFdW differentiates an objective by one-sided differences in each state.
func (s *Solver) CalcdFdW(xv, w []float64, objName string) (dFdW []float64, err error) {
	var f = s.ObjFuncs[objName]
	if f == nil {
		_, err = s.objFunc(objName)
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	var latch errLatch
	fn := func(x []float64) float64 {
		val, err := s.evalObjective(f, s.inputs(x, xv), true)
		if err != nil {
			latch.Set(err)
			return math.NaN()
		}
		return val.V
	}
	dFdW = make([]float64, len(w))
	fd.Gradient(dFdW, fn, w, &fd.Settings{
		Formula:    fd.Forward,
		Step:       s.IP.AdjPartDerivFDStep["State"],
		Concurrent: s.pm.ParallelDegree > 1,
	})
	err = latch.Err()
	return
}

// CalcdFdWAD returns dF/dW from one reverse sweep.
func (s *Solver) CalcdFdWAD(xv, w []float64, objName string) (dFdW []float64, err error) {
	var f = s.ObjFuncs[objName]
	if f == nil {
		_, err = s.objFunc(objName)
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	var wg, og int
	err = s.record("dFdW", func(t *ad.Tape) (err error) {
		var W []ad.Real
		if wg, W, err = t.RegisterInput(w); err != nil {
			return
		}
		in := s.inputs(w, xv)
		in.Tape, in.W = t, W
		var val ad.Real
		if val, err = s.evalObjective(f, in, true); err != nil {
			return
		}
		og, err = t.RegisterOutput([]ad.Real{val})
		return
	})
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	dFdW = make([]float64, len(w))
	err = s.Tape.RunReverse(og, []float64{1}, wg, dFdW)
	return
}

func (s *Solver) calcdFdW(xv, w []float64, objName string) ([]float64, error) {
	if s.ADMode == types.AD_FD {
		return s.CalcdFdW(xv, w, objName)
	}
	return s.CalcdFdWAD(xv, w, objName)
}

func (s *Solver) pcMatrix(xv, w []float64, level int) (P utils.CSR, err error) {
	if s.ADMode == types.AD_FD {
		P, err = s.calcdRdWT(xv, w, level)
	} else {
		P, err = s.calcdRdWTAD(xv, w, level)
	}
	if err != nil {
		return
	}
	if s.stateScale != nil {
		P = P.ScaleRowsCols(s.stateScale, nil)
	}
	return
}

/*
buildPreconditioner assembles the preconditioner matrices for the current
point: ILU(0) of the pcConLevel matrix, or, when mlrLevels are configured, a
multi-level Richardson hierarchy with one matrix per level.
*/
func (s *Solver) buildPreconditioner(xv, w []float64) (pc linsolve.Preconditioner, err error) {
	opt := s.IP.AdjEqnOption
	if len(opt.MLRLevels) == 0 {
		var P utils.CSR
		if P, err = s.pcMatrix(xv, w, opt.PCConLevel); err != nil {
			return
		}
		return linsolve.NewILU0(P)
	}
	levels := make([]linsolve.MLRLevel, len(opt.MLRLevels))
	for l, lev := range opt.MLRLevels {
		if levels[l].Matrix, err = s.pcMatrix(xv, w, lev.ConLevel); err != nil {
			return
		}
		levels[l].Iters, levels[l].Omega = lev.Iters, lev.Omega
	}
	return linsolve.NewMultiLevelRichardson(levels)
}

// relativeDifference is |A - B|_F / |B|_F, or |A - B|_F when B is zero.
func relativeDifference(A, B utils.CSR) float64 {
	var (
		nr, nc = B.Dims()
		num    float64
		den    float64
	)
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			a, b := A.At(i, j), B.At(i, j)
			num += (a - b) * (a - b)
			den += b * b
		}
	}
	if den == 0 {
		return math.Sqrt(num)
	}
	return math.Sqrt(num / den)
}
