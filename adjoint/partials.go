package adjoint

import (
	"math"

	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/types"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func (s *Solver) fdStep(dv DesignVar) float64 { return s.IP.AdjPartDerivFDStep[dv.Type().String()] }

// designValues are the values a partial is taken at; point variables follow
// the requested xv rather than the live mesh.
func (s *Solver) designValues(dv DesignVar, xv []float64) []float64 {
	if dv.Type() == types.DV_Xv {
		return append([]float64{}, xv...)
	}
	return dv.Values()
}

func (s *Solver) pointsOf(c Chained) DesignVar { return &pointVar{name: c.Name(), m: s.Model} }

// chainT returns M^T v.
func chainT(M *mat.Dense, v []float64) []float64 {
	_, nc := M.Dims()
	out := mat.NewVecDense(nc, nil)
	out.MulVec(M.T(), mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

func (s *Solver) boundInputs(dv DesignVar, t *ad.Tape, xv, w []float64, x []ad.Real) (in *fields.Inputs, err error) {
	in = s.inputs(w, xv)
	in.Tape = t
	err = dv.Bind(t, in, x)
	return
}

// CalcdRdX returns dR/dX, states by design values, by forward differences.
func (s *Solver) CalcdRdX(dvName string, xv, w []float64) (dRdX *mat.Dense, err error) {
	var dv DesignVar
	if dv, err = s.designVar(dvName); err != nil {
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	return s.calcdRdX(dv, xv, w)
}

func (s *Solver) calcdRdX(dv DesignVar, xv, w []float64) (dRdX *mat.Dense, err error) {
	var (
		x0    = s.designValues(dv, xv)
		latch errLatch
	)
	fn := func(y, x []float64) {
		in, err := s.boundInputs(dv, nil, xv, w, ad.Consts(x))
		if err == nil {
			var r []float64
			if r, err = s.residual(in); err == nil {
				copy(y, r)
				return
			}
		}
		latch.Set(err)
		for i := range y {
			y[i] = math.NaN()
		}
	}
	dRdX = mat.NewDense(len(w), len(x0), nil)
	fd.Jacobian(dRdX, fn, x0, &fd.JacobianSettings{
		Formula:    fd.Forward,
		Step:       s.fdStep(dv),
		Concurrent: s.pm.ParallelDegree > 1,
	})
	err = latch.Err()
	return
}

// CalcdRdXAD returns dR/dX from one forward mode sweep per design value.
// Chained variables are differentiated in the points and chained.
func (s *Solver) CalcdRdXAD(dvName string, xv, w []float64) (dRdX *mat.Dense, err error) {
	var dv DesignVar
	if dv, err = s.designVar(dvName); err != nil {
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	return s.calcdRdXAD(dv, xv, w)
}

func (s *Solver) calcdRdXAD(dv DesignVar, xv, w []float64) (dRdX *mat.Dense, err error) {
	if c, ok := dv.(Chained); ok {
		var dRdXv *mat.Dense
		if dRdXv, err = s.calcdRdXAD(s.pointsOf(c), xv, w); err != nil {
			return
		}
		dRdX = new(mat.Dense)
		dRdX.Mul(dRdXv, c.DXvDX())
		return
	}
	var (
		x0     = s.designValues(dv, xv)
		xg, og int
	)
	err = s.record("dRd"+dv.Type().String(), func(t *ad.Tape) (err error) {
		var (
			X   []ad.Real
			in  *fields.Inputs
			res []ad.Real
		)
		if xg, X, err = t.RegisterInput(x0); err != nil {
			return
		}
		if in, err = s.boundInputs(dv, t, xv, w, X); err != nil {
			return
		}
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
	var (
		seed = make([]float64, len(x0))
		col  = make([]float64, len(w))
	)
	dRdX = mat.NewDense(len(w), len(x0), nil)
	for j := range x0 {
		seed[j] = 1
		if err = s.Tape.TangentProduct(xg, og, col, seed); err != nil {
			return
		}
		dRdX.SetCol(j, col)
		seed[j] = 0
	}
	return
}

// CalcdRdXTPsiAD returns (dR/dX)^T psi from one reverse sweep.
func (s *Solver) CalcdRdXTPsiAD(dvName string, xv, w, psi []float64) (prod []float64, err error) {
	var dv DesignVar
	if dv, err = s.designVar(dvName); err != nil {
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	if err = checkLen("psi", psi, len(w)); err != nil {
		return
	}
	return s.calcdRdXTPsiAD(dv, xv, w, psi)
}

func (s *Solver) calcdRdXTPsiAD(dv DesignVar, xv, w, psi []float64) (prod []float64, err error) {
	if c, ok := dv.(Chained); ok {
		if prod, err = s.calcdRdXTPsiAD(s.pointsOf(c), xv, w, psi); err != nil {
			return
		}
		return chainT(c.DXvDX(), prod), nil
	}
	var (
		x0     = s.designValues(dv, xv)
		xg, og int
	)
	err = s.record("dRd"+dv.Type().String()+"TPsi", func(t *ad.Tape) (err error) {
		var (
			X   []ad.Real
			in  *fields.Inputs
			res []ad.Real
		)
		if xg, X, err = t.RegisterInput(x0); err != nil {
			return
		}
		if in, err = s.boundInputs(dv, t, xv, w, X); err != nil {
			return
		}
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
	prod = make([]float64, len(x0))
	err = s.Tape.RunReverse(og, psi, xg, prod)
	return
}

// CalcdFdX returns the partial dF/dX by forward differences.
func (s *Solver) CalcdFdX(objName, dvName string, xv, w []float64) (dFdX []float64, err error) {
	var dv DesignVar
	if dv, err = s.designVar(dvName); err != nil {
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	return s.calcdFdX(objName, dv, xv, w)
}

func (s *Solver) calcdFdX(objName string, dv DesignVar, xv, w []float64) (dFdX []float64, err error) {
	f, err := s.objFunc(objName)
	if err != nil {
		return
	}
	var (
		x0    = s.designValues(dv, xv)
		latch errLatch
	)
	fn := func(x []float64) float64 {
		in, err := s.boundInputs(dv, nil, xv, w, ad.Consts(x))
		if err == nil {
			var val ad.Real
			if val, err = s.evalObjective(f, in, true); err == nil {
				return val.V
			}
		}
		latch.Set(err)
		return math.NaN()
	}
	dFdX = make([]float64, len(x0))
	fd.Gradient(dFdX, fn, x0, &fd.Settings{
		Formula:    fd.Forward,
		Step:       s.fdStep(dv),
		Concurrent: s.pm.ParallelDegree > 1,
	})
	err = latch.Err()
	return
}

// CalcdFdXAD returns the partial dF/dX from one reverse sweep.
func (s *Solver) CalcdFdXAD(objName, dvName string, xv, w []float64) (dFdX []float64, err error) {
	var dv DesignVar
	if dv, err = s.designVar(dvName); err != nil {
		return
	}
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	return s.calcdFdXAD(objName, dv, xv, w)
}

func (s *Solver) calcdFdXAD(objName string, dv DesignVar, xv, w []float64) (dFdX []float64, err error) {
	if c, ok := dv.(Chained); ok {
		if dFdX, err = s.calcdFdXAD(objName, s.pointsOf(c), xv, w); err != nil {
			return
		}
		return chainT(c.DXvDX(), dFdX), nil
	}
	f, err := s.objFunc(objName)
	if err != nil {
		return
	}
	var (
		x0     = s.designValues(dv, xv)
		xg, og int
	)
	err = s.record("dFd"+dv.Type().String(), func(t *ad.Tape) (err error) {
		var (
			X   []ad.Real
			in  *fields.Inputs
			val ad.Real
		)
		if xg, X, err = t.RegisterInput(x0); err != nil {
			return
		}
		if in, err = s.boundInputs(dv, t, xv, w, X); err != nil {
			return
		}
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
	dFdX = make([]float64, len(x0))
	err = s.Tape.RunReverse(og, []float64{1}, xg, dFdX)
	return
}

// psiTdRdX reduces psi^T dR/dX over the state rows, each partition
// accumulating its rows into every design component.
func (s *Solver) psiTdRdX(psi []float64, dRdX *mat.Dense) (prod []float64) {
	_, nc := dRdX.Dims()
	prod = make([]float64, nc)
	s.pm.ReduceVec(prod, func(k int, acc []float64) {
		floats.AddScaled(acc, psi[k], dRdX.RawRowView(k))
	})
	return
}

/*
partialTotal is one term of the chain rule, dF/dX - psi^T dR/dX, at the
current evaluation context, with the partials taken the way useAD selects.
*/
func (s *Solver) partialTotal(objName string, dv DesignVar, xv, w, psi []float64) (total []float64, err error) {
	var (
		dFdX, prod []float64
		dRdX       *mat.Dense
	)
	switch s.ADMode {
	case types.AD_FD:
		if dFdX, err = s.calcdFdX(objName, dv, xv, w); err != nil {
			return
		}
		if dRdX, err = s.calcdRdX(dv, xv, w); err != nil {
			return
		}
		prod = s.psiTdRdX(psi, dRdX)
	case types.AD_Forward:
		if dFdX, err = s.calcdFdXAD(objName, dv, xv, w); err != nil {
			return
		}
		if dRdX, err = s.calcdRdXAD(dv, xv, w); err != nil {
			return
		}
		prod = s.psiTdRdX(psi, dRdX)
	default:
		if dFdX, err = s.calcdFdXAD(objName, dv, xv, w); err != nil {
			return
		}
		if prod, err = s.calcdRdXTPsiAD(dv, xv, w, psi); err != nil {
			return
		}
	}
	total = make([]float64, len(dFdX))
	for i := range total {
		total[i] = dFdX[i] - prod[i]
	}
	return
}

// Category forms of the partials. Each checks the design variable type.

func (s *Solver) typedR(dvName string, typ types.DesignVarType, xv, w []float64, useAD bool) (*mat.Dense, error) {
	dv, err := s.typedDesignVar(dvName, typ)
	if err != nil {
		return nil, err
	}
	if err = s.checkPoint(xv, w); err != nil {
		return nil, err
	}
	if useAD {
		return s.calcdRdXAD(dv, xv, w)
	}
	return s.calcdRdX(dv, xv, w)
}

func (s *Solver) typedRTPsi(dvName string, typ types.DesignVarType, xv, w, psi []float64) ([]float64, error) {
	if _, err := s.typedDesignVar(dvName, typ); err != nil {
		return nil, err
	}
	return s.CalcdRdXTPsiAD(dvName, xv, w, psi)
}

func (s *Solver) typedF(objName, dvName string, typ types.DesignVarType, xv, w []float64, useAD bool) ([]float64, error) {
	if _, err := s.typedDesignVar(dvName, typ); err != nil {
		return nil, err
	}
	if useAD {
		return s.CalcdFdXAD(objName, dvName, xv, w)
	}
	return s.CalcdFdX(objName, dvName, xv, w)
}

func (s *Solver) CalcdRdBC(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_BC, xv, w, false)
}

func (s *Solver) CalcdRdAOA(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_AOA, xv, w, false)
}

func (s *Solver) CalcdRdFFD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_FFD, xv, w, false)
}

func (s *Solver) CalcdRdXv(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_Xv, xv, w, false)
}

func (s *Solver) CalcdRdACT(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_ACT, xv, w, false)
}

func (s *Solver) CalcdRdField(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_Field, xv, w, false)
}

func (s *Solver) CalcdRdAOAAD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_AOA, xv, w, true)
}

func (s *Solver) CalcdRdBCAD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_BC, xv, w, true)
}

func (s *Solver) CalcdRdACTAD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_ACT, xv, w, true)
}

func (s *Solver) CalcdRdFFDAD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_FFD, xv, w, true)
}

func (s *Solver) CalcdRdXvAD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_Xv, xv, w, true)
}

func (s *Solver) CalcdRdFieldAD(dv string, xv, w []float64) (*mat.Dense, error) {
	return s.typedR(dv, types.DV_Field, xv, w, true)
}

func (s *Solver) CalcdRdBCTPsiAD(dv string, xv, w, psi []float64) ([]float64, error) {
	return s.typedRTPsi(dv, types.DV_BC, xv, w, psi)
}

func (s *Solver) CalcdRdAOATPsiAD(dv string, xv, w, psi []float64) ([]float64, error) {
	return s.typedRTPsi(dv, types.DV_AOA, xv, w, psi)
}

func (s *Solver) CalcdRdFFDTPsiAD(dv string, xv, w, psi []float64) ([]float64, error) {
	return s.typedRTPsi(dv, types.DV_FFD, xv, w, psi)
}

func (s *Solver) CalcdRdXvTPsiAD(dv string, xv, w, psi []float64) ([]float64, error) {
	return s.typedRTPsi(dv, types.DV_Xv, xv, w, psi)
}

func (s *Solver) CalcdRdACTTPsiAD(dv string, xv, w, psi []float64) ([]float64, error) {
	return s.typedRTPsi(dv, types.DV_ACT, xv, w, psi)
}

func (s *Solver) CalcdRdFieldTPsiAD(dv string, xv, w, psi []float64) ([]float64, error) {
	return s.typedRTPsi(dv, types.DV_Field, xv, w, psi)
}

func (s *Solver) CalcdFdBC(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_BC, xv, w, false)
}

func (s *Solver) CalcdFdAOA(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_AOA, xv, w, false)
}

func (s *Solver) CalcdFdFFD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_FFD, xv, w, false)
}

func (s *Solver) CalcdFdXv(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_Xv, xv, w, false)
}

func (s *Solver) CalcdFdACT(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_ACT, xv, w, false)
}

func (s *Solver) CalcdFdField(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_Field, xv, w, false)
}

func (s *Solver) CalcdFdBCAD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_BC, xv, w, true)
}

func (s *Solver) CalcdFdAOAAD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_AOA, xv, w, true)
}

func (s *Solver) CalcdFdFFDAD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_FFD, xv, w, true)
}

func (s *Solver) CalcdFdXvAD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_Xv, xv, w, true)
}

func (s *Solver) CalcdFdACTAD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_ACT, xv, w, true)
}

func (s *Solver) CalcdFdFieldAD(obj, dv string, xv, w []float64) ([]float64, error) {
	return s.typedF(obj, dv, types.DV_Field, xv, w, true)
}
