package adjoint

import (
	"fmt"
	"sort"

	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/objective"
	"gonum.org/v1/gonum/mat"
)

// forces evaluates q_f S_f on the patch faces, flattened as [f0x, f0y, f1x, ...].
func (s *Solver) forces(in *fields.Inputs, patches []string, varName string) (flat []ad.Real, faces []int, err error) {
	if faces, err = objective.PatchToFace(s.Model.Mesh(), patches); err != nil {
		return
	}
	var (
		v  objective.View
		fs [][2]ad.Real
	)
	if _, v, err = s.Model.Evaluate(in); err != nil {
		return
	}
	if fs, err = objective.Forces(v, varName, faces); err != nil {
		return
	}
	flat = make([]ad.Real, 0, 2*len(fs))
	for _, f := range fs {
		flat = append(flat, f[0], f[1])
	}
	return
}

// GetForces returns the force on every face of the patches at the live state.
func (s *Solver) GetForces(patches []string, varName string) (fs [][2]float64, err error) {
	s.ctx = s.liveContext()
	var flat []ad.Real
	if flat, _, err = s.forces(s.inputs(s.LiveState(), s.LivePoints()), patches, varName); err != nil {
		return
	}
	fs = make([][2]float64, len(flat)/2)
	for i := range fs {
		fs[i] = [2]float64{flat[2*i].V, flat[2*i+1].V}
	}
	return
}

// GetForcesInfo returns the patch faces in force order and their centres.
func (s *Solver) GetForcesInfo(patches []string) (faces []int, centres [][2]float64, err error) {
	var (
		m = s.Model.Mesh()
		g *mesh.Geometry
	)
	if faces, err = objective.PatchToFace(m, patches); err != nil {
		return
	}
	if g, err = m.Geometry(nil, ad.Consts(s.LivePoints())); err != nil {
		return
	}
	centres = make([][2]float64, len(faces))
	for i, f := range faces {
		centres[i] = [2]float64{g.Cf[f][0].V, g.Cf[f][1].V}
	}
	return
}

type ForceSample struct {
	Face   int
	X, Y   float64
	Fx, Fy float64
}

// CalcForceProfile returns the patch forces ordered by face centre x.
func (s *Solver) CalcForceProfile(patches []string, varName string) (profile []ForceSample, err error) {
	var (
		faces   []int
		centres [][2]float64
		fs      [][2]float64
	)
	if faces, centres, err = s.GetForcesInfo(patches); err != nil {
		return
	}
	if fs, err = s.GetForces(patches, varName); err != nil {
		return
	}
	profile = make([]ForceSample, len(faces))
	for i, f := range faces {
		profile[i] = ForceSample{Face: f, X: centres[i][0], Y: centres[i][1], Fx: fs[i][0], Fy: fs[i][1]}
	}
	sort.SliceStable(profile, func(i, j int) bool { return profile[i].X < profile[j].X })
	return
}

// recordForces tapes the flat forces with one input registered by bind.
func (s *Solver) recordForces(mode string, xv, w []float64, patches []string, varName string,
	bind func(t *ad.Tape, in *fields.Inputs) (group int, err error)) (ig, og, nOut int, err error) {
	err = s.record(mode, func(t *ad.Tape) (err error) {
		in := s.inputs(w, xv)
		in.Tape = t
		if ig, err = bind(t, in); err != nil {
			return
		}
		var flat []ad.Real
		if flat, _, err = s.forces(in, patches, varName); err != nil {
			return
		}
		nOut = len(flat)
		og, err = t.RegisterOutput(flat)
		return
	})
	return
}

func bindPoints(xv []float64) func(t *ad.Tape, in *fields.Inputs) (int, error) {
	return func(t *ad.Tape, in *fields.Inputs) (g int, err error) {
		g, in.Xv, err = t.RegisterInput(xv)
		return
	}
}

func bindState(w []float64) func(t *ad.Tape, in *fields.Inputs) (int, error) {
	return func(t *ad.Tape, in *fields.Inputs) (g int, err error) {
		g, in.W, err = t.RegisterInput(w)
		return
	}
}

// CalcdForcedXvAD returns (dForce/dXv)^T fBar, fBar laid out like the flat
// forces.
func (s *Solver) CalcdForcedXvAD(xv, w []float64, patches []string, varName string, fBar []float64) (prod []float64, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	s.ctx = s.liveContext()
	ig, og, n, err := s.recordForces("dForcedXv", xv, w, patches, varName, bindPoints(xv))
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	if err = checkLen("force seed", fBar, n); err != nil {
		return
	}
	prod = make([]float64, len(xv))
	err = s.Tape.RunReverse(og, fBar, ig, prod)
	return
}

// CalcdForcedWAD returns dForce/dW with one row per flat force component.
func (s *Solver) CalcdForcedWAD(xv, w []float64, patches []string, varName string) (dFdW *mat.Dense, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	s.ctx = s.liveContext()
	ig, og, n, err := s.recordForces("dForcedW", xv, w, patches, varName, bindState(w))
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	if n == 0 {
		err = fmt.Errorf("%w: patches %v have no faces", ErrLength, patches)
		return
	}
	dFdW = mat.NewDense(n, len(w), nil)
	seed := make([]float64, n)
	for i := 0; i < n; i++ {
		seed[i] = 1
		if err = s.Tape.RunReverse(og, seed, ig, dFdW.RawRowView(i)); err != nil {
			return
		}
		seed[i] = 0
	}
	return
}

// CalcdForcedStateTPsiAD returns (dForce/dW)^T psi for a psi over the flat forces.
func (s *Solver) CalcdForcedStateTPsiAD(xv, w []float64, patches []string, varName string, psi []float64) (prod []float64, err error) {
	if err = s.checkPoint(xv, w); err != nil {
		return
	}
	s.ctx = s.liveContext()
	ig, og, n, err := s.recordForces("dForcedWTPsi", xv, w, patches, varName, bindState(w))
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	if err = checkLen("psi", psi, n); err != nil {
		return
	}
	prod = make([]float64, len(w))
	err = s.Tape.RunReverse(og, psi, ig, prod)
	return
}

// CalcFvSource returns the actuator source of every cell on mesh points xv.
func (s *Solver) CalcFvSource(xv []float64) (src []float64, err error) {
	if err = checkLen("point vector", xv, 2*s.NPoints()); err != nil {
		return
	}
	s.ctx = s.liveContext()
	var r []ad.Real
	if r, err = s.Model.FvSource(s.inputs(s.LiveState(), xv)); err != nil {
		return
	}
	return ad.Values(r), nil
}

// CalcdFvSourcedInputsTPsiAD returns (dS/dX)^T psi for the actuator source S
// and design variable dvName.
func (s *Solver) CalcdFvSourcedInputsTPsiAD(dvName string, xv, psi []float64) (prod []float64, err error) {
	var dv DesignVar
	if dv, err = s.designVar(dvName); err != nil {
		return
	}
	if err = checkLen("point vector", xv, 2*s.NPoints()); err != nil {
		return
	}
	return s.fvSourceTPsi(dv, xv, psi)
}

func (s *Solver) fvSourceTPsi(dv DesignVar, xv, psi []float64) (prod []float64, err error) {
	if c, ok := dv.(Chained); ok {
		if prod, err = s.fvSourceTPsi(s.pointsOf(c), xv, psi); err != nil {
			return
		}
		return chainT(c.DXvDX(), prod), nil
	}
	var (
		x0     = s.designValues(dv, xv)
		w      = s.LiveState()
		xg, og int
		n      int
	)
	s.ctx = s.liveContext()
	err = s.record("dFvSourced"+dv.Type().String()+"TPsi", func(t *ad.Tape) (err error) {
		var (
			X   []ad.Real
			in  *fields.Inputs
			src []ad.Real
		)
		if xg, X, err = t.RegisterInput(x0); err != nil {
			return
		}
		if in, err = s.boundInputs(dv, t, xv, w, X); err != nil {
			return
		}
		if src, err = s.Model.FvSource(in); err != nil {
			return
		}
		n = len(src)
		og, err = t.RegisterOutput(src)
		return
	})
	if err != nil {
		return
	}
	defer s.Tape.Reset()
	if err = checkLen("psi", psi, n); err != nil {
		return
	}
	prod = make([]float64, len(x0))
	err = s.Tape.RunReverse(og, psi, xg, prod)
	return
}
