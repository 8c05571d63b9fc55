package ScalarTransport2D

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/coloring"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/linsolve"
	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/objective"
	"github.com/notargets/goadjoint/types"
	"github.com/notargets/goadjoint/utils"
)

const FvSourcePrefix = "fvSource:"

var States = []fields.StateInfo{
	{Name: "T", Type: types.VolScalar},
	{Name: "phi", Type: types.SurfaceScalar},
}

/*
ScalarTransport2D is a steady or unsteady convection-diffusion-reaction model
for a scalar T carried by the face flux phi of a uniform stream:

	R_T   = sum_f phi_f T_upwind - sum_f DT |S_f| (T_N - T_P)/|d_PN|
	        + kappa beta_P V_P T_P^2 - S_P V_P [+ V_P (T_P - T_P^old)/dt]
	R_phi = phi_f - U.S_f,  U = U0 (cos AOA, sin AOA)

The inlet holds T0, bottom and top hold Tw, the outlet is zero gradient.
*/
type ScalarTransport2D struct {
	mesh           *mesh.Mesh
	adapter        *fields.Adapter
	params         *fields.Params
	tape           *ad.Tape
	unsteady       types.UnsteadyMode
	inletAmplitude float64
	inletPeriod    float64
	sourceNames    []string
	patterns       map[int]*coloring.Pattern
	newtonColoring *coloring.Coloring
	initialState   []float64
	pm             *utils.PartitionMap
	NewtonSettings linsolve.Settings
}

func NewScalarTransport2D(ip *InputParameters.InputParameters, tape *ad.Tape) (st *ScalarTransport2D, err error) {
	var (
		m  *mesh.Mesh
		si *fields.StateIndex
		ph = ip.Physics
	)
	if tape == nil {
		tape = ad.NewTape()
	}
	if m, err = mesh.NewRectangle(ip.Mesh.NX, ip.Mesh.NY, ip.Mesh.LX, ip.Mesh.LY, ip.Mesh.Bump); err != nil {
		return
	}
	if si, err = fields.NewStateIndex(m, States, ip.AdjStateOrdering); err != nil {
		return
	}
	st = &ScalarTransport2D{
		mesh:           m,
		adapter:        fields.NewAdapter(si, fields.NewFields(m, States)),
		params:         fields.NewParams(),
		tape:           tape,
		inletAmplitude: ph.InletAmplitude,
		inletPeriod:    ph.InletPeriod,
		patterns:       make(map[int]*coloring.Pattern),
		pm:             utils.NewPartitionMap(utils.DefaultParallelDegree(ip.ParallelDegree, si.NStates()), si.NStates()),
		NewtonSettings: linsolve.Settings{RelTol: 1e-12, AbsTol: 1e-15, MaxIters: 500, Restart: 100},
	}
	if st.unsteady, err = types.NewUnsteadyMode(ip.UnsteadyAdjoint.Mode); err != nil {
		return
	}
	for _, p := range []struct {
		name string
		val  float64
	}{{"U0", ph.U0}, {"AOA", ph.AOA}, {"T0", ph.T0}, {"Tw", ph.Tw}, {"DT", ph.DT}, {"kappa", ph.Kappa}} {
		if err = st.params.Add(p.name, []float64{p.val}); err != nil {
			return
		}
	}
	if err = st.params.Add("beta", utils.ConstArray(m.NCells(), ph.Beta)); err != nil {
		return
	}
	for name := range ip.FvSource {
		st.sourceNames = append(st.sourceNames, name)
	}
	sort.Strings(st.sourceNames)
	for _, name := range st.sourceNames {
		src := ip.FvSource[name]
		if len(src.Center) != 2 {
			err = fmt.Errorf("fvSource %s needs a two component center", name)
			return
		}
		if err = st.params.Add(FvSourcePrefix+name,
			[]float64{src.Center[0], src.Center[1], src.Radius, src.Strength}); err != nil {
			return
		}
	}
	for name, vals := range ip.PrimalBC {
		if err = st.params.Set(name, vals); err != nil {
			return
		}
	}
	if err = st.initializeFields(); err != nil {
		return
	}
	st.initialState = st.adapter.StateVec()
	return
}

// initializeFields sets T to T0 and phi to the free stream flux.
func (st *ScalarTransport2D) initializeFields() (err error) {
	in := fields.LiveInputs(st.adapter, st.params)
	w := make([]float64, st.adapter.Index.NStates())
	var (
		T0, _ = in.Param("T0")
		g     *mesh.Geometry
	)
	if g, err = st.mesh.Geometry(nil, in.Xv); err != nil {
		return
	}
	ux, uy := st.velocity(nil, in)
	si := st.adapter.Index
	for k := 0; k < st.mesh.NCells(); k++ {
		w[si.IndexOf(0, k, 0)] = T0[0].V
	}
	for f := 0; f < st.mesh.NFaces(); f++ {
		w[si.IndexOf(1, f, 0)] = ux.V*g.Sf[f][0].V + uy.V*g.Sf[f][1].V
	}
	if err = st.adapter.StateVecToField(w); err != nil {
		return
	}
	return st.CorrectBoundaryConditions()
}

func (st *ScalarTransport2D) Name() string                 { return "ScalarTransport2D" }
func (st *ScalarTransport2D) Mesh() *mesh.Mesh             { return st.mesh }
func (st *ScalarTransport2D) Adapter() *fields.Adapter     { return st.adapter }
func (st *ScalarTransport2D) Params() *fields.Params       { return st.params }
func (st *ScalarTransport2D) InitialState() []float64      { return append([]float64{}, st.initialState...) }
func (st *ScalarTransport2D) Unsteady() types.UnsteadyMode { return st.unsteady }

func (st *ScalarTransport2D) velocity(t *ad.Tape, in *fields.Inputs) (ux, uy ad.Real) {
	U0, _ := in.Param("U0")
	AOA, _ := in.Param("AOA")
	parallel, _ := objective.FlowDirection(t, AOA[0])
	return t.Mul(U0[0], parallel[0]), t.Mul(U0[0], parallel[1])
}

// boundaryValue is the value of T imposed on boundary face f.
func (st *ScalarTransport2D) boundaryValue(t *ad.Tape, in *fields.Inputs, f int, TP ad.Real) (Tb ad.Real) {
	T0, _ := in.Param("T0")
	Tw, _ := in.Param("Tw")
	switch st.mesh.Patches[st.mesh.FacePatch[f]].Name {
	case "inlet":
		Tb = T0[0]
		if st.unsteady != types.Steady && st.inletAmplitude != 0 && st.inletPeriod > 0 {
			Tb = t.Scale(Tb, 1+st.inletAmplitude*math.Sin(2*math.Pi*in.Time/st.inletPeriod))
		}
	case "bottom", "top":
		Tb = Tw[0]
	default:
		Tb = TP
	}
	return
}

// FvSource evaluates the Gaussian actuator sources in every cell.
func (st *ScalarTransport2D) FvSource(in *fields.Inputs) (src []ad.Real, err error) {
	var (
		t = in.Tape
		g *mesh.Geometry
	)
	if g, err = st.mesh.Geometry(t, in.Xv); err != nil {
		return
	}
	return st.fvSource(t, in, g)
}

func (st *ScalarTransport2D) fvSource(t *ad.Tape, in *fields.Inputs, g *mesh.Geometry) (src []ad.Real, err error) {
	src = make([]ad.Real, st.mesh.NCells())
	for _, name := range st.sourceNames {
		var prm []ad.Real
		if prm, err = in.Param(FvSourcePrefix + name); err != nil {
			return
		}
		r2 := t.Sq(prm[2])
		for k := range src {
			dx := t.Sub(g.Centre[k][0], prm[0])
			dy := t.Sub(g.Centre[k][1], prm[1])
			arg := t.Neg(t.Div(t.Add(t.Sq(dx), t.Sq(dy)), r2))
			src[k] = t.Add(src[k], t.Mul(prm[3], t.Exp(arg)))
		}
	}
	return
}

// Evaluate computes the residual of in without touching the live fields.
func (st *ScalarTransport2D) Evaluate(in *fields.Inputs) (res []ad.Real, v objective.View, err error) {
	var (
		t      = in.Tape
		m      = st.mesh
		si     = st.adapter.Index
		nc, nf = m.NCells(), m.NFaces()
		g      *mesh.Geometry
		src    []ad.Real
	)
	if len(in.W) != si.NStates() {
		err = fmt.Errorf("state vector has %d entries, expected %d", len(in.W), si.NStates())
		return
	}
	if g, err = m.Geometry(t, in.Xv); err != nil {
		return
	}
	if src, err = st.fvSource(t, in, g); err != nil {
		return
	}
	var (
		DT, _    = in.Param("DT")
		kappa, _ = in.Param("kappa")
		beta, _  = in.Param("beta")
		T        = make([]ad.Real, nc)
		phi      = make([]ad.Real, nf)
		Tb       = make([]ad.Real, m.NBoundaryFaces())
		RT       = make([]ad.Real, nc)
	)
	for k := range T {
		T[k] = in.W[si.IndexOf(0, k, 0)]
	}
	for f := range phi {
		phi[f] = in.W[si.IndexOf(1, f, 0)]
	}
	for k := range RT {
		reaction := t.Mul(t.Mul(kappa[0], beta[k]), t.Mul(g.Volume[k], t.Sq(T[k])))
		RT[k] = t.Sub(reaction, t.Mul(src[k], g.Volume[k]))
		if in.DeltaT > 0 && in.WOld != nil {
			dTdt := t.Scale(t.Sub(T[k], in.WOld[si.IndexOf(0, k, 0)]), 1/in.DeltaT)
			RT[k] = t.Add(RT[k], t.Mul(g.Volume[k], dTdt))
		}
	}
	for f := 0; f < nf; f++ {
		var (
			P      = m.Owner[f]
			TN, dC ad.Real
		)
		if m.IsBoundary(f) {
			TN = st.boundaryValue(t, in, f, T[P])
			Tb[m.BoundaryIndex(f)] = TN
			dC = mesh.Distance(t, g.Cf[f], g.Centre[P])
		} else {
			TN = T[m.Neighbour[f]]
			dC = mesh.Distance(t, g.Centre[m.Neighbour[f]], g.Centre[P])
		}
		Tup := T[P]
		if phi[f].V < 0 {
			Tup = TN
		}
		conv := t.Mul(phi[f], Tup)
		diff := t.Div(t.Mul(t.Mul(DT[0], g.MagSf[f]), t.Sub(TN, T[P])), dC)
		flux := t.Sub(conv, diff)
		RT[P] = t.Add(RT[P], flux)
		if !m.IsBoundary(f) {
			N := m.Neighbour[f]
			RT[N] = t.Sub(RT[N], flux)
		}
	}
	res = make([]ad.Real, si.NStates())
	for k := range RT {
		res[si.IndexOf(0, k, 0)] = RT[k]
	}
	ux, uy := st.velocity(t, in)
	for f := range phi {
		flux := t.Add(t.Mul(ux, g.Sf[f][0]), t.Mul(uy, g.Sf[f][1]))
		res[si.IndexOf(1, f, 0)] = t.Sub(phi[f], flux)
	}
	v = &view{t: t, m: m, g: g, T: T, Tb: Tb, phi: phi, in: in}
	return
}

/*
Connectivity returns the sparsity of dR/dW. Level 0 keeps each cell's own T and
the flux of its faces; level 1 adds the face neighbours and is exact.
*/
func (st *ScalarTransport2D) Connectivity(level int) (p *coloring.Pattern, err error) {
	if level > 1 {
		level = 1
	}
	if level < 0 {
		err = fmt.Errorf("connectivity level %d is negative", level)
		return
	}
	if p = st.patterns[level]; p != nil {
		return
	}
	var (
		m    = st.mesh
		si   = st.adapter.Index
		rows = make([][]int, si.NStates())
	)
	for k := 0; k < m.NCells(); k++ {
		i := si.IndexOf(0, k, 0)
		rows[i] = append(rows[i], i)
		for _, f := range m.CellFaces[k] {
			rows[i] = append(rows[i], si.IndexOf(1, f, 0))
		}
		if level == 1 {
			for _, nb := range m.CellNeighbours(k) {
				rows[i] = append(rows[i], si.IndexOf(0, nb, 0))
			}
		}
	}
	for f := 0; f < m.NFaces(); f++ {
		i := si.IndexOf(1, f, 0)
		rows[i] = append(rows[i], i)
	}
	if p, err = coloring.NewPattern(si.NStates(), si.NStates(), rows); err != nil {
		return
	}
	st.patterns[level] = p
	return
}

// CorrectBoundaryConditions writes the imposed boundary values of T into the
// live fields.
func (st *ScalarTransport2D) CorrectBoundaryConditions() (err error) {
	var (
		in   = fields.LiveInputs(st.adapter, st.params)
		Tf   *fields.Field
		m    = st.mesh
		si   = st.adapter.Index
		vals = make([]float64, m.NBoundaryFaces())
	)
	if Tf, err = st.adapter.Fields.Get("T"); err != nil {
		return
	}
	for f := m.NInternalFaces; f < m.NFaces(); f++ {
		P := m.Owner[f]
		vals[m.BoundaryIndex(f)] = st.boundaryValue(nil, in, f, in.W[si.IndexOf(0, P, 0)]).V
	}
	copy(Tf.Boundary, vals)
	return
}

/*
Iterate performs one Newton step on the live fields with the exact Jacobian,
assembled from forward mode tangents over a coloring of the full stencil. It
returns the residual norm before the step.
*/
func (st *ScalarTransport2D) Iterate() (resNorm float64, err error) {
	var (
		t   = st.tape
		in  = fields.LiveInputs(st.adapter, st.params)
		w   = ad.Values(in.W)
		p   *coloring.Pattern
		J   utils.CSR
		res []ad.Real
	)
	if p, err = st.Connectivity(1); err != nil {
		return
	}
	if st.newtonColoring == nil {
		if st.newtonColoring, err = coloring.Color(p); err != nil {
			return
		}
	}
	if err = t.Begin("primalJacobian"); err != nil {
		return
	}
	defer t.Reset()
	inG, W, err := t.RegisterInput(w)
	if err != nil {
		return
	}
	in.Tape, in.W = t, W
	if res, _, err = st.Evaluate(in); err != nil {
		return
	}
	outG, err := t.RegisterOutput(res)
	if err != nil {
		return
	}
	if err = t.End(); err != nil {
		return
	}
	r := ad.Values(res)
	resNorm = math.Sqrt(st.pm.Dot(r, r))
	if math.IsNaN(resNorm) || math.IsInf(resNorm, 0) {
		return
	}
	jvp := func(dst, seed []float64) error { return t.TangentProduct(inG, outG, dst, seed) }
	if J, err = coloring.Assemble(p, st.newtonColoring, jvp, false, 1); err != nil {
		return
	}
	var (
		ilu *linsolve.ILU0
		op  linsolve.CSROperator
		dw  = make([]float64, len(w))
	)
	if ilu, err = linsolve.NewILU0(J); err != nil {
		return
	}
	if op, err = linsolve.NewCSROperator(J); err != nil {
		return
	}
	for i := range r {
		r[i] = -r[i]
	}
	if _, err = linsolve.FGMRES(op, ilu, r, dw, st.NewtonSettings); err != nil {
		return
	}
	for i := range w {
		w[i] += dw[i]
	}
	if err = st.adapter.StateVecToField(w); err != nil {
		return
	}
	err = st.CorrectBoundaryConditions()
	return
}

// StepTime advances the live fields to the next time level.
func (st *ScalarTransport2D) StepTime(deltaT float64) {
	fs := st.adapter.Fields
	st.adapter.StoreOldTime()
	fs.DeltaT = deltaT
	fs.Time += deltaT
	fs.TimeIndex++
}

// ActuatorNames lists the fvSource parameter blocks.
func (st *ScalarTransport2D) ActuatorNames() (names []string) {
	for _, n := range st.params.Names() {
		if strings.HasPrefix(n, FvSourcePrefix) {
			names = append(names, n)
		}
	}
	return
}
