package Quadratic

import (
	"fmt"
	"math"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/coloring"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/objective"
	"github.com/notargets/goadjoint/types"
)

var States = []fields.StateInfo{{Name: "W", Type: types.VolScalar}}

/*
Quadratic is a one cell residual R = W^2 - 4 + X with a closed form adjoint:
at the root W = sqrt(4-X), so with F = W the adjoint is 1/(2W) and
dF/dX = -1/(2W).
*/
type Quadratic struct {
	mesh    *mesh.Mesh
	adapter *fields.Adapter
	params  *fields.Params
	pattern *coloring.Pattern
}

func NewQuadratic(ip *InputParameters.InputParameters) (q *Quadratic, err error) {
	var (
		m  *mesh.Mesh
		si *fields.StateIndex
	)
	if m, err = mesh.NewRectangle(1, 1, 1, 1, 0); err != nil {
		return
	}
	if si, err = fields.NewStateIndex(m, States, ip.AdjStateOrdering); err != nil {
		return
	}
	q = &Quadratic{
		mesh:    m,
		adapter: fields.NewAdapter(si, fields.NewFields(m, States)),
		params:  fields.NewParams(),
	}
	if err = q.params.Add("X", []float64{ip.Physics.X}); err != nil {
		return
	}
	for name, vals := range ip.PrimalBC {
		if err = q.params.Set(name, vals); err != nil {
			return
		}
	}
	err = q.adapter.StateVecToField(q.InitialState())
	return
}

func (q *Quadratic) Name() string                 { return "Quadratic" }
func (q *Quadratic) Mesh() *mesh.Mesh             { return q.mesh }
func (q *Quadratic) Adapter() *fields.Adapter     { return q.adapter }
func (q *Quadratic) Params() *fields.Params       { return q.params }
func (q *Quadratic) InitialState() []float64      { return []float64{1} }
func (q *Quadratic) Unsteady() types.UnsteadyMode { return types.Steady }
func (q *Quadratic) CorrectBoundaryConditions() error {
	return nil
}
func (q *Quadratic) StepTime(deltaT float64) {}

func (q *Quadratic) FvSource(in *fields.Inputs) ([]ad.Real, error) {
	return []ad.Real{{}}, nil
}

func (q *Quadratic) Evaluate(in *fields.Inputs) (res []ad.Real, v objective.View, err error) {
	var (
		t = in.Tape
		X []ad.Real
		g *mesh.Geometry
	)
	if len(in.W) != 1 {
		err = fmt.Errorf("state vector has %d entries, expected 1", len(in.W))
		return
	}
	if X, err = in.Param("X"); err != nil {
		return
	}
	if g, err = q.mesh.Geometry(t, in.Xv); err != nil {
		return
	}
	res = []ad.Real{t.Add(t.Shift(t.Sq(in.W[0]), -4), X[0])}
	v = &view{t: t, m: q.mesh, g: g, W: in.W, in: in}
	return
}

func (q *Quadratic) Connectivity(level int) (p *coloring.Pattern, err error) {
	if q.pattern == nil {
		q.pattern, err = coloring.NewPattern(1, 1, [][]int{{0}})
	}
	return q.pattern, err
}

// Iterate is one Newton step W -= R/(2W).
func (q *Quadratic) Iterate() (resNorm float64, err error) {
	var (
		in  = fields.LiveInputs(q.adapter, q.params)
		res []ad.Real
	)
	if res, _, err = q.Evaluate(in); err != nil {
		return
	}
	W := in.W[0].V
	resNorm = math.Abs(res[0].V)
	if W == 0 {
		err = fmt.Errorf("newton step on a zero derivative")
		return
	}
	err = q.adapter.StateVecToField([]float64{W - res[0].V/(2*W)})
	return
}

type view struct {
	t  *ad.Tape
	m  *mesh.Mesh
	g  *mesh.Geometry
	W  []ad.Real
	in *fields.Inputs
}

func (v *view) Tape() *ad.Tape                       { return v.t }
func (v *view) Mesh() *mesh.Mesh                     { return v.m }
func (v *view) Geometry() *mesh.Geometry             { return v.g }
func (v *view) Param(name string) ([]ad.Real, error) { return v.in.Param(name) }

func (v *view) CellField(name string) ([]ad.Real, error) {
	if name != "W" {
		return nil, fmt.Errorf("no volume field %q, have W", name)
	}
	return v.W, nil
}

func (v *view) FaceField(name string, faces []int) (vals []ad.Real, err error) {
	if name != "W" {
		return nil, fmt.Errorf("no field %q, have W", name)
	}
	for range faces {
		vals = append(vals, v.W[0])
	}
	return
}
