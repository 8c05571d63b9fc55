package objective

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testView holds one cell field "T" whose boundary values equal Tb.
type testView struct {
	t      *ad.Tape
	m      *mesh.Mesh
	g      *mesh.Geometry
	T      []ad.Real
	Tb     ad.Real
	params map[string][]ad.Real
}

func newTestView(t *testing.T, tape *ad.Tape, T []ad.Real) *testView {
	m, err := mesh.NewRectangle(4, 2, 2, 1, 0)
	require.NoError(t, err)
	g, err := m.Geometry(tape, ad.Consts(m.PointVec()))
	require.NoError(t, err)
	if T == nil {
		T = ad.Consts(make([]float64, m.NCells()))
	}
	return &testView{t: tape, m: m, g: g, T: T, Tb: ad.Const(2),
		params: map[string][]ad.Real{"AOA": {ad.Const(30)}, "DT": {ad.Const(0.5)}}}
}

func (v *testView) Tape() *ad.Tape           { return v.t }
func (v *testView) Mesh() *mesh.Mesh         { return v.m }
func (v *testView) Geometry() *mesh.Geometry { return v.g }

func (v *testView) CellField(name string) ([]ad.Real, error) {
	if name != "T" {
		return nil, fmt.Errorf("no field %s", name)
	}
	return v.T, nil
}

func (v *testView) FaceField(name string, faces []int) (vals []ad.Real, err error) {
	if name != "T" {
		return nil, fmt.Errorf("no field %s", name)
	}
	for range faces {
		vals = append(vals, v.Tb)
	}
	return
}

func (v *testView) Param(name string) ([]ad.Real, error) {
	p, ok := v.params[name]
	if !ok {
		return nil, fmt.Errorf("no param %s", name)
	}
	return p, nil
}

func TestParts(t *testing.T) {
	v := newTestView(t, nil, nil)
	for k := range v.T {
		v.T[k] = ad.Const(3)
	}
	{ // Test variableVolSum over all cells and a box
		f, err := New("vol", map[string]InputParameters.ObjFuncPart{
			"all": {Type: "variableVolSum", Source: "allCells", VarName: "T"},
			"box": {Type: "variableVolSum", Source: "boxToCell", VarName: "T", IsSquare: true,
				Min: []float64{0, 0}, Max: []float64{1, 0.5}, Scale: 2},
		}, v.m)
		require.NoError(t, err)
		val, cs, err := f.Calc(v, false)
		require.NoError(t, err)
		// 3*2 over the domain, plus 2*9*0.5 over the two lower left cells
		assert.InDelta(t, 6+9, val.V, 1e-12)
		assert.Equal(t, 2, len(cs))
		assert.Equal(t, []int{0, 1}, cs[1].Cells)
	}
	{ // Test patchMean and the addToAdjoint switch
		no := false
		f, err := New("mean", map[string]InputParameters.ObjFuncPart{
			"a": {Type: "patchMean", Source: "patchToFace", Patches: []string{"outlet", "top"}, VarName: "T"},
			"b": {Type: "patchMean", Source: "patchToFace", Patches: []string{"inlet"}, VarName: "T", AddToAdjoint: &no},
		}, v.m)
		require.NoError(t, err)
		val, _, err := f.Calc(v, false)
		require.NoError(t, err)
		assert.InDelta(t, 4, val.V, 1e-12)
		val, _, err = f.Calc(v, true)
		require.NoError(t, err)
		assert.InDelta(t, 2, val.V, 1e-12)
	}
	{ // Test force direction modes on the bottom wall, S_f = (0,-0.5) per face
		for mode, want := range map[string]float64{
			"parallelToFlow": 2 * -2 * math.Sin(math.Pi/6),
			"normalToFlow":   2 * -2 * math.Cos(math.Pi/6),
		} {
			f, err := New("F", map[string]InputParameters.ObjFuncPart{
				"p": {Type: "force", Source: "patchToFace", Patches: []string{"bottom"}, VarName: "T", DirectionMode: mode},
			}, v.m)
			require.NoError(t, err)
			val, _, err := f.Calc(v, false)
			require.NoError(t, err)
			assert.InDelta(t, want, val.V, 1e-12, mode)
		}
		f, err := New("F", map[string]InputParameters.ObjFuncPart{
			"p": {Type: "force", Source: "patchToFace", Patches: []string{"bottom"}, VarName: "T",
				DirectionMode: "fixedDirection", Direction: []float64{0, -3}},
		}, v.m)
		require.NoError(t, err)
		val, _, err := f.Calc(v, false)
		require.NoError(t, err)
		assert.InDelta(t, 4, val.V, 1e-12)
	}
	{ // Test wall heat flux through the top wall, (2-3)/0.25 * 0.5 * 0.5 per face
		f, err := New("Q", map[string]InputParameters.ObjFuncPart{
			"p": {Type: "wallHeatFlux", Source: "patchToFace", Patches: []string{"top"}, VarName: "T"},
		}, v.m)
		require.NoError(t, err)
		val, cs, err := f.Calc(v, false)
		require.NoError(t, err)
		assert.InDelta(t, 4*-1, val.V, 1e-12)
		assert.Equal(t, 4, len(cs[0].Faces))
	}
	{ // Test configuration errors
		_, err := New("x", map[string]InputParameters.ObjFuncPart{"p": {Type: "lift", Source: "allCells"}}, v.m)
		assert.True(t, errors.Is(err, ErrUnknownPartType))
		_, err = New("x", map[string]InputParameters.ObjFuncPart{"p": {Type: "patchMean", Source: "allCells"}}, v.m)
		assert.Error(t, err)
		_, err = New("x", map[string]InputParameters.ObjFuncPart{
			"p": {Type: "patchMean", Source: "patchToFace", Patches: []string{"farfield"}}}, v.m)
		assert.Error(t, err)
		_, err = New("x", map[string]InputParameters.ObjFuncPart{
			"p": {Type: "force", Source: "patchToFace", Patches: []string{"top"}}}, v.m)
		assert.Error(t, err)
	}
	assert.Equal(t, []string{"force", "patchMean", "variableVolSum", "wallHeatFlux"}, PartTypes())
}

func TestPartDerivatives(t *testing.T) {
	tape := ad.NewTape()
	require.NoError(t, tape.Begin("dFdW"))
	m, _ := mesh.NewRectangle(4, 2, 2, 1, 0)
	vals := make([]float64, m.NCells())
	for k := range vals {
		vals[k] = float64(k)
	}
	g, T, err := tape.RegisterInput(vals)
	require.NoError(t, err)
	v := newTestView(t, tape, T)
	f, err := New("vol", map[string]InputParameters.ObjFuncPart{
		"p": {Type: "variableVolSum", Source: "allCells", VarName: "T", IsSquare: true},
	}, v.m)
	require.NoError(t, err)
	val, _, err := f.Calc(v, true)
	require.NoError(t, err)
	og, err := tape.RegisterOutput([]ad.Real{val})
	require.NoError(t, err)
	require.NoError(t, tape.End())
	grad := make([]float64, len(vals))
	require.NoError(t, tape.RunReverse(og, []float64{1}, g, grad))
	for k := range grad {
		assert.InDelta(t, 2*0.25*vals[k], grad[k], 1e-12)
	}
}
