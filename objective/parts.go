package objective

import (
	"fmt"
	"math"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/mesh"
)

func init() {
	Register("variableVolSum", newVariableVolSum)
	Register("patchMean", newPatchMean)
	Register("wallHeatFlux", newWallHeatFlux)
	Register("force", newForce)
}

// variableVolSum integrates a cell field, or its square, over the selected cells.
type variableVolSum struct {
	partBase
	isSquare bool
}

func newVariableVolSum(name string, cfg InputParameters.ObjFuncPart, m *mesh.Mesh) (p Part, err error) {
	vs := &variableVolSum{isSquare: cfg.IsSquare}
	if vs.partBase, err = newPartBase(name, cfg, m); err != nil {
		return
	}
	if err = vs.needCells(); err != nil {
		return
	}
	return vs, nil
}

func (vs *variableVolSum) Calc(v View) (val ad.Real, c Contribution, err error) {
	var (
		t    = v.Tape()
		g    = v.Geometry()
		vals []ad.Real
	)
	if vals, err = v.CellField(vs.varName); err != nil {
		return
	}
	c = Contribution{Cells: vs.cells, Value: make([]float64, len(vs.cells))}
	for i, k := range vs.cells {
		q := vals[k]
		if vs.isSquare {
			q = t.Sq(q)
		}
		term := t.Scale(t.Mul(g.Volume[k], q), vs.scale)
		c.Value[i] = term.V
		val = t.Add(val, term)
	}
	return
}

// patchMean is the area weighted mean of a state over the selected faces.
type patchMean struct {
	partBase
}

func newPatchMean(name string, cfg InputParameters.ObjFuncPart, m *mesh.Mesh) (p Part, err error) {
	pm := &patchMean{}
	if pm.partBase, err = newPartBase(name, cfg, m); err != nil {
		return
	}
	if err = pm.needFaces(); err != nil {
		return
	}
	return pm, nil
}

func (pm *patchMean) Calc(v View) (val ad.Real, c Contribution, err error) {
	var (
		t    = v.Tape()
		g    = v.Geometry()
		vals []ad.Real
		area ad.Real
	)
	if vals, err = v.FaceField(pm.varName, pm.faces); err != nil {
		return
	}
	c = Contribution{Faces: pm.faces, Value: make([]float64, len(pm.faces))}
	for _, f := range pm.faces {
		area = t.Add(area, g.MagSf[f])
	}
	for i, f := range pm.faces {
		term := t.Scale(t.Div(t.Mul(g.MagSf[f], vals[i]), area), pm.scale)
		c.Value[i] = term.V
		val = t.Add(val, term)
	}
	return
}

// wallHeatFlux is the diffusive flux DT*dT/dn out through the selected faces.
type wallHeatFlux struct {
	partBase
}

func newWallHeatFlux(name string, cfg InputParameters.ObjFuncPart, m *mesh.Mesh) (p Part, err error) {
	wf := &wallHeatFlux{}
	if wf.partBase, err = newPartBase(name, cfg, m); err != nil {
		return
	}
	if err = wf.needFaces(); err != nil {
		return
	}
	return wf, nil
}

func (wf *wallHeatFlux) Calc(v View) (val ad.Real, c Contribution, err error) {
	var (
		t          = v.Tape()
		g          = v.Geometry()
		m          = v.Mesh()
		faceVals   []ad.Real
		cellVals   []ad.Real
		diffCoeffs []ad.Real
	)
	if faceVals, err = v.FaceField(wf.varName, wf.faces); err != nil {
		return
	}
	if cellVals, err = v.CellField(wf.varName); err != nil {
		return
	}
	if diffCoeffs, err = v.Param("DT"); err != nil {
		return
	}
	c = Contribution{Faces: wf.faces, Value: make([]float64, len(wf.faces))}
	for i, f := range wf.faces {
		P := m.Owner[f]
		// minus the flux into the owner: positive when heat leaves the wall into the fluid
		grad := t.Div(t.Sub(faceVals[i], cellVals[P]), mesh.Distance(t, g.Cf[f], g.Centre[P]))
		term := t.Scale(t.Mul(t.Mul(diffCoeffs[0], g.MagSf[f]), grad), wf.scale)
		c.Value[i] = term.V
		val = t.Add(val, term)
	}
	return
}

// force projects the pressure-like force sum(q_f S_f) onto a direction.
type force struct {
	partBase
	mode      string
	direction [2]float64
}

func newForce(name string, cfg InputParameters.ObjFuncPart, m *mesh.Mesh) (p Part, err error) {
	fp := &force{mode: cfg.DirectionMode}
	if fp.partBase, err = newPartBase(name, cfg, m); err != nil {
		return
	}
	if err = fp.needFaces(); err != nil {
		return
	}
	switch fp.mode {
	case "", "fixedDirection":
		fp.mode = "fixedDirection"
		if len(cfg.Direction) != 2 {
			err = fmt.Errorf("fixedDirection force needs a two component direction")
			return
		}
		mag := math.Hypot(cfg.Direction[0], cfg.Direction[1])
		if mag == 0 {
			err = fmt.Errorf("force direction is zero")
			return
		}
		fp.direction = [2]float64{cfg.Direction[0] / mag, cfg.Direction[1] / mag}
	case "parallelToFlow", "normalToFlow":
	default:
		err = fmt.Errorf("unknown force direction mode %q", fp.mode)
		return
	}
	return fp, nil
}

// FlowDirection returns the unit flow vector and its normal for an angle of
// attack given in degrees.
func FlowDirection(t *ad.Tape, aoa ad.Real) (parallel, normal [2]ad.Real) {
	a := t.Scale(aoa, math.Pi/180)
	cos, sin := t.Cos(a), t.Sin(a)
	return [2]ad.Real{cos, sin}, [2]ad.Real{t.Neg(sin), cos}
}

func (fp *force) Calc(v View) (val ad.Real, c Contribution, err error) {
	var (
		t   = v.Tape()
		dir [2]ad.Real
		fs  [][2]ad.Real
	)
	switch fp.mode {
	case "fixedDirection":
		dir = [2]ad.Real{ad.Const(fp.direction[0]), ad.Const(fp.direction[1])}
	default:
		var aoa []ad.Real
		if aoa, err = v.Param("AOA"); err != nil {
			return
		}
		parallel, normal := FlowDirection(t, aoa[0])
		dir = parallel
		if fp.mode == "normalToFlow" {
			dir = normal
		}
	}
	if fs, err = Forces(v, fp.varName, fp.faces); err != nil {
		return
	}
	c = Contribution{Faces: fp.faces, Value: make([]float64, len(fp.faces))}
	for i := range fp.faces {
		term := t.Scale(t.Add(t.Mul(fs[i][0], dir[0]), t.Mul(fs[i][1], dir[1])), fp.scale)
		c.Value[i] = term.V
		val = t.Add(val, term)
	}
	return
}

// Forces returns q_f S_f on each face, q being the named state.
func Forces(v View, varName string, faces []int) (fs [][2]ad.Real, err error) {
	var (
		t    = v.Tape()
		g    = v.Geometry()
		vals []ad.Real
	)
	if vals, err = v.FaceField(varName, faces); err != nil {
		return
	}
	fs = make([][2]ad.Real, len(faces))
	for i, f := range faces {
		fs[i] = [2]ad.Real{t.Mul(vals[i], g.Sf[f][0]), t.Mul(vals[i], g.Sf[f][1])}
	}
	return
}
