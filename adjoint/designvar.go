package adjoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/types"
	"gonum.org/v1/gonum/mat"
)

// DesignVar is one named design variable: a block of scalars that enter the
// residual and objectives through the evaluation inputs.
type DesignVar interface {
	Name() string
	Type() types.DesignVarType
	Size() int
	// Values are the current design values
	Values() []float64
	// Bind replaces the variable's values in in by x
	Bind(t *ad.Tape, in *fields.Inputs, x []ad.Real) error
}

// Chained design variables act through the mesh points, Xv = Xv0 + DXvDX x,
// and have their partials chained from the point partials.
type Chained interface {
	DesignVar
	DXvDX() *mat.Dense
}

type designVarAllocator func(name string, cfg InputParameters.DesignVar, m Model) (DesignVar, error)

var designVarAllocators = make(map[string]designVarAllocator)

// RegisterDesignVar adds a design variable type.
func RegisterDesignVar(typeName string, alloc designVarAllocator) {
	if _, ok := designVarAllocators[typeName]; ok {
		panic(fmt.Errorf("design variable type %q registered twice", typeName))
	}
	designVarAllocators[typeName] = alloc
}

func DesignVarTypes() (names []string) {
	for k := range designVarAllocators {
		names = append(names, k)
	}
	sort.Strings(names)
	return
}

func init() {
	for _, typ := range []string{"BC", "AOA", "ACT", "Field"} {
		RegisterDesignVar(typ, newParamVar)
	}
	RegisterDesignVar("Xv", newPointVar)
	RegisterDesignVar("FFD", newFFDVar)
}

func newDesignVar(name string, cfg InputParameters.DesignVar, m Model) (dv DesignVar, err error) {
	alloc, ok := designVarAllocators[cfg.DesignVarType]
	if !ok {
		err = fmt.Errorf("%w: type %q of %s, have %v", ErrUnknownDesignVar, cfg.DesignVarType, name, DesignVarTypes())
		return
	}
	if dv, err = alloc(name, cfg, m); err != nil {
		err = fmt.Errorf("designVar %s: %w", name, err)
	}
	return
}

// paramVar is a parameter block of the model: a boundary value, the flow
// angle, an actuator or a per-cell coefficient field.
type paramVar struct {
	name, param string
	typ         types.DesignVarType
	params      *fields.Params
}

func newParamVar(name string, cfg InputParameters.DesignVar, m Model) (dv DesignVar, err error) {
	pv := &paramVar{name: name, param: cfg.Param, params: m.Params()}
	if pv.typ, err = types.NewDesignVarType(cfg.DesignVarType); err != nil {
		return
	}
	if pv.typ == types.DV_ACT && !strings.HasPrefix(pv.param, "fvSource:") {
		pv.param = "fvSource:" + pv.param
	}
	if _, err = pv.params.Get(pv.param); err != nil {
		err = fmt.Errorf("%w, have %v", err, pv.params.Names())
		return
	}
	return pv, nil
}

func (pv *paramVar) Name() string              { return pv.name }
func (pv *paramVar) Type() types.DesignVarType { return pv.typ }

func (pv *paramVar) Size() int {
	vals, _ := pv.params.Get(pv.param)
	return len(vals)
}

func (pv *paramVar) Values() []float64 {
	vals, _ := pv.params.Get(pv.param)
	return append([]float64{}, vals...)
}

func (pv *paramVar) Bind(t *ad.Tape, in *fields.Inputs, x []ad.Real) error {
	if len(x) != pv.Size() {
		return fmt.Errorf("%w: %s has %d values, got %d", ErrLength, pv.name, pv.Size(), len(x))
	}
	in.Params[pv.param] = x
	return nil
}

// pointVar is the full mesh point vector.
type pointVar struct {
	name string
	m    Model
}

func newPointVar(name string, cfg InputParameters.DesignVar, m Model) (DesignVar, error) {
	return &pointVar{name: name, m: m}, nil
}

func (pv *pointVar) Name() string              { return pv.name }
func (pv *pointVar) Type() types.DesignVarType { return types.DV_Xv }
func (pv *pointVar) Size() int                 { return 2 * pv.m.Mesh().NPoints() }
func (pv *pointVar) Values() []float64         { return pv.m.Mesh().PointVec() }

func (pv *pointVar) Bind(t *ad.Tape, in *fields.Inputs, x []ad.Real) error {
	if len(x) != len(in.Xv) {
		return fmt.Errorf("%w: %s has %d values, got %d", ErrLength, pv.name, len(in.Xv), len(x))
	}
	in.Xv = x
	return nil
}

// ffdVar moves the mesh points with smooth bump modes whose amplitudes are
// measured from the current mesh.
type ffdVar struct {
	name    string
	dXvdFFD *mat.Dense
}

func newFFDVar(name string, cfg InputParameters.DesignVar, m Model) (DesignVar, error) {
	if cfg.NModes < 1 {
		return nil, fmt.Errorf("FFD needs nModes > 0")
	}
	return &ffdVar{name: name, dXvdFFD: m.Mesh().BumpModes(cfg.NModes)}, nil
}

func (fv *ffdVar) Name() string              { return fv.name }
func (fv *ffdVar) Type() types.DesignVarType { return types.DV_FFD }
func (fv *ffdVar) DXvDX() *mat.Dense         { return fv.dXvdFFD }

func (fv *ffdVar) Size() int {
	_, c := fv.dXvdFFD.Dims()
	return c
}

func (fv *ffdVar) Values() []float64 { return make([]float64, fv.Size()) }

func (fv *ffdVar) Bind(t *ad.Tape, in *fields.Inputs, x []ad.Real) error {
	nr, nc := fv.dXvdFFD.Dims()
	if len(x) != nc || len(in.Xv) != nr {
		return fmt.Errorf("%w: %s is %dx%d, have %d amplitudes and %d coordinates",
			ErrLength, fv.name, nr, nc, len(x), len(in.Xv))
	}
	xv := make([]ad.Real, nr)
	for i := range xv {
		xv[i] = t.Add(in.Xv[i], t.DotC(x, fv.dXvdFFD.RawRowView(i)))
	}
	in.Xv = xv
	return nil
}

func (s *Solver) designVar(name string) (dv DesignVar, err error) {
	var ok bool
	if dv, ok = s.DesignVars[name]; !ok {
		err = fmt.Errorf("%w: %q, have %v", ErrUnknownDesignVar, name, sortedKeys(s.DesignVars))
	}
	return
}

func (s *Solver) typedDesignVar(name string, typ types.DesignVarType) (dv DesignVar, err error) {
	if dv, err = s.designVar(name); err != nil {
		return
	}
	if dv.Type() != typ {
		err = fmt.Errorf("%w: %s is a %s design variable, not %s", ErrUnknownDesignVar, name, dv.Type(), typ)
	}
	return
}
