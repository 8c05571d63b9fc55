package fields

import (
	"fmt"
	"sort"

	"github.com/notargets/goadjoint/ad"
)

type Param struct {
	Name   string
	Values []float64
}

// Params are the named non-state inputs of a residual: boundary values, flow
// angle, actuator settings and per-cell coefficient fields.
type Params struct {
	list   []*Param
	byName map[string]int
}

func NewParams() *Params {
	return &Params{byName: make(map[string]int)}
}

func (p *Params) Add(name string, vals []float64) error {
	if _, dup := p.byName[name]; dup {
		return fmt.Errorf("duplicate parameter %q", name)
	}
	p.byName[name] = len(p.list)
	p.list = append(p.list, &Param{Name: name, Values: append([]float64{}, vals...)})
	return nil
}

func (p *Params) Get(name string) ([]float64, error) {
	i, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	return p.list[i].Values, nil
}

func (p *Params) Set(name string, vals []float64) error {
	cur, err := p.Get(name)
	if err != nil {
		return err
	}
	if len(vals) != len(cur) {
		return fmt.Errorf("parameter %q has %d values, got %d", name, len(cur), len(vals))
	}
	copy(cur, vals)
	return nil
}

func (p *Params) Names() (names []string) {
	for _, prm := range p.list {
		names = append(names, prm.Name)
	}
	sort.Strings(names)
	return
}

// Inputs is everything a residual or objective evaluation reads. Values are
// tape Reals so the same evaluation serves passive, finite difference and
// recorded runs.
type Inputs struct {
	Tape   *ad.Tape
	W      []ad.Real
	WOld   []ad.Real // previous time level, nil when steady
	Xv     []ad.Real
	Params map[string][]ad.Real
	Time   float64
	DeltaT float64
}

func (in *Inputs) Param(name string) ([]ad.Real, error) {
	v, ok := in.Params[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	return v, nil
}

// PassiveInputs wraps plain values; wOld may be nil.
func PassiveInputs(w, wOld, xv []float64, p *Params, time, deltaT float64) (in *Inputs) {
	in = &Inputs{
		W:      ad.Consts(w),
		Xv:     ad.Consts(xv),
		Params: make(map[string][]ad.Real, len(p.list)),
		Time:   time,
		DeltaT: deltaT,
	}
	if wOld != nil {
		in.WOld = ad.Consts(wOld)
	}
	for _, prm := range p.list {
		in.Params[prm.Name] = ad.Consts(prm.Values)
	}
	return
}

// LiveInputs builds passive inputs from the current fields, mesh and params.
func LiveInputs(a *Adapter, p *Params) *Inputs {
	fs := a.Fields
	return PassiveInputs(a.StateVec(), fs.OldState, a.Mesh.PointVec(), p, fs.Time, fs.DeltaT)
}
