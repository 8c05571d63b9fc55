package objective

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/mesh"
)

var ErrUnknownPartType = errors.New("unknown objective part type")

/*
View is what an objective reads from one residual evaluation. Values are tape
Reals so objectives differentiate along with the residual.
*/
type View interface {
	Tape() *ad.Tape
	Mesh() *mesh.Mesh
	Geometry() *mesh.Geometry
	// CellField returns one value per cell of a volume state
	CellField(name string) ([]ad.Real, error)
	// FaceField returns the value of a state on each listed face: the boundary
	// value of a volume state on boundary faces, the linear interpolate inside
	FaceField(name string, faces []int) ([]ad.Real, error)
	Param(name string) ([]ad.Real, error)
}

// Contribution is the breakdown of an objective over the selected cells or faces.
type Contribution struct {
	Faces []int
	Cells []int
	Value []float64
}

// Part is one term of an objective.
type Part interface {
	Name() string
	Type() string
	InAdjoint() bool
	Calc(v View) (val ad.Real, c Contribution, err error)
}

type partAllocator func(name string, cfg InputParameters.ObjFuncPart, m *mesh.Mesh) (Part, error)

var partAllocators = make(map[string]partAllocator)

// Register adds an objective part type.
func Register(typeName string, alloc partAllocator) {
	if _, ok := partAllocators[typeName]; ok {
		panic(fmt.Errorf("objective part type %q registered twice", typeName))
	}
	partAllocators[typeName] = alloc
}

func PartTypes() (names []string) {
	for k := range partAllocators {
		names = append(names, k)
	}
	sort.Strings(names)
	return
}

// Function is a named objective: the scaled sum of its parts.
type Function struct {
	Name  string
	Parts []Part
}

func New(name string, parts map[string]InputParameters.ObjFuncPart, m *mesh.Mesh) (f *Function, err error) {
	f = &Function{Name: name}
	pnames := make([]string, 0, len(parts))
	for pn := range parts {
		pnames = append(pnames, pn)
	}
	sort.Strings(pnames)
	for _, pn := range pnames {
		cfg := parts[pn]
		alloc, ok := partAllocators[cfg.Type]
		if !ok {
			err = fmt.Errorf("%w: %q in %s.%s, have %v", ErrUnknownPartType, cfg.Type, name, pn, PartTypes())
			return
		}
		var p Part
		if p, err = alloc(pn, cfg, m); err != nil {
			err = fmt.Errorf("objective %s.%s: %w", name, pn, err)
			return
		}
		f.Parts = append(f.Parts, p)
	}
	return
}

// Calc sums the parts. With forAdjoint set, parts excluded from the adjoint
// are skipped.
func (f *Function) Calc(v View, forAdjoint bool) (val ad.Real, cs []Contribution, err error) {
	t := v.Tape()
	for _, p := range f.Parts {
		if forAdjoint && !p.InAdjoint() {
			continue
		}
		var (
			pv ad.Real
			c  Contribution
		)
		if pv, c, err = p.Calc(v); err != nil {
			err = fmt.Errorf("objective %s part %s: %w", f.Name, p.Name(), err)
			return
		}
		val = t.Add(val, pv)
		cs = append(cs, c)
	}
	return
}

type partBase struct {
	name, typ    string
	scale        float64
	inAdjoint    bool
	varName      string
	faces, cells []int
}

func (pb *partBase) Name() string    { return pb.name }
func (pb *partBase) Type() string    { return pb.typ }
func (pb *partBase) InAdjoint() bool { return pb.inAdjoint }

func newPartBase(name string, cfg InputParameters.ObjFuncPart, m *mesh.Mesh) (pb partBase, err error) {
	pb = partBase{
		name:      name,
		typ:       cfg.Type,
		scale:     cfg.Scale,
		inAdjoint: cfg.InAdjoint(),
		varName:   cfg.VarName,
	}
	if pb.scale == 0 {
		pb.scale = 1
	}
	switch cfg.Source {
	case "patchToFace":
		pb.faces, err = PatchToFace(m, cfg.Patches)
	case "allCells":
		pb.cells = AllCells(m)
	case "boxToCell":
		pb.cells, err = BoxToCell(m, cfg.Min, cfg.Max)
	default:
		err = fmt.Errorf("unknown source %q", cfg.Source)
	}
	return
}

func (pb *partBase) needFaces() error {
	if len(pb.faces) == 0 {
		return fmt.Errorf("part type %s needs a patchToFace source", pb.typ)
	}
	return nil
}

func (pb *partBase) needCells() error {
	if len(pb.cells) == 0 {
		return fmt.Errorf("part type %s needs a cell source with at least one cell", pb.typ)
	}
	return nil
}
