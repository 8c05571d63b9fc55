package fields

import (
	"fmt"

	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/types"
)

// Field is the native storage of one state. Volume fields keep cell values in
// Internal and the boundary condition values of each boundary face in
// Boundary; surface fields keep internal faces and boundary faces.
type Field struct {
	Name     string
	Type     types.StateType
	Internal []float64
	Boundary []float64
}

func (f *Field) NComp() int { return f.Type.NComp() }

/*
Fields is the live primal solution owned by a model: one Field per state, a
matching residual Field, and the time level bookkeeping used by unsteady runs.
*/
type Fields struct {
	Mesh      *mesh.Mesh
	List      []*Field
	Residual  []*Field
	Time      float64
	TimeIndex int
	DeltaT    float64 // zero for steady runs
	// OldState is the flat state at the previous time level, nil when steady
	OldState []float64
	byName   map[string]int
}

func NewFields(m *mesh.Mesh, states []StateInfo) (fs *Fields) {
	fs = &Fields{
		Mesh:   m,
		byName: make(map[string]int),
	}
	alloc := func(st StateInfo) *Field {
		f := &Field{Name: st.Name, Type: st.Type}
		if st.Type.IsSurface() {
			f.Internal = make([]float64, m.NInternalFaces)
			f.Boundary = make([]float64, m.NBoundaryFaces())
		} else {
			f.Internal = make([]float64, m.NCells()*st.Type.NComp())
			f.Boundary = make([]float64, m.NBoundaryFaces()*st.Type.NComp())
		}
		return f
	}
	for i, st := range states {
		fs.List = append(fs.List, alloc(st))
		fs.Residual = append(fs.Residual, alloc(st))
		fs.byName[st.Name] = i
	}
	return
}

func (fs *Fields) Get(name string) (f *Field, err error) {
	i, ok := fs.byName[name]
	if !ok {
		err = fmt.Errorf("unknown field %q", name)
		return
	}
	return fs.List[i], nil
}

func (fs *Fields) GetResidual(name string) (f *Field, err error) {
	i, ok := fs.byName[name]
	if !ok {
		err = fmt.Errorf("unknown field %q", name)
		return
	}
	return fs.Residual[i], nil
}

// Set assigns the value of one component in one cell (or face) of a field.
func (fs *Fields) Set(name string, elem, comp int, val float64) (err error) {
	var f *Field
	if f, err = fs.Get(name); err != nil {
		return
	}
	if f.Type.IsSurface() {
		if comp != 0 {
			return fmt.Errorf("surface field %q has one component", name)
		}
		switch {
		case elem >= 0 && elem < len(f.Internal):
			f.Internal[elem] = val
		case elem >= len(f.Internal) && elem < len(f.Internal)+len(f.Boundary):
			f.Boundary[elem-len(f.Internal)] = val
		default:
			return fmt.Errorf("face %d out of range for field %q", elem, name)
		}
		return
	}
	nc := f.NComp()
	if elem < 0 || elem*nc >= len(f.Internal) || comp < 0 || comp >= nc {
		return fmt.Errorf("cell %d comp %d out of range for field %q", elem, comp, name)
	}
	f.Internal[elem*nc+comp] = val
	return
}
