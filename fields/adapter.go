package fields

import (
	"fmt"

	"github.com/notargets/goadjoint/mesh"
)

// Adapter converts between the native fields and flat state, residual and
// point vectors laid out by a StateIndex.
type Adapter struct {
	Index  *StateIndex
	Fields *Fields
	Mesh   *mesh.Mesh
}

func NewAdapter(si *StateIndex, fs *Fields) *Adapter {
	return &Adapter{Index: si, Fields: fs, Mesh: fs.Mesh}
}

func (a *Adapter) checkLen(what string, v []float64, n int) error {
	if len(v) != n {
		return fmt.Errorf("%s vector has %d entries, expected %d", what, len(v), n)
	}
	return nil
}

func (a *Adapter) slot(list []*Field, loc Loc) *float64 {
	f := list[loc.State]
	if f.Type.IsSurface() {
		if loc.Elem >= a.Index.NInternalFaces {
			return &f.Boundary[loc.Elem-a.Index.NInternalFaces]
		}
		return &f.Internal[loc.Elem]
	}
	return &f.Internal[loc.Elem*f.NComp()+loc.Comp]
}

// FieldToStateVec copies the live fields into w.
func (a *Adapter) FieldToStateVec(w []float64) error {
	if err := a.checkLen("state", w, a.Index.NStates()); err != nil {
		return err
	}
	for i := range w {
		w[i] = *a.slot(a.Fields.List, a.Index.Locate(i))
	}
	return nil
}

// StateVecToField writes w into the live fields. Boundary values of volume
// fields are left for the model to correct.
func (a *Adapter) StateVecToField(w []float64) error {
	if err := a.checkLen("state", w, a.Index.NStates()); err != nil {
		return err
	}
	for i, v := range w {
		*a.slot(a.Fields.List, a.Index.Locate(i)) = v
	}
	return nil
}

func (a *Adapter) StateVec() (w []float64) {
	w = make([]float64, a.Index.NStates())
	_ = a.FieldToStateVec(w)
	return
}

func (a *Adapter) ResFieldToResVec(r []float64) error {
	if err := a.checkLen("residual", r, a.Index.NStates()); err != nil {
		return err
	}
	for i := range r {
		r[i] = *a.slot(a.Fields.Residual, a.Index.Locate(i))
	}
	return nil
}

func (a *Adapter) ResVecToResField(r []float64) error {
	if err := a.checkLen("residual", r, a.Index.NStates()); err != nil {
		return err
	}
	for i, v := range r {
		*a.slot(a.Fields.Residual, a.Index.Locate(i)) = v
	}
	return nil
}

func (a *Adapter) PointVecToMesh(xv []float64) error {
	return a.Mesh.SetPointVec(xv)
}

func (a *Adapter) MeshToPointVec(xv []float64) error {
	if err := a.checkLen("point", xv, 2*a.Mesh.NPoints()); err != nil {
		return err
	}
	copy(xv, a.Mesh.PointVec())
	return nil
}

// BoundaryStateVec flattens the boundary values of the volume fields, the part
// of the solution a state vector does not carry.
func (a *Adapter) BoundaryStateVec() (b []float64) {
	for _, f := range a.Fields.List {
		if !f.Type.IsSurface() {
			b = append(b, f.Boundary...)
		}
	}
	return
}

func (a *Adapter) SetBoundaryStateVec(b []float64) error {
	var n int
	for _, f := range a.Fields.List {
		if !f.Type.IsSurface() {
			n += len(f.Boundary)
		}
	}
	if err := a.checkLen("boundary state", b, n); err != nil {
		return err
	}
	var off int
	for _, f := range a.Fields.List {
		if !f.Type.IsSurface() {
			off += copy(f.Boundary, b[off:off+len(f.Boundary)])
		}
	}
	return nil
}

// StoreOldTime saves the current state as the previous time level.
func (a *Adapter) StoreOldTime() {
	a.Fields.OldState = a.StateVec()
}
