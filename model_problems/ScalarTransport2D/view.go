package ScalarTransport2D

import (
	"fmt"

	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/mesh"
)

type view struct {
	t   *ad.Tape
	m   *mesh.Mesh
	g   *mesh.Geometry
	T   []ad.Real
	Tb  []ad.Real // boundary face values of T
	phi []ad.Real
	in  *fields.Inputs
}

func (v *view) Tape() *ad.Tape           { return v.t }
func (v *view) Mesh() *mesh.Mesh         { return v.m }
func (v *view) Geometry() *mesh.Geometry { return v.g }

func (v *view) Param(name string) ([]ad.Real, error) { return v.in.Param(name) }

func (v *view) CellField(name string) ([]ad.Real, error) {
	if name != "T" {
		return nil, fmt.Errorf("no volume field %q, have T", name)
	}
	return v.T, nil
}

func (v *view) FaceField(name string, faces []int) (vals []ad.Real, err error) {
	vals = make([]ad.Real, len(faces))
	for i, f := range faces {
		if f < 0 || f >= v.m.NFaces() {
			return nil, fmt.Errorf("face %d out of range", f)
		}
		switch name {
		case "T":
			if v.m.IsBoundary(f) {
				vals[i] = v.Tb[v.m.BoundaryIndex(f)]
			} else {
				vals[i] = v.t.Scale(v.t.Add(v.T[v.m.Owner[f]], v.T[v.m.Neighbour[f]]), 0.5)
			}
		case "phi":
			vals[i] = v.phi[f]
		default:
			return nil, fmt.Errorf("no field %q, have T and phi", name)
		}
	}
	return
}
