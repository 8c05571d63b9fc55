package objective

import (
	"fmt"

	"github.com/notargets/goadjoint/mesh"
)

func PatchToFace(m *mesh.Mesh, patches []string) (faces []int, err error) {
	for _, name := range patches {
		var p *mesh.Patch
		if p, err = m.PatchByName(name); err != nil {
			return
		}
		faces = append(faces, p.Faces...)
	}
	return
}

func AllCells(m *mesh.Mesh) (cells []int) {
	cells = make([]int, m.NCells())
	for k := range cells {
		cells[k] = k
	}
	return
}

// BoxToCell selects cells whose vertex average lies inside [min,max].
func BoxToCell(m *mesh.Mesh, min, max []float64) (cells []int, err error) {
	if len(min) != 2 || len(max) != 2 {
		err = fmt.Errorf("boxToCell needs two dimensional min and max, have %v %v", min, max)
		return
	}
	for k, c := range m.Cells {
		var x, y float64
		for _, p := range c {
			x += 0.25 * m.Points[p][0]
			y += 0.25 * m.Points[p][1]
		}
		if x >= min[0] && x <= max[0] && y >= min[1] && y <= max[1] {
			cells = append(cells, k)
		}
	}
	return
}
