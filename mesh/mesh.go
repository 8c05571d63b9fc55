package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/goadjoint/types"
)

var ErrInvalidMesh = errors.New("invalid mesh")

type Patch struct {
	Name  string
	Type  types.BCFLAG
	Faces []int // boundary faces, numbered after all internal faces
}

/*
Mesh is a structured quadrilateral finite volume mesh with unit depth.

Faces are numbered internal first, then boundary faces grouped by patch. Each
face stores its two points ordered counter-clockwise around its owner, so the
area vector (dy, -dx) points out of the owner cell.
*/
type Mesh struct {
	NX, NY         int
	Points         [][2]float64
	Cells          [][4]int
	CellFaces      [][4]int
	FacePoints     [][2]int
	Owner          []int
	Neighbour      []int // -1 on boundary faces
	FacePatch      []int // -1 on internal faces
	NInternalFaces int
	Patches        []Patch
	patchByName    map[string]int
}

// Patch names of the rectangle generator, in boundary face order
var RectanglePatches = []string{"inlet", "outlet", "bottom", "top"}

/*
NewRectangle generates an nx by ny mesh over [0,lx]x[0,ly]. A non-zero bump
lifts the bottom boundary by bump*sin(pi x/lx), decaying linearly to the top.
*/
func NewRectangle(nx, ny int, lx, ly, bump float64) (m *Mesh, err error) {
	if nx < 1 || ny < 1 || lx <= 0 || ly <= 0 {
		err = fmt.Errorf("%w: rectangle needs positive dimensions, have nx=%d ny=%d lx=%g ly=%g",
			ErrInvalidMesh, nx, ny, lx, ly)
		return
	}
	m = &Mesh{NX: nx, NY: ny}
	var (
		pt = func(i, j int) int { return j*(nx+1) + i }
	)
	m.Points = make([][2]float64, (nx+1)*(ny+1))
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			x := lx * float64(i) / float64(nx)
			y0 := ly * float64(j) / float64(ny)
			y := y0 + bump*math.Sin(math.Pi*x/lx)*(1-y0/ly)
			m.Points[pt(i, j)] = [2]float64{x, y}
		}
	}
	m.Cells = make([][4]int, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			m.Cells[j*nx+i] = [4]int{pt(i, j), pt(i+1, j), pt(i+1, j+1), pt(i, j+1)}
		}
	}
	m.buildFaces(func(k, edge int) string {
		i, j := k%nx, k/nx
		switch {
		case edge == 0 && j == 0:
			return "bottom"
		case edge == 1 && i == nx-1:
			return "outlet"
		case edge == 2 && j == ny-1:
			return "top"
		case edge == 3 && i == 0:
			return "inlet"
		}
		return ""
	})
	return
}

type rawFace struct {
	points       [2]int
	owner, neigh int
	patch        string
	edges        [2][2]int // (cell, local edge) for owner and neighbour
}

func (m *Mesh) buildFaces(boundaryPatch func(k, edge int) string) {
	var (
		faces []*rawFace
		byKey = make(map[types.EdgeKey]*rawFace)
	)
	for k, c := range m.Cells {
		for e := 0; e < 4; e++ {
			verts := [2]int{c[e], c[(e+1)%4]}
			key := types.NewEdgeKey(verts)
			if f, ok := byKey[key]; ok {
				f.neigh = k
				f.edges[1] = [2]int{k, e}
				continue
			}
			f := &rawFace{points: verts, owner: k, neigh: -1, edges: [2][2]int{{k, e}, {-1, -1}}}
			f.patch = boundaryPatch(k, e)
			byKey[key] = f
			faces = append(faces, f)
		}
	}
	ordered := make([]*rawFace, 0, len(faces))
	for _, f := range faces {
		if f.neigh >= 0 {
			ordered = append(ordered, f)
		}
	}
	m.NInternalFaces = len(ordered)
	m.patchByName = make(map[string]int)
	for _, name := range RectanglePatches {
		p := Patch{Name: name, Type: types.BCNameMap[name]}
		if p.Type == types.BC_None {
			p.Type = types.BC_Wall
		}
		for _, f := range faces {
			if f.neigh < 0 && f.patch == name {
				p.Faces = append(p.Faces, len(ordered))
				ordered = append(ordered, f)
			}
		}
		m.patchByName[name] = len(m.Patches)
		m.Patches = append(m.Patches, p)
	}
	nf := len(ordered)
	m.FacePoints = make([][2]int, nf)
	m.Owner = make([]int, nf)
	m.Neighbour = make([]int, nf)
	m.FacePatch = make([]int, nf)
	m.CellFaces = make([][4]int, len(m.Cells))
	for fi, f := range ordered {
		m.FacePoints[fi] = f.points
		m.Owner[fi] = f.owner
		m.Neighbour[fi] = f.neigh
		m.FacePatch[fi] = -1
		if f.neigh < 0 {
			m.FacePatch[fi] = m.patchByName[f.patch]
		}
		for _, ce := range f.edges {
			if ce[0] >= 0 {
				m.CellFaces[ce[0]][ce[1]] = fi
			}
		}
	}
}

func (m *Mesh) NPoints() int          { return len(m.Points) }
func (m *Mesh) NCells() int           { return len(m.Cells) }
func (m *Mesh) NFaces() int           { return len(m.Owner) }
func (m *Mesh) NBoundaryFaces() int   { return len(m.Owner) - m.NInternalFaces }
func (m *Mesh) IsBoundary(f int) bool { return f >= m.NInternalFaces }

func (m *Mesh) PatchByName(name string) (p *Patch, err error) {
	i, ok := m.patchByName[name]
	if !ok {
		err = fmt.Errorf("unknown patch %q", name)
		return
	}
	p = &m.Patches[i]
	return
}

// BoundaryIndex is the position of boundary face f within the boundary face block.
func (m *Mesh) BoundaryIndex(f int) int { return f - m.NInternalFaces }

// OtherCell returns the cell across face f from cell k, -1 on the boundary.
func (m *Mesh) OtherCell(f, k int) int {
	if m.Owner[f] == k {
		return m.Neighbour[f]
	}
	return m.Owner[f]
}

// CellNeighbours returns the face neighbours of cell k.
func (m *Mesh) CellNeighbours(k int) (nbrs []int) {
	for _, f := range m.CellFaces[k] {
		if o := m.OtherCell(f, k); o >= 0 {
			nbrs = append(nbrs, o)
		}
	}
	return
}

// PointVec flattens the point coordinates as x0, y0, x1, y1, ...
func (m *Mesh) PointVec() (xv []float64) {
	xv = make([]float64, 2*len(m.Points))
	for i, p := range m.Points {
		xv[2*i], xv[2*i+1] = p[0], p[1]
	}
	return
}

func (m *Mesh) SetPointVec(xv []float64) error {
	if len(xv) != 2*len(m.Points) {
		return fmt.Errorf("%w: point vector has %d entries, mesh has %d coordinates",
			ErrInvalidMesh, len(xv), 2*len(m.Points))
	}
	for i := range m.Points {
		m.Points[i] = [2]float64{xv[2*i], xv[2*i+1]}
	}
	return nil
}

// XvIndex is the flat position of coordinate comp of point p.
func XvIndex(p, comp int) int { return 2*p + comp }
