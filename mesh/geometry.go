package mesh

import (
	"fmt"
	"math"

	"github.com/notargets/goadjoint/ad"
)

// Geometry holds the mesh metrics as tape values so they carry derivatives
// with respect to the point coordinates.
type Geometry struct {
	Volume []ad.Real    // cell area times unit depth
	Centre [][2]ad.Real // vertex average of each cell
	Sf     [][2]ad.Real // face area vectors, out of the owner
	MagSf  []ad.Real
	Cf     [][2]ad.Real // face midpoints
}

// minVolume replaces non-positive volumes while recording so the evaluation can
// finish; the recording is flagged and discarded by the tape.
const minVolume = 1e-300

// Geometry computes metrics from the flat point vector xv. Passive evaluation
// rejects non-positive cell volumes.
func (m *Mesh) Geometry(t *ad.Tape, xv []ad.Real) (g *Geometry, err error) {
	if len(xv) != 2*m.NPoints() {
		err = fmt.Errorf("%w: point vector has %d entries, mesh has %d coordinates",
			ErrInvalidMesh, len(xv), 2*m.NPoints())
		return
	}
	var (
		nc, nf = m.NCells(), m.NFaces()
		px     = func(p int) ad.Real { return xv[2*p] }
		py     = func(p int) ad.Real { return xv[2*p+1] }
	)
	g = &Geometry{
		Volume: make([]ad.Real, nc),
		Centre: make([][2]ad.Real, nc),
		Sf:     make([][2]ad.Real, nf),
		MagSf:  make([]ad.Real, nf),
		Cf:     make([][2]ad.Real, nf),
	}
	for k, c := range m.Cells {
		var area, sx, sy ad.Real
		for e := 0; e < 4; e++ {
			a, b := c[e], c[(e+1)%4]
			// shoelace term x_a*y_b - x_b*y_a
			area = t.Add(area, t.Sub(t.Mul(px(a), py(b)), t.Mul(px(b), py(a))))
			sx = t.Add(sx, px(a))
			sy = t.Add(sy, py(a))
		}
		area = t.Scale(area, 0.5)
		if area.V <= 0 {
			if !t.Recording() {
				err = fmt.Errorf("%w: cell %d has non-positive volume %g", ErrInvalidMesh, k, area.V)
				return
			}
			t.MarkNonDifferentiable(fmt.Sprintf("cell %d has non-positive volume", k))
			area = ad.Const(minVolume)
		}
		g.Volume[k] = area
		g.Centre[k] = [2]ad.Real{t.Scale(sx, 0.25), t.Scale(sy, 0.25)}
	}
	for f, fp := range m.FacePoints {
		a, b := fp[0], fp[1]
		dx := t.Sub(px(b), px(a))
		dy := t.Sub(py(b), py(a))
		g.Sf[f] = [2]ad.Real{dy, t.Neg(dx)}
		g.MagSf[f] = t.Hypot(dx, dy)
		g.Cf[f] = [2]ad.Real{
			t.Scale(t.Add(px(a), px(b)), 0.5),
			t.Scale(t.Add(py(a), py(b)), 0.5),
		}
	}
	return
}

// Distance returns |a - b| for two tape points.
func Distance(t *ad.Tape, a, b [2]ad.Real) ad.Real {
	return t.Hypot(t.Sub(a[0], b[0]), t.Sub(a[1], b[1]))
}

type Thresholds struct {
	MaxAspectRatio float64
	MaxNonOrth     float64 // degrees
	MaxSkewness    float64
}

type Quality struct {
	MinVolume      float64
	MaxAspectRatio float64
	MaxNonOrth     float64
	MaxSkewness    float64
	Failures       []string
}

func (q Quality) Print() {
	fmt.Printf("Mesh quality:\n")
	fmt.Printf("%11.4e\t= min cell volume\n", q.MinVolume)
	fmt.Printf("%11.4e\t= max aspect ratio\n", q.MaxAspectRatio)
	fmt.Printf("%11.4e\t= max non-orthogonality (deg)\n", q.MaxNonOrth)
	fmt.Printf("%11.4e\t= max skewness\n", q.MaxSkewness)
	for _, f := range q.Failures {
		fmt.Printf("***%s\n", f)
	}
}

// CheckMesh measures the current points against th. A zero threshold disables
// that check; non-positive volumes always fail.
func (m *Mesh) CheckMesh(th Thresholds) (q Quality, ok bool) {
	var (
		g, err = m.Geometry(nil, ad.Consts(m.PointVec()))
	)
	q.MinVolume = math.Inf(1)
	if err != nil {
		q.Failures = append(q.Failures, err.Error())
		// recompute volumes without the positivity check for the report
		for _, c := range m.Cells {
			var area float64
			for e := 0; e < 4; e++ {
				a, b := m.Points[c[e]], m.Points[c[(e+1)%4]]
				area += a[0]*b[1] - b[0]*a[1]
			}
			q.MinVolume = math.Min(q.MinVolume, 0.5*area)
		}
		return q, false
	}
	for k, c := range m.Cells {
		q.MinVolume = math.Min(q.MinVolume, g.Volume[k].V)
		minE, maxE := math.Inf(1), 0.
		for e := 0; e < 4; e++ {
			a, b := m.Points[c[e]], m.Points[c[(e+1)%4]]
			l := math.Hypot(b[0]-a[0], b[1]-a[1])
			minE, maxE = math.Min(minE, l), math.Max(maxE, l)
		}
		if minE > 0 {
			q.MaxAspectRatio = math.Max(q.MaxAspectRatio, maxE/minE)
		} else {
			q.MaxAspectRatio = math.Inf(1)
		}
	}
	for f := 0; f < m.NInternalFaces; f++ {
		var (
			P, N   = g.Centre[m.Owner[f]], g.Centre[m.Neighbour[f]]
			dx, dy = N[0].V - P[0].V, N[1].V - P[1].V
			sx, sy = g.Sf[f][0].V, g.Sf[f][1].V
			d, s   = math.Hypot(dx, dy), g.MagSf[f].V
		)
		cosT := (dx*sx + dy*sy) / (d * s)
		cosT = math.Max(-1, math.Min(1, cosT))
		q.MaxNonOrth = math.Max(q.MaxNonOrth, math.Acos(cosT)*180/math.Pi)
		// distance from the face centre to the point where PN crosses the face
		var (
			fx, fy = g.Cf[f][0].V - P[0].V, g.Cf[f][1].V - P[1].V
			tx, ty = -sy / s, sx / s
			den    = dx*sx + dy*sy
		)
		if den != 0 {
			lam := (fx*sx + fy*sy) / den
			ix, iy := lam*dx-fx, lam*dy-fy
			q.MaxSkewness = math.Max(q.MaxSkewness, math.Abs(ix*tx+iy*ty)/d)
		}
	}
	if th.MaxAspectRatio > 0 && q.MaxAspectRatio > th.MaxAspectRatio {
		q.Failures = append(q.Failures, fmt.Sprintf("max aspect ratio %g exceeds %g", q.MaxAspectRatio, th.MaxAspectRatio))
	}
	if th.MaxNonOrth > 0 && q.MaxNonOrth > th.MaxNonOrth {
		q.Failures = append(q.Failures, fmt.Sprintf("max non-orthogonality %g exceeds %g", q.MaxNonOrth, th.MaxNonOrth))
	}
	if th.MaxSkewness > 0 && q.MaxSkewness > th.MaxSkewness {
		q.Failures = append(q.Failures, fmt.Sprintf("max skewness %g exceeds %g", q.MaxSkewness, th.MaxSkewness))
	}
	return q, len(q.Failures) == 0
}
