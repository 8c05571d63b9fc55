package mesh

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

/*
BumpModes returns dXv/dFFD for nModes sine shape functions acting on the y
coordinate, each fading linearly from the bottom boundary to the top one:

	dy_p/da_k = sin(k pi x_p / lx) * (1 - (y_p - ymin)/(ymax - ymin))

The matrix is 2*nPoints by nModes, rows follow the flat point vector.
*/
func (m *Mesh) BumpModes(nModes int) (dXvdFFD *mat.Dense) {
	var (
		xmin, xmax = math.Inf(1), math.Inf(-1)
		ymin, ymax = math.Inf(1), math.Inf(-1)
	)
	for _, p := range m.Points {
		xmin, xmax = math.Min(xmin, p[0]), math.Max(xmax, p[0])
		ymin, ymax = math.Min(ymin, p[1]), math.Max(ymax, p[1])
	}
	dXvdFFD = mat.NewDense(2*m.NPoints(), nModes, nil)
	for i, p := range m.Points {
		decay := 1 - (p[1]-ymin)/(ymax-ymin)
		for k := 0; k < nModes; k++ {
			dXvdFFD.Set(XvIndex(i, 1), k, math.Sin(float64(k+1)*math.Pi*(p[0]-xmin)/(xmax-xmin))*decay)
		}
	}
	return
}
