package coloring

import (
	"fmt"

	"github.com/notargets/goadjoint/utils"
	"golang.org/x/sync/errgroup"
)

// JVP computes dst = J * seed.
type JVP func(dst, seed []float64) error

/*
Assemble recovers the entries of a sparse Jacobian from one product per color.
Each color seeds all of its columns at once; since they share no row, every
non-zero of the product belongs to exactly one of them. With transpose set the
result is J^T. Up to workers color groups run at once; pass 1 when jvp is not
safe for concurrent use.
*/
func Assemble(p *Pattern, c *Coloring, jvp JVP, transpose bool, workers int) (J utils.CSR, err error) {
	var (
		cols     = p.Cols()
		products = make([][]float64, c.NColors)
		eg       errgroup.Group
	)
	if workers < 1 {
		workers = 1
	}
	eg.SetLimit(workers)
	for ic := range c.Groups {
		ic := ic
		eg.Go(func() error {
			seed := make([]float64, p.NCols)
			for _, j := range c.Groups[ic] {
				seed[j] = 1
			}
			y := make([]float64, p.NRows)
			if err := jvp(y, seed); err != nil {
				return fmt.Errorf("color %d: %w", ic, err)
			}
			products[ic] = y
			return nil
		})
	}
	if err = eg.Wait(); err != nil {
		return
	}
	var D utils.DOK
	if transpose {
		D = utils.NewDOK(p.NCols, p.NRows)
	} else {
		D = utils.NewDOK(p.NRows, p.NCols)
	}
	for j, rows := range cols {
		y := products[c.Color[j]]
		for _, i := range rows {
			if transpose {
				D.Set(j, i, y[i])
			} else {
				D.Set(i, j, y[i])
			}
		}
	}
	J = D.ToCSR()
	return
}
