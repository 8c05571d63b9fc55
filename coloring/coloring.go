package coloring

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/coloring"
	"gonum.org/v1/gonum/graph/simple"
)

var ErrInvalidColoring = errors.New("invalid Jacobian coloring")

// Pattern is the sparsity of a Jacobian: Rows[i] holds the sorted columns that
// may be non-zero in row i.
type Pattern struct {
	NRows, NCols int
	Rows         [][]int
	cols         [][]int // transpose, built on demand
}

func NewPattern(nRows, nCols int, rows [][]int) (p *Pattern, err error) {
	if len(rows) != nRows {
		err = fmt.Errorf("pattern has %d rows, expected %d", len(rows), nRows)
		return
	}
	p = &Pattern{NRows: nRows, NCols: nCols, Rows: make([][]int, nRows)}
	for i, row := range rows {
		seen := make(map[int]bool, len(row))
		for _, j := range row {
			if j < 0 || j >= nCols {
				err = fmt.Errorf("pattern column %d in row %d out of range [0,%d)", j, i, nCols)
				return
			}
			if !seen[j] {
				seen[j] = true
				p.Rows[i] = append(p.Rows[i], j)
			}
		}
		sort.Ints(p.Rows[i])
	}
	return
}

func (p *Pattern) NNZ() (nnz int) {
	for _, row := range p.Rows {
		nnz += len(row)
	}
	return
}

// Cols returns, for each column, the rows it appears in.
func (p *Pattern) Cols() [][]int {
	if p.cols == nil {
		p.cols = make([][]int, p.NCols)
		for i, row := range p.Rows {
			for _, j := range row {
				p.cols[j] = append(p.cols[j], i)
			}
		}
	}
	return p.cols
}

// Coloring groups structurally orthogonal columns.
type Coloring struct {
	NColors int
	Color   []int   // color of each column
	Groups  [][]int // columns of each color, ascending
}

/*
Color partitions the columns of p so that no two columns sharing a row have the
same color. The column intersection graph is colored with the Welsh-Powell
heuristic and the result is verified before it is returned.
*/
func Color(p *Pattern) (c *Coloring, err error) {
	g := simple.NewUndirectedGraph()
	for j := 0; j < p.NCols; j++ {
		g.AddNode(simple.Node(j))
	}
	for _, row := range p.Rows {
		for a := 0; a < len(row); a++ {
			for b := a + 1; b < len(row); b++ {
				g.SetEdge(g.NewEdge(simple.Node(row[a]), simple.Node(row[b])))
			}
		}
	}
	c = &Coloring{Color: make([]int, p.NCols)}
	if p.NCols == 0 {
		return
	}
	_, colors, err := coloring.WelshPowell(g, nil)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidColoring, err)
		return
	}
	sets := coloring.Sets(colors)
	keys := make([]int, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for ic, k := range keys {
		var group []int
		for _, id := range sets[k] {
			c.Color[id] = ic
			group = append(group, int(id))
		}
		c.Groups = append(c.Groups, group)
	}
	c.NColors = len(c.Groups)
	if err = c.Validate(p); err != nil {
		c = nil
	}
	return
}

// Validate checks every column is colored once and no row holds two columns of
// the same color.
func (c *Coloring) Validate(p *Pattern) error {
	if len(c.Color) != p.NCols {
		return fmt.Errorf("%w: %d colored columns for %d columns", ErrInvalidColoring, len(c.Color), p.NCols)
	}
	var count int
	for _, g := range c.Groups {
		count += len(g)
	}
	if count != p.NCols {
		return fmt.Errorf("%w: groups hold %d columns for %d columns", ErrInvalidColoring, count, p.NCols)
	}
	for i, row := range p.Rows {
		used := make(map[int]int, len(row))
		for _, j := range row {
			if other, ok := used[c.Color[j]]; ok {
				return fmt.Errorf("%w: columns %d and %d share row %d and color %d",
					ErrInvalidColoring, other, j, i, c.Color[j])
			}
			used[c.Color[j]] = j
		}
	}
	return nil
}
