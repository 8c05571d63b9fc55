package coloring

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tridiagonalPattern(t *testing.T, n int) *Pattern {
	rows := make([][]int, n)
	for i := range rows {
		for _, j := range []int{i + 1, i, i - 1} {
			if j >= 0 && j < n {
				rows[i] = append(rows[i], j)
			}
		}
	}
	p, err := NewPattern(n, n, rows)
	require.NoError(t, err)
	return p
}

func TestColor(t *testing.T) {
	{ // Test a tridiagonal pattern, at least three colors and at most max degree + 1
		p := tridiagonalPattern(t, 10)
		assert.Equal(t, []int{0, 1}, p.Rows[0])
		assert.Equal(t, 28, p.NNZ())
		c, err := Color(p)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.NColors, 3)
		assert.LessOrEqual(t, c.NColors, 5)
		assert.NoError(t, c.Validate(p))
		for ic, g := range c.Groups {
			assert.True(t, sort.IntsAreSorted(g), "group %d", ic)
			for _, j := range g {
				assert.Equal(t, ic, c.Color[j])
			}
		}
	}
	{ // Test a diagonal pattern needs one
		p, err := NewPattern(3, 3, [][]int{{0}, {1, 1}, {2}})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, p.Rows[1])
		c, err := Color(p)
		require.NoError(t, err)
		assert.Equal(t, 1, c.NColors)
		assert.Equal(t, []int{0, 1, 2}, c.Groups[0])
	}
	{ // Test validation rejects a conflicting coloring
		p := tridiagonalPattern(t, 4)
		c := &Coloring{NColors: 2, Color: []int{0, 1, 0, 0}, Groups: [][]int{{0, 2, 3}, {1}}}
		assert.True(t, errors.Is(c.Validate(p), ErrInvalidColoring))
	}
	{ // Test out of range columns
		_, err := NewPattern(1, 2, [][]int{{2}})
		assert.Error(t, err)
	}
}

func TestAssemble(t *testing.T) {
	var (
		n = 7
		p = tridiagonalPattern(t, n)
		a = func(i, j int) float64 { return float64(10*i + j + 1) }
	)
	jvp := func(dst, seed []float64) error {
		for i, row := range p.Rows {
			dst[i] = 0
			for _, j := range row {
				dst[i] += a(i, j) * seed[j]
			}
		}
		return nil
	}
	c, err := Color(p)
	require.NoError(t, err)
	for _, transpose := range []bool{false, true} {
		J, err := Assemble(p, c, jvp, transpose, 4)
		require.NoError(t, err)
		assert.Equal(t, p.NNZ(), J.NNZ())
		for i, row := range p.Rows {
			for _, j := range row {
				if transpose {
					assert.Equal(t, a(i, j), J.At(j, i))
				} else {
					assert.Equal(t, a(i, j), J.At(i, j))
				}
			}
		}
	}
	{ // Test a failing product is reported
		_, err := Assemble(p, c, func(dst, seed []float64) error { return fmt.Errorf("boom") }, false, 1)
		assert.Error(t, err)
	}
}
