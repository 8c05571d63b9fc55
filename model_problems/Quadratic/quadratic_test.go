package Quadratic

import (
	"testing"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/fields"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuadratic(t *testing.T) {
	ip := InputParameters.NewInputParameters()
	ip.SolverName = "Quadratic"
	q, err := NewQuadratic(ip)
	require.NoError(t, err)
	{ // Test the initial residual W=1: 1 - 4 + 0
		res, v, err := q.Evaluate(fields.LiveInputs(q.Adapter(), q.Params()))
		require.NoError(t, err)
		assert.Equal(t, -3., res[0].V)
		W, err := v.CellField("W")
		require.NoError(t, err)
		assert.Equal(t, 1., W[0].V)
		assert.Equal(t, 1., v.Geometry().Volume[0].V)
	}
	{ // Test Newton reaches the root W = 2
		for i := 0; i < 20; i++ {
			n, err := q.Iterate()
			require.NoError(t, err)
			if n < 1e-14 {
				break
			}
		}
		assert.InDelta(t, 2, q.Adapter().StateVec()[0], 1e-12)
	}
	{ // Test the design parameter moves the root
		require.NoError(t, q.Params().Set("X", []float64{3}))
		for i := 0; i < 20; i++ {
			_, err := q.Iterate()
			require.NoError(t, err)
		}
		assert.InDelta(t, 1, q.Adapter().StateVec()[0], 1e-12)
		assert.Error(t, q.Params().Set("X", []float64{1, 2}))
	}
}
