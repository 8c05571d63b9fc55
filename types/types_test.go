package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypes(t *testing.T) {
	{ // Test packed int for face labeling
		en := NewEdgeKey([2]int{1, 0})
		assert.Equal(t, EdgeKey(1<<32), en)
		assert.Equal(t, [2]int{0, 1}, en.GetVertices(false))

		en = NewEdgeKey([2]int{100, 100001})
		assert.Equal(t, EdgeKey(100001*(1<<32)+100), en)
		assert.Equal(t, [2]int{100, 100001}, en.GetVertices(false))
		assert.Equal(t, [2]int{100001, 100}, en.GetVertices(true))

		en = NewEdgeKey([2]int{1<<32 - 1, 1<<32 - 1})
		assert.Equal(t, EdgeKey(1<<64-1), en)
	}
	{ // Test option labels
		dv, err := NewDesignVarType("AOA")
		assert.NoError(t, err)
		assert.Equal(t, DV_AOA, dv)
		assert.Equal(t, "AOA", dv.String())
		_, err = NewDesignVarType("aoa")
		assert.Error(t, err)
		m, err := NewUnsteadyMode("timeAccurate")
		assert.NoError(t, err)
		assert.Equal(t, TimeAccurate, m)
		um, _ := NewUnsteadyMode("")
		assert.Equal(t, Steady, um)
		ad, err := NewADMode("reverse")
		assert.NoError(t, err)
		assert.Equal(t, AD_Reverse, ad)
		assert.Equal(t, 2, VolVector.NComp())
		assert.True(t, SurfaceScalar.IsSurface())
		assert.Equal(t, BC_In, BCNameMap["inlet"])
	}
}
