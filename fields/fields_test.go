package fields

import (
	"testing"

	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStates = []StateInfo{
	{Name: "T", Type: types.VolScalar},
	{Name: "U", Type: types.VolVector},
	{Name: "phi", Type: types.SurfaceScalar},
}

func TestStateIndex(t *testing.T) {
	m, err := mesh.NewRectangle(3, 2, 3, 2, 0)
	require.NoError(t, err)
	for _, ordering := range []string{"state", "cell"} {
		si, err := NewStateIndex(m, testStates, ordering)
		require.NoError(t, err)
		{ // Test sizes
			assert.Equal(t, 6*(1+2)+7, si.NLocalAdjointStates)
			assert.Equal(t, 10, si.NLocalAdjointBoundaryStates)
			assert.Equal(t, 35, si.NStates())
		}
		{ // Test Index and Locate are inverse and cover every slot once
			seen := make(map[int]bool)
			for s, st := range si.States {
				nElem, nComp := si.NCells, st.Type.NComp()
				if st.Type.IsSurface() {
					nElem = m.NFaces()
				}
				for e := 0; e < nElem; e++ {
					for c := 0; c < nComp; c++ {
						i, err := si.Index(st.Name, e, c)
						require.NoError(t, err)
						assert.False(t, seen[i])
						seen[i] = true
						assert.Equal(t, Loc{s, e, c}, si.Locate(i))
						assert.Equal(t, st.Type.IsSurface() && m.IsBoundary(e), si.IsBoundaryState(i))
					}
				}
			}
			assert.Equal(t, si.NStates(), len(seen))
		}
		{ // Test usage errors
			_, err = si.Index("p", 0, 0)
			assert.Error(t, err)
			_, err = si.Index("T", si.NCells, 0)
			assert.Error(t, err)
			_, err = si.Index("U", 0, 2)
			assert.Error(t, err)
		}
	}
	{ // Test cell ordering keeps a cell's volume components together
		si, err := NewStateIndex(m, testStates, "cell")
		require.NoError(t, err)
		iT, _ := si.Index("T", 4, 0)
		iU0, _ := si.Index("U", 4, 0)
		iU1, _ := si.Index("U", 4, 1)
		assert.Equal(t, iT+1, iU0)
		assert.Equal(t, iT+2, iU1)
	}
	_, err = NewStateIndex(m, testStates, "face")
	assert.Error(t, err)
	_, err = NewStateIndex(m, []StateInfo{{"T", types.VolScalar}, {"T", types.VolScalar}}, "")
	assert.Error(t, err)
}

func TestAdapter(t *testing.T) {
	for _, ordering := range []string{"state", "cell"} {
		// the point round trip below moves the mesh, so every ordering gets its own
		m, err := mesh.NewRectangle(3, 2, 3, 2, 0)
		require.NoError(t, err)
		si, err := NewStateIndex(m, testStates, ordering)
		require.NoError(t, err)
		fs := NewFields(m, testStates)
		a := NewAdapter(si, fs)
		{ // Test state round trip
			w := make([]float64, si.NStates())
			for i := range w {
				w[i] = 0.5*float64(i) - 3
			}
			require.NoError(t, a.StateVecToField(w))
			assert.Equal(t, w, a.StateVec())
			i, _ := si.Index("U", 5, 1)
			u, _ := fs.Get("U")
			assert.Equal(t, w[i], u.Internal[5*2+1])
			i, _ = si.Index("phi", m.NInternalFaces+2, 0)
			phi, _ := fs.Get("phi")
			assert.Equal(t, w[i], phi.Boundary[2])
		}
		{ // Test residual round trip
			r := make([]float64, si.NStates())
			for i := range r {
				r[i] = float64(i * i)
			}
			require.NoError(t, a.ResVecToResField(r))
			back := make([]float64, len(r))
			require.NoError(t, a.ResFieldToResVec(back))
			assert.Equal(t, r, back)
		}
		{ // Test length mismatch is a usage error
			assert.Error(t, a.StateVecToField(make([]float64, si.NStates()-1)))
			assert.Error(t, a.ResFieldToResVec(make([]float64, 1)))
		}
		{ // Test boundary states and points
			b := a.BoundaryStateVec()
			assert.Equal(t, 3*m.NBoundaryFaces(), len(b))
			for i := range b {
				b[i] = float64(i)
			}
			require.NoError(t, a.SetBoundaryStateVec(b))
			assert.Equal(t, b, a.BoundaryStateVec())
			assert.Error(t, a.SetBoundaryStateVec(b[1:]))
			xv := make([]float64, 2*m.NPoints())
			require.NoError(t, a.MeshToPointVec(xv))
			xv[1] += 0.01
			require.NoError(t, a.PointVecToMesh(xv))
			assert.InDelta(t, 0.01, m.Points[0][1], 1e-15)
		}
	}
}

func TestParams(t *testing.T) {
	p := NewParams()
	require.NoError(t, p.Add("U0", []float64{1}))
	require.NoError(t, p.Add("AOA", []float64{3}))
	assert.Error(t, p.Add("U0", []float64{2}))
	assert.Equal(t, []string{"AOA", "U0"}, p.Names())
	require.NoError(t, p.Set("U0", []float64{2}))
	v, err := p.Get("U0")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, v)
	assert.Error(t, p.Set("U0", []float64{1, 2}))
	_, err = p.Get("T0")
	assert.Error(t, err)

	in := PassiveInputs([]float64{1, 2}, nil, []float64{0, 0}, p, 0, 0)
	aoa, err := in.Param("AOA")
	require.NoError(t, err)
	assert.Equal(t, 3., aoa[0].V)
	assert.Nil(t, in.WOld)
	_, err = in.Param("beta")
	assert.Error(t, err)
}
