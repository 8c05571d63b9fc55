package timeinstance

import (
	"errors"
	"testing"

	"github.com/notargets/goadjoint/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sample(i int) Instance {
	return Instance{
		State:         []float64{float64(i), 0.1 * float64(i), -1},
		StateBoundary: []float64{float64(i * i)},
		ObjFuncs:      map[string]float64{"CD": 0.5 + float64(i)},
		Time:          0.25 * float64(i+1),
		TimeIndex:     i + 1,
	}
}

func TestManager(t *testing.T) {
	tm, err := NewManager(types.Hybrid, 4, 1, nil)
	require.NoError(t, err)
	{ // Test save and restore reproduce every instance
		for i := 0; i < tm.N(); i++ {
			require.NoError(t, tm.Save(i, sample(i)))
		}
		for i := 0; i < tm.N(); i++ {
			inst, err := tm.Restore(i)
			require.NoError(t, err)
			assert.Equal(t, sample(i), inst)
		}
	}
	{ // Test stored records do not alias the caller's slices
		inst := sample(1)
		require.NoError(t, tm.Save(1, inst))
		inst.State[0] = 99
		back, _ := tm.Restore(1)
		assert.Equal(t, 1., back.State[0])
		back.ObjFuncs["CD"] = -1
		v, _ := tm.Objective(1, "CD")
		assert.Equal(t, 1.5, v)
	}
	{ // Test out of range indices are usage errors
		_, err = tm.Restore(4)
		assert.True(t, errors.Is(err, ErrInstanceRange))
		_, err = tm.Restore(-1)
		assert.True(t, errors.Is(err, ErrInstanceRange))
		assert.True(t, errors.Is(tm.Save(4, sample(0)), ErrInstanceRange))
		_, err = tm.Objective(7, "CD")
		assert.True(t, errors.Is(err, ErrInstanceRange))
	}
	{ // Test objectives
		_, err = tm.Objective(0, "CL")
		assert.Error(t, err)
		mean, err := tm.MeanObjective("CD")
		require.NoError(t, err)
		assert.InDelta(t, 2.0, mean, 1e-15)
	}
	{ // Test matrix round trip
		S, B, times, idx, err := tm.ToMatrices()
		require.NoError(t, err)
		r, c := S.Dims()
		assert.Equal(t, 3, r)
		assert.Equal(t, 4, c)
		assert.Equal(t, 9., B.At(0, 3))
		S.Set(0, 2, 42)
		require.NoError(t, tm.FromMatrices(S, B, times, idx))
		inst, _ := tm.Restore(2)
		assert.Equal(t, 42., inst.State[0])
		assert.Equal(t, 2.5, inst.ObjFuncs["CD"])
		assert.ErrorIs(t, tm.FromMatrices(S, B, times[:2], idx), ErrShape)
		assert.ErrorIs(t, tm.FromMatrices(mat.NewDense(7, 4, nil), mat.NewDense(5, 4, nil), times, idx), ErrShape)
		assert.ErrorIs(t, tm.FromMatrices(S, mat.NewDense(2, 4, nil), times, idx), ErrShape)
		assert.ErrorIs(t, tm.FromMatrices(nil, B, times, idx), ErrShape)
		inst, _ = tm.Restore(0)
		assert.Len(t, inst.State, 3)
		assert.Len(t, inst.StateBoundary, 1)
	}
	{ // Test an empty boundary state survives the padded round trip
		tb, err := NewManager(types.Hybrid, 2, 1, nil)
		require.NoError(t, err)
		for i := 0; i < tb.N(); i++ {
			inst := sample(i)
			inst.StateBoundary = nil
			require.NoError(t, tb.Save(i, inst))
		}
		S, B, times, idx, err := tb.ToMatrices()
		require.NoError(t, err)
		r, _ := B.Dims()
		assert.Equal(t, 1, r)
		require.NoError(t, tb.FromMatrices(S, B, times, idx))
		inst, _ := tb.Restore(1)
		assert.Len(t, inst.StateBoundary, 0)
		assert.Equal(t, sample(1).State, inst.State)
	}
	{ // Test sample times
		assert.InDeltaSlice(t, []float64{9.25, 9.5, 9.75, 10}, tm.SampleTimes(10, 0.01), 1e-12)
		assert.Equal(t, 1, tm.InstanceAt(9.5, 10, 0.01))
		assert.Equal(t, -1, tm.InstanceAt(9.3, 10, 0.01))
	}
	{ // Test unsaved slots and the initial state
		tm2, err := NewManager(types.TimeAccurate, 2, 0, nil)
		require.NoError(t, err)
		_, err = tm2.Restore(0)
		assert.True(t, errors.Is(err, ErrNotSaved))
		_, err = tm2.Initial()
		assert.True(t, errors.Is(err, ErrNotSaved))
		require.NoError(t, tm2.SaveInitial(sample(3)))
		inst, err := tm2.Initial()
		require.NoError(t, err)
		assert.Equal(t, sample(3), inst)
		assert.Equal(t, []float64{0.1, 0.2}, tm2.SampleTimes(0.2, 0.1))
	}
	_, err = NewManager(types.Hybrid, 0, 1, nil)
	assert.True(t, errors.Is(err, ErrInstanceRange))
	_, err = NewManager(types.Hybrid, 2, 0, nil)
	assert.Error(t, err)
}

func TestBadgerStore(t *testing.T) {
	bs, err := OpenBadgerStore("")
	require.NoError(t, err)
	tm, err := NewManager(types.TimeAccurate, 3, 0, bs)
	require.NoError(t, err)
	defer tm.Close()
	for i := 0; i < 3; i++ {
		require.NoError(t, tm.Save(i, sample(i)))
	}
	inst, err := bs.Get(2)
	require.NoError(t, err)
	assert.Equal(t, sample(2), inst)
	// a second manager on the same store reloads the arena
	tm2, err := NewManager(types.TimeAccurate, 3, 0, bs)
	require.NoError(t, err)
	require.NoError(t, tm2.Load())
	for i := 0; i < 3; i++ {
		inst, err := tm2.Restore(i)
		require.NoError(t, err)
		assert.Equal(t, sample(i), inst)
	}
	_, err = bs.Get(5)
	assert.True(t, errors.Is(err, ErrNotSaved))
	{ // Test the initial state is persisted and reloaded
		_, err = tm2.Initial()
		assert.True(t, errors.Is(err, ErrNotSaved))
		require.NoError(t, tm.SaveInitial(sample(7)))
		tm3, err := NewManager(types.TimeAccurate, 3, 0, bs)
		require.NoError(t, err)
		require.NoError(t, tm3.Load())
		inst, err := tm3.Initial()
		require.NoError(t, err)
		assert.Equal(t, sample(7), inst)
	}
	{ // Test a store missing an instance or mixing layouts fails to load
		tm4, err := NewManager(types.TimeAccurate, 4, 0, bs)
		require.NoError(t, err)
		assert.True(t, errors.Is(tm4.Load(), ErrNotSaved))
		bad := sample(1)
		bad.State = append(bad.State, 1)
		require.NoError(t, bs.Put(1, bad))
		assert.True(t, errors.Is(tm2.Load(), ErrShape))
		inst, err := tm2.Restore(1)
		require.NoError(t, err)
		assert.Equal(t, sample(1), inst)
	}
}
