package timeinstance

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/notargets/goadjoint/types"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInstanceRange = errors.New("time instance index out of range")
	ErrNotSaved      = errors.New("time instance has not been saved")
	ErrShape         = errors.New("matrix shape does not match the time instances")
)

// Instance is one stored snapshot of the primal solution.
type Instance struct {
	State         []float64          `json:"state"`
	StateBoundary []float64          `json:"stateBoundary"`
	ObjFuncs      map[string]float64 `json:"objFuncs"`
	Time          float64            `json:"time"`
	TimeIndex     int                `json:"timeIndex"`
}

func (inst Instance) copy() (c Instance) {
	c = Instance{
		State:         append([]float64{}, inst.State...),
		StateBoundary: append([]float64{}, inst.StateBoundary...),
		ObjFuncs:      make(map[string]float64, len(inst.ObjFuncs)),
		Time:          inst.Time,
		TimeIndex:     inst.TimeIndex,
	}
	for k, v := range inst.ObjFuncs {
		c.ObjFuncs[k] = v
	}
	return
}

// Store persists instances outside the process.
type Store interface {
	Put(i int, inst Instance) error
	Get(i int) (Instance, error)
	Close() error
}

/*
Manager is a fixed size arena of time instances. The count is set at
construction and every accessor is bounds checked. A record is only ever
replaced whole.
*/
type Manager struct {
	Mode        types.UnsteadyMode
	Periodicity float64
	instances   []Instance
	saved       []bool
	initial     *Instance
	store       Store
}

// NewManager allocates n instances. store may be nil.
func NewManager(mode types.UnsteadyMode, n int, periodicity float64, store Store) (tm *Manager, err error) {
	if n < 1 {
		err = fmt.Errorf("%w: need at least one time instance, have %d", ErrInstanceRange, n)
		return
	}
	if mode == types.Hybrid && periodicity <= 0 {
		err = fmt.Errorf("hybrid unsteady adjoint needs a positive periodicity, have %g", periodicity)
		return
	}
	tm = &Manager{
		Mode:        mode,
		Periodicity: periodicity,
		instances:   make([]Instance, n),
		saved:       make([]bool, n),
		store:       store,
	}
	return
}

func (tm *Manager) N() int { return len(tm.instances) }

func (tm *Manager) check(i int) error {
	if i < 0 || i >= len(tm.instances) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInstanceRange, i, len(tm.instances))
	}
	return nil
}

// Save stores a deep copy of inst in slot i, writing through to the store.
func (tm *Manager) Save(i int, inst Instance) (err error) {
	if err = tm.check(i); err != nil {
		return
	}
	c := inst.copy()
	if tm.store != nil {
		if err = tm.store.Put(i, c); err != nil {
			return fmt.Errorf("persisting time instance %d: %w", i, err)
		}
	}
	tm.instances[i], tm.saved[i] = c, true
	return
}

// Restore returns a deep copy of slot i.
func (tm *Manager) Restore(i int) (inst Instance, err error) {
	if err = tm.check(i); err != nil {
		return
	}
	if !tm.saved[i] {
		err = fmt.Errorf("%w: %d", ErrNotSaved, i)
		return
	}
	return tm.instances[i].copy(), nil
}

func (tm *Manager) Objective(i int, name string) (val float64, err error) {
	if err = tm.check(i); err != nil {
		return
	}
	if !tm.saved[i] {
		err = fmt.Errorf("%w: %d", ErrNotSaved, i)
		return
	}
	var ok bool
	if val, ok = tm.instances[i].ObjFuncs[name]; !ok {
		err = fmt.Errorf("time instance %d has no objective %q", i, name)
	}
	return
}

// MeanObjective averages an objective over all instances.
func (tm *Manager) MeanObjective(name string) (mean float64, err error) {
	for i := range tm.instances {
		var v float64
		if v, err = tm.Objective(i, name); err != nil {
			return
		}
		mean += v
	}
	return mean / float64(len(tm.instances)), nil
}

// InitialSlot is the store index of the initial state.
const InitialSlot = -1

// SaveInitial keeps the state before the first instance, the old time level
// of instance 0 in time accurate runs.
func (tm *Manager) SaveInitial(inst Instance) (err error) {
	c := inst.copy()
	if tm.store != nil {
		if err = tm.store.Put(InitialSlot, c); err != nil {
			return fmt.Errorf("persisting the initial state: %w", err)
		}
	}
	tm.initial = &c
	return
}

func (tm *Manager) Initial() (inst Instance, err error) {
	if tm.initial == nil {
		err = fmt.Errorf("%w: initial state", ErrNotSaved)
		return
	}
	return tm.initial.copy(), nil
}

/*
SampleTimes returns the time of every instance. Hybrid runs sample the last
periodicity before endTime evenly; time accurate runs store every step.
*/
func (tm *Manager) SampleTimes(endTime, deltaT float64) (times []float64) {
	n := len(tm.instances)
	times = make([]float64, n)
	for i := range times {
		switch tm.Mode {
		case types.Hybrid:
			times[i] = endTime - tm.Periodicity + float64(i+1)*tm.Periodicity/float64(n)
		default:
			times[i] = float64(i+1) * deltaT
		}
	}
	return
}

// InstanceAt reports the instance sampled at time t, -1 when none is.
func (tm *Manager) InstanceAt(t, endTime, deltaT float64) int {
	times := tm.SampleTimes(endTime, deltaT)
	tol := 1e-8 * math.Max(deltaT, 1e-300)
	i := sort.Search(len(times), func(k int) bool { return times[k] >= t-tol })
	if i < len(times) && math.Abs(times[i]-t) <= tol {
		return i
	}
	return -1
}

// ToMatrices copies the arena into column-per-instance matrices.
func (tm *Manager) ToMatrices() (state, stateBC *mat.Dense, times, timeIdx []float64, err error) {
	n := len(tm.instances)
	for i := range tm.instances {
		if !tm.saved[i] {
			err = fmt.Errorf("%w: %d", ErrNotSaved, i)
			return
		}
	}
	var (
		ns, nb = len(tm.instances[0].State), len(tm.instances[0].StateBoundary)
	)
	state = mat.NewDense(max(ns, 1), n, nil)
	stateBC = mat.NewDense(max(nb, 1), n, nil)
	times, timeIdx = make([]float64, n), make([]float64, n)
	for i, inst := range tm.instances {
		if len(inst.State) != ns || len(inst.StateBoundary) != nb {
			err = fmt.Errorf("time instance %d has %d/%d states, instance 0 has %d/%d",
				i, len(inst.State), len(inst.StateBoundary), ns, nb)
			return
		}
		state.SetCol(i, padded(inst.State, 1))
		stateBC.SetCol(i, padded(inst.StateBoundary, 1))
		times[i], timeIdx[i] = inst.Time, float64(inst.TimeIndex)
	}
	return
}

/*
FromMatrices replaces the state part of every instance, keeping objectives.
Once an instance is saved the row counts must match the stored state and
boundary lengths, an empty vector travelling as one padding row as written by
ToMatrices.
*/
func (tm *Manager) FromMatrices(state, stateBC *mat.Dense, times, timeIdx []float64) (err error) {
	n := len(tm.instances)
	if state == nil || stateBC == nil {
		return fmt.Errorf("%w: nil state or boundary state matrix", ErrShape)
	}
	var (
		rs, cs = state.Dims()
		rb, cb = stateBC.Dims()
		ns, nb = rs, rb
	)
	if cs != n || cb != n {
		return fmt.Errorf("%w: matrices have %d and %d columns for %d instances", ErrShape, cs, cb, n)
	}
	if len(times) != n || len(timeIdx) != n {
		return fmt.Errorf("%w: %d times and %d time indices for %d instances", ErrShape, len(times), len(timeIdx), n)
	}
	if ls, lb, ok := tm.layout(); ok {
		if rs != max(ls, 1) || rb != max(lb, 1) {
			return fmt.Errorf("%w: matrices have %d and %d rows, time instances hold %d states and %d boundary states",
				ErrShape, rs, rb, ls, lb)
		}
		ns, nb = ls, lb
	}
	for i := 0; i < n; i++ {
		inst := tm.instances[i].copy()
		inst.State = mat.Col(nil, i, state)[:ns]
		inst.StateBoundary = mat.Col(nil, i, stateBC)[:nb]
		inst.Time, inst.TimeIndex = times[i], int(timeIdx[i])
		if err = tm.Save(i, inst); err != nil {
			return
		}
	}
	return
}

// layout returns the state and boundary lengths of the first saved instance.
func (tm *Manager) layout() (ns, nb int, ok bool) {
	for i, saved := range tm.saved {
		if saved {
			return len(tm.instances[i].State), len(tm.instances[i].StateBoundary), true
		}
	}
	return
}

/*
Load refills the arena from the store, and the initial state when one was
saved. Every instance must be present and all must share one layout.
*/
func (tm *Manager) Load() (err error) {
	if tm.store == nil {
		return fmt.Errorf("no time instance store configured")
	}
	loaded := make([]Instance, len(tm.instances))
	for i := range loaded {
		if loaded[i], err = tm.store.Get(i); err != nil {
			return fmt.Errorf("loading time instance %d: %w", i, err)
		}
		if len(loaded[i].State) != len(loaded[0].State) || len(loaded[i].StateBoundary) != len(loaded[0].StateBoundary) {
			return fmt.Errorf("%w: stored instance %d has %d/%d states, instance 0 has %d/%d", ErrShape,
				i, len(loaded[i].State), len(loaded[i].StateBoundary), len(loaded[0].State), len(loaded[0].StateBoundary))
		}
	}
	initial, err := tm.store.Get(InitialSlot)
	switch {
	case err == nil:
		tm.initial = &initial
	case errors.Is(err, ErrNotSaved):
		err = nil
	default:
		return fmt.Errorf("loading the initial state: %w", err)
	}
	for i, inst := range loaded {
		tm.instances[i], tm.saved[i] = inst, true
	}
	return
}

func (tm *Manager) Close() error {
	if tm.store == nil {
		return nil
	}
	return tm.store.Close()
}

// gonum matrices cannot be empty
func padded(v []float64, n int) []float64 {
	if len(v) >= n {
		return v
	}
	return append(append([]float64{}, v...), make([]float64, n-len(v))...)
}
