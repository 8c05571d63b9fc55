package ad

import (
	"errors"
	"fmt"
)

var (
	ErrModeConflict      = errors.New("tape is live for a different mode")
	ErrNotRecording      = errors.New("tape is not recording")
	ErrNotRecorded       = errors.New("tape has no completed recording")
	ErrNonDifferentiable = errors.New("recorded region contains a non-differentiable branch")
	ErrGroup             = errors.New("unknown tape group")
	ErrSeedLength        = errors.New("seed length does not match group size")
)

// Real is a scalar flowing through an evaluation. The zero value is a passive
// constant; active values carry the index of the node that produced them.
type Real struct {
	V  float64
	id int32 // 1-based node index, 0 when passive
}

func Const(v float64) Real  { return Real{V: v} }
func (r Real) Active() bool { return r.id != 0 }

func Consts(vals []float64) (rs []Real) {
	rs = make([]Real, len(vals))
	for i, v := range vals {
		rs[i].V = v
	}
	return
}

func Values(rs []Real) (vals []float64) {
	vals = make([]float64, len(rs))
	for i, r := range rs {
		vals[i] = r.V
	}
	return
}

type TapeState uint8

const (
	Idle TapeState = iota
	Recording
	Recorded
)

func (s TapeState) String() string {
	return [...]string{"Idle", "Recording", "Recorded"}[s]
}

type inputGroup struct {
	first, n int32
}

// Tape is a Wengert list of elementary operations. Each node keeps at most two
// parents with their local partial derivatives. Only one mode is live at a
// time: Begin fails until Reset tears down the previous recording.
type Tape struct {
	mode    string
	state   TapeState
	p1, p2  []int32
	d1, d2  []float64
	adj     []float64
	tan     []float64
	inputs  []inputGroup
	outputs [][]int32
	held    int
	nonDiff string
	// Recordings counts completed recordings over the tape's lifetime
	Recordings int
}

func NewTape() *Tape {
	return &Tape{}
}

func (t *Tape) Mode() string        { return t.mode }
func (t *Tape) State() TapeState    { return t.state }
func (t *Tape) Live() bool          { return t.state != Idle }
func (t *Tape) NumNodes() int       { return len(t.p1) }
func (t *Tape) NumInputGroups() int { return len(t.inputs) }

// Recording is true when operations are being captured. A nil tape never
// records, so evaluation code can run passively with a nil *Tape.
func (t *Tape) Recording() bool {
	return t != nil && t.state == Recording && t.held == 0
}

func (t *Tape) Begin(mode string) error {
	if t.state != Idle {
		return fmt.Errorf("%w: live mode %q, requested %q", ErrModeConflict, t.mode, mode)
	}
	t.mode = mode
	t.state = Recording
	t.p1, t.p2 = t.p1[:0], t.p2[:0]
	t.d1, t.d2 = t.d1[:0], t.d2[:0]
	t.inputs = t.inputs[:0]
	t.outputs = t.outputs[:0]
	t.adj, t.tan = nil, nil
	t.nonDiff = ""
	t.held = 0
	return nil
}

// End closes the recording. A recording flagged non-differentiable is discarded.
func (t *Tape) End() error {
	if t.state != Recording {
		return fmt.Errorf("%w: state %s", ErrNotRecording, t.state)
	}
	if t.nonDiff != "" {
		reason := t.nonDiff
		t.Reset()
		return fmt.Errorf("%w: %s", ErrNonDifferentiable, reason)
	}
	t.state = Recorded
	t.Recordings++
	return nil
}

func (t *Tape) Reset() {
	t.mode = ""
	t.state = Idle
	t.p1, t.p2, t.d1, t.d2 = nil, nil, nil, nil
	t.adj, t.tan = nil, nil
	t.inputs, t.outputs = nil, nil
	t.held = 0
	t.nonDiff = ""
}

// MarkNonDifferentiable flags the current recording as unusable. Evaluation code
// calls it when it takes a fallback branch that has no meaningful derivative.
func (t *Tape) MarkNonDifferentiable(reason string) {
	if t.Recording() && t.nonDiff == "" {
		t.nonDiff = reason
	}
}

// Hold runs fn with recording suspended; values produced inside are passive.
func (t *Tape) Hold(fn func()) {
	if t == nil {
		fn()
		return
	}
	t.held++
	defer func() { t.held-- }()
	fn()
}

// Freeze returns a passive copy of r.
func (t *Tape) Freeze(r Real) Real { return Real{V: r.V} }

func (t *Tape) RegisterInput(vals []float64) (group int, xs []Real, err error) {
	if t.state != Recording {
		return -1, nil, fmt.Errorf("register input: %w", ErrNotRecording)
	}
	g := inputGroup{first: int32(len(t.p1)), n: int32(len(vals))}
	xs = make([]Real, len(vals))
	for i, v := range vals {
		t.p1 = append(t.p1, -1)
		t.p2 = append(t.p2, -1)
		t.d1 = append(t.d1, 0)
		t.d2 = append(t.d2, 0)
		xs[i] = Real{V: v, id: int32(len(t.p1))}
	}
	t.inputs = append(t.inputs, g)
	return len(t.inputs) - 1, xs, nil
}

// RegisterOutput marks rs as dependent variables. Passive entries are allowed and
// contribute nothing to a reverse sweep.
func (t *Tape) RegisterOutput(rs []Real) (group int, err error) {
	if t.state != Recording {
		return -1, fmt.Errorf("register output: %w", ErrNotRecording)
	}
	ids := make([]int32, len(rs))
	for i, r := range rs {
		ids[i] = r.id - 1
	}
	t.outputs = append(t.outputs, ids)
	return len(t.outputs) - 1, nil
}

func (t *Tape) OutputSize(group int) int {
	if group < 0 || group >= len(t.outputs) {
		return -1
	}
	return len(t.outputs[group])
}

func (t *Tape) InputSize(group int) int {
	if group < 0 || group >= len(t.inputs) {
		return -1
	}
	return int(t.inputs[group].n)
}

func (t *Tape) ClearAdjoints() {
	if len(t.adj) != len(t.p1) {
		t.adj = make([]float64, len(t.p1))
		return
	}
	for i := range t.adj {
		t.adj[i] = 0
	}
}

func (t *Tape) SeedOutput(group int, seed []float64) error {
	if t.state != Recorded {
		return ErrNotRecorded
	}
	if group < 0 || group >= len(t.outputs) {
		return fmt.Errorf("%w: output %d", ErrGroup, group)
	}
	ids := t.outputs[group]
	if len(seed) != len(ids) {
		return fmt.Errorf("%w: output %d has %d entries, seed has %d", ErrSeedLength, group, len(ids), len(seed))
	}
	if len(t.adj) != len(t.p1) {
		t.adj = make([]float64, len(t.p1))
	}
	for i, id := range ids {
		if id >= 0 {
			t.adj[id] += seed[i]
		}
	}
	return nil
}

// Reverse propagates the seeded output adjoints back to every node.
func (t *Tape) Reverse() error {
	if t.state != Recorded {
		return ErrNotRecorded
	}
	if len(t.adj) != len(t.p1) {
		t.adj = make([]float64, len(t.p1))
	}
	for k := len(t.p1) - 1; k >= 0; k-- {
		a := t.adj[k]
		if a == 0 {
			continue
		}
		if p := t.p1[k]; p >= 0 {
			t.adj[p] += t.d1[k] * a
		}
		if p := t.p2[k]; p >= 0 {
			t.adj[p] += t.d2[k] * a
		}
	}
	return nil
}

func (t *Tape) Gradient(group int, dst []float64) error {
	if t.state != Recorded {
		return ErrNotRecorded
	}
	if group < 0 || group >= len(t.inputs) {
		return fmt.Errorf("%w: input %d", ErrGroup, group)
	}
	g := t.inputs[group]
	if len(dst) != int(g.n) {
		return fmt.Errorf("%w: input %d has %d entries, dst has %d", ErrSeedLength, group, g.n, len(dst))
	}
	if len(t.adj) != len(t.p1) {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	copy(dst, t.adj[g.first:g.first+g.n])
	return nil
}

// Forward runs a tangent sweep with seed on one input group and zero on the rest.
func (t *Tape) Forward(group int, seed []float64) error {
	if t.state != Recorded {
		return ErrNotRecorded
	}
	if group < 0 || group >= len(t.inputs) {
		return fmt.Errorf("%w: input %d", ErrGroup, group)
	}
	g := t.inputs[group]
	if len(seed) != int(g.n) {
		return fmt.Errorf("%w: input %d has %d entries, seed has %d", ErrSeedLength, group, g.n, len(seed))
	}
	if len(t.tan) != len(t.p1) {
		t.tan = make([]float64, len(t.p1))
	} else {
		for i := range t.tan {
			t.tan[i] = 0
		}
	}
	copy(t.tan[g.first:g.first+g.n], seed)
	for k := range t.p1 {
		p1, p2 := t.p1[k], t.p2[k]
		if p1 < 0 && p2 < 0 {
			continue
		}
		var s float64
		if p1 >= 0 {
			s += t.d1[k] * t.tan[p1]
		}
		if p2 >= 0 {
			s += t.d2[k] * t.tan[p2]
		}
		t.tan[k] = s
	}
	return nil
}

func (t *Tape) Tangent(group int, dst []float64) error {
	if group < 0 || group >= len(t.outputs) {
		return fmt.Errorf("%w: output %d", ErrGroup, group)
	}
	ids := t.outputs[group]
	if len(dst) != len(ids) {
		return fmt.Errorf("%w: output %d has %d entries, dst has %d", ErrSeedLength, group, len(ids), len(dst))
	}
	for i, id := range ids {
		if id >= 0 && len(t.tan) == len(t.p1) {
			dst[i] = t.tan[id]
		} else {
			dst[i] = 0
		}
	}
	return nil
}

// RunReverse seeds one output group, sweeps, and gathers the gradient of one
// input group into dst.
func (t *Tape) RunReverse(outGroup int, seed []float64, inGroup int, dst []float64) error {
	t.ClearAdjoints()
	if err := t.SeedOutput(outGroup, seed); err != nil {
		return err
	}
	if err := t.Reverse(); err != nil {
		return err
	}
	return t.Gradient(inGroup, dst)
}

func (t *Tape) push(v float64, a Real, da float64, b Real, db float64) Real {
	if !t.Recording() || (a.id == 0 && b.id == 0) {
		return Real{V: v}
	}
	t.p1 = append(t.p1, a.id-1)
	t.p2 = append(t.p2, b.id-1)
	t.d1 = append(t.d1, da)
	t.d2 = append(t.d2, db)
	return Real{V: v, id: int32(len(t.p1))}
}

// TangentProduct computes dst = d(out)/d(in) * seed with one forward sweep.
func (t *Tape) TangentProduct(inGroup, outGroup int, dst, seed []float64) error {
	if err := t.Forward(inGroup, seed); err != nil {
		return err
	}
	return t.Tangent(outGroup, dst)
}
