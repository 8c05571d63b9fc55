package adjoint

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/coloring"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/objective"
	"github.com/notargets/goadjoint/timeinstance"
	"github.com/notargets/goadjoint/types"
	"github.com/notargets/goadjoint/utils"
)

// evalContext is the time level a residual is evaluated at.
type evalContext struct {
	wOld   []float64
	time   float64
	deltaT float64
}

/*
Solver orchestrates one analysis: primal convergence, the adjoint solve per
objective and the chain rule to total derivatives. It owns the tape, the
adjoint vectors and the total derivative table; none of them are shared
between solvers.
*/
type Solver struct {
	IP                 *InputParameters.InputParameters
	Model              Model
	Tape               *ad.Tape
	State              SolverState
	ADMode             types.ADMode
	Unsteady           types.UnsteadyMode
	ObjFuncs           map[string]*objective.Function
	DesignVars         map[string]DesignVar
	TimeInstances      *timeinstance.Manager // nil when steady
	Metrics            *Metrics
	Verbose            bool
	NSolveAdjointCalls int
	PrimalHistory      []float64
	KrylovHistory      map[string][]float64
	pm                 *utils.PartitionMap
	ctx                evalContext
	stateScale         []float64
	colorings          map[int]*coloring.Coloring
	primalMinRes       float64
	psi                map[string][]float64
	instancePsi        map[string][][]float64
	totals             map[string]map[string][]float64
}

// NewSolver initializes a solver from validated options. store may be nil; it
// persists unsteady time instances.
func NewSolver(ip *InputParameters.InputParameters, store timeinstance.Store) (s *Solver, err error) {
	ip.SetDefaults()
	if err = ip.Validate(); err != nil {
		return
	}
	s = &Solver{
		IP:            ip,
		Tape:          ad.NewTape(),
		ObjFuncs:      make(map[string]*objective.Function),
		DesignVars:    make(map[string]DesignVar),
		Metrics:       NewMetrics(),
		KrylovHistory: make(map[string][]float64),
		colorings:     make(map[int]*coloring.Coloring),
		psi:           make(map[string][]float64),
		instancePsi:   make(map[string][][]float64),
		totals:        make(map[string]map[string][]float64),
		primalMinRes:  math.Inf(1),
	}
	if s.ADMode, err = types.NewADMode(ip.UseAD.Mode); err != nil {
		return
	}
	if s.Unsteady, err = types.NewUnsteadyMode(ip.UnsteadyAdjoint.Mode); err != nil {
		return
	}
	if s.Model, err = NewModel(ip, s.Tape); err != nil {
		return
	}
	if s.Model.Unsteady() != s.Unsteady {
		err = fmt.Errorf("solver %s does not support unsteady mode %s", s.Model.Name(), s.Unsteady)
		return
	}
	var (
		m  = s.Model.Mesh()
		si = s.Model.Adapter().Index
	)
	s.pm = utils.NewPartitionMap(utils.DefaultParallelDegree(ip.ParallelDegree, si.NStates()), si.NStates())
	for _, name := range sortedKeys(ip.ObjFunc) {
		if s.ObjFuncs[name], err = objective.New(name, ip.ObjFunc[name], m); err != nil {
			return
		}
	}
	for _, name := range sortedKeys(ip.DesignVar) {
		if s.DesignVars[name], err = newDesignVar(name, ip.DesignVar[name], s.Model); err != nil {
			return
		}
	}
	if len(ip.NormalizeStates) != 0 {
		s.stateScale = utils.ConstArray(si.NStates(), 1)
		for name, scale := range ip.NormalizeStates {
			var sid int
			if sid, err = si.StateID(name); err != nil {
				err = fmt.Errorf("normalizeStates: %w", err)
				return
			}
			for i := range s.stateScale {
				if si.Locate(i).State == sid {
					s.stateScale[i] = scale
				}
			}
		}
	}
	if s.Unsteady != types.Steady {
		ua := ip.UnsteadyAdjoint
		if s.Unsteady == types.TimeAccurate {
			if nSteps := int(math.Round(ua.EndTime / ua.DeltaT)); nSteps != ua.NTimeInstances {
				err = fmt.Errorf("time accurate adjoint stores every step: nTimeInstances is %d, endTime/deltaT is %d",
					ua.NTimeInstances, nSteps)
				return
			}
		}
		if s.Unsteady == types.Hybrid && ua.Periodicity > ua.EndTime {
			err = fmt.Errorf("hybrid periodicity %g exceeds endTime %g", ua.Periodicity, ua.EndTime)
			return
		}
		if s.TimeInstances, err = timeinstance.NewManager(s.Unsteady, ua.NTimeInstances, ua.Periodicity, store); err != nil {
			return
		}
	}
	return
}

func sortedKeys[T any](m map[string]T) (keys []string) {
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return
}

func (s *Solver) Close() error {
	if s.TimeInstances != nil {
		return s.TimeInstances.Close()
	}
	return nil
}

func (s *Solver) NStates() int { return s.Model.Adapter().Index.NStates() }
func (s *Solver) NPoints() int { return s.Model.Mesh().NPoints() }

// LiveState and LivePoints copy the current primal solution and mesh.
func (s *Solver) LiveState() []float64  { return s.Model.Adapter().StateVec() }
func (s *Solver) LivePoints() []float64 { return s.Model.Mesh().PointVec() }

func (s *Solver) liveContext() evalContext {
	fs := s.Model.Adapter().Fields
	return evalContext{wOld: fs.OldState, time: fs.Time, deltaT: fs.DeltaT}
}

func (s *Solver) inputs(w, xv []float64) *fields.Inputs {
	return fields.PassiveInputs(w, s.ctx.wOld, xv, s.Model.Params(), s.ctx.time, s.ctx.deltaT)
}

func (s *Solver) checkPoint(xv, w []float64) (err error) {
	if err = checkLen("point vector", xv, 2*s.NPoints()); err != nil {
		return
	}
	return checkLen("state vector", w, s.NStates())
}

// residual evaluates R passively.
func (s *Solver) residual(in *fields.Inputs) (r []float64, err error) {
	var res []ad.Real
	if res, _, err = s.Model.Evaluate(in); err != nil {
		return
	}
	return ad.Values(res), nil
}

func (s *Solver) residualNorm(w, xv []float64) (norm float64, err error) {
	var r []float64
	if r, err = s.residual(s.inputs(w, xv)); err != nil {
		return
	}
	return math.Sqrt(s.pm.Dot(r, r)), nil
}

func (s *Solver) objFunc(name string) (f *objective.Function, err error) {
	var ok bool
	if f, ok = s.ObjFuncs[name]; !ok {
		err = fmt.Errorf("%w: %q, have %v", ErrUnknownObjective, name, sortedKeys(s.ObjFuncs))
	}
	return
}

func (s *Solver) evalObjective(f *objective.Function, in *fields.Inputs, forAdjoint bool) (val ad.Real, err error) {
	var v objective.View
	if _, v, err = s.Model.Evaluate(in); err != nil {
		return
	}
	val, _, err = f.Calc(v, forAdjoint)
	return
}

/*
GetObjFuncValue evaluates an objective at the live state. Unsteady runs
report the mean over the stored time instances. Nothing is cached, and the
live fields are not modified, so repeated calls agree exactly.
*/
func (s *Solver) GetObjFuncValue(name string) (val float64, err error) {
	var f *objective.Function
	if f, err = s.objFunc(name); err != nil {
		return
	}
	if s.TimeInstances != nil {
		return s.TimeInstances.MeanObjective(name)
	}
	ctx := s.ctx
	s.ctx = s.liveContext()
	defer func() { s.ctx = ctx }()
	var v ad.Real
	if v, err = s.evalObjective(f, s.inputs(s.LiveState(), s.LivePoints()), false); err != nil {
		return
	}
	return v.V, nil
}

// GetObjFuncContributions returns the per face or per cell breakdown of an
// objective at the live state.
func (s *Solver) GetObjFuncContributions(name string) (cs []objective.Contribution, err error) {
	var (
		f *objective.Function
		v objective.View
	)
	if f, err = s.objFunc(name); err != nil {
		return
	}
	ctx := s.ctx
	s.ctx = s.liveContext()
	defer func() { s.ctx = ctx }()
	if _, v, err = s.Model.Evaluate(s.inputs(s.LiveState(), s.LivePoints())); err != nil {
		return
	}
	_, cs, err = f.Calc(v, false)
	return
}

func (s *Solver) PrintAllObjFuncs() (err error) {
	for _, name := range sortedKeys(s.ObjFuncs) {
		var val float64
		if val, err = s.GetObjFuncValue(name); err != nil {
			return
		}
		fmt.Printf("%-20s: %16.10e\n", name, val)
	}
	return
}

type ResidualStat struct {
	Name string
	Mean float64
	Max  float64
	L2   float64
}

/*
CalcPrimalResidualStatistics evaluates the residual at the live state and
reduces it per state. Mode "print" also writes the table, "calc" only returns
it.
*/
func (s *Solver) CalcPrimalResidualStatistics(mode string) (stats []ResidualStat, err error) {
	if mode != "print" && mode != "calc" {
		err = fmt.Errorf("unknown residual statistics mode %q", mode)
		return
	}
	var (
		si = s.Model.Adapter().Index
		r  []float64
	)
	ctx := s.ctx
	s.ctx = s.liveContext()
	defer func() { s.ctx = ctx }()
	if r, err = s.residual(s.inputs(s.LiveState(), s.LivePoints())); err != nil {
		return
	}
	for sid, st := range si.States {
		var (
			mask = func(k int) float64 {
				if si.Locate(k).State == sid {
					return 1
				}
				return 0
			}
			n   = s.pm.ReduceSum(mask)
			sum = s.pm.ReduceSum(func(k int) float64 { return mask(k) * math.Abs(r[k]) })
			sq  = s.pm.ReduceSum(func(k int) float64 { return mask(k) * r[k] * r[k] })
			rs  = ResidualStat{Name: st.Name, L2: math.Sqrt(sq)}
		)
		if n > 0 {
			rs.Mean = sum / n
		}
		for k := range r {
			if si.Locate(k).State == sid {
				rs.Max = math.Max(rs.Max, math.Abs(r[k]))
			}
		}
		stats = append(stats, rs)
	}
	if mode == "print" {
		for _, rs := range stats {
			fmt.Printf("%-10s Residual Mean %11.4e Max %11.4e Norm2 %11.4e\n", rs.Name, rs.Mean, rs.Max, rs.L2)
		}
	}
	return
}

// CheckMesh reports whether the live mesh passes the configured quality
// thresholds.
func (s *Solver) CheckMesh() (ok bool) {
	var (
		th = s.IP.CheckMeshThreshold
		q  mesh.Quality
	)
	q, ok = s.Model.Mesh().CheckMesh(mesh.Thresholds{
		MaxAspectRatio: th.MaxAspectRatio,
		MaxNonOrth:     th.MaxNonOrth,
		MaxSkewness:    th.MaxSkewness,
	})
	if s.Verbose || !ok {
		q.Print()
	}
	return
}
