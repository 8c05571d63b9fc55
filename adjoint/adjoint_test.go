package adjoint

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/model_problems/Quadratic"
	"github.com/notargets/goadjoint/timeinstance"
	"github.com/notargets/goadjoint/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newQuadraticSolver(t *testing.T, mode string, mod func(ip *InputParameters.InputParameters)) *Solver {
	ip := InputParameters.NewInputParameters()
	ip.SolverName = "Quadratic"
	ip.UseAD.Mode = mode
	ip.ObjFunc = map[string]map[string]InputParameters.ObjFuncPart{
		"W": {"part1": {Type: "variableVolSum", Source: "allCells", VarName: "W"}},
	}
	ip.DesignVar = map[string]InputParameters.DesignVar{
		"x": {DesignVarType: "BC", Param: "X"},
	}
	ip.FailedDir = t.TempDir()
	if mod != nil {
		mod(ip)
	}
	s, err := NewSolver(ip, nil)
	require.NoError(t, err)
	return s
}

func newTransportSolver(t *testing.T, mod func(ip *InputParameters.InputParameters)) *Solver {
	ip := InputParameters.NewInputParameters()
	ip.Mesh = InputParameters.MeshParameters{NX: 6, NY: 3, LX: 2, LY: 1}
	ip.Physics.Tw = 0.5
	ip.FvSource = map[string]InputParameters.FvSource{"disk": {Center: []float64{1, 0.5}, Radius: 0.2, Strength: 2}}
	ip.PrimalMinResTol = 1e-12
	ip.ObjFunc = map[string]map[string]InputParameters.ObjFuncPart{
		"TSq":  {"part1": {Type: "variableVolSum", Source: "allCells", VarName: "T", IsSquare: true}},
		"heat": {"part1": {Type: "wallHeatFlux", Source: "patchToFace", Patches: []string{"bottom"}, VarName: "T"}},
	}
	ip.DesignVar = map[string]InputParameters.DesignVar{
		"aoa":  {DesignVarType: "AOA", Param: "AOA"},
		"t0":   {DesignVarType: "BC", Param: "T0"},
		"act":  {DesignVarType: "ACT", Param: "disk"},
		"beta": {DesignVarType: "Field", Param: "beta"},
		"ffd":  {DesignVarType: "FFD", NModes: 2},
	}
	ip.FailedDir = t.TempDir()
	if mod != nil {
		mod(ip)
	}
	s, err := NewSolver(ip, nil)
	require.NoError(t, err)
	return s
}

func solvePrimal(t *testing.T, s *Solver, xv []float64) {
	status, err := s.SolvePrimal(xv, nil)
	require.NoError(t, err)
	require.Equal(t, 0, status)
}

// setter moves design variable component j by delta and returns the mesh
// points to solve on, nil to keep the mesh.
type setter func(j int, delta float64) []float64

func paramSetter(t *testing.T, s *Solver, param string) setter {
	p := s.Model.Params()
	base, err := p.Get(param)
	require.NoError(t, err)
	base = append([]float64{}, base...)
	return func(j int, delta float64) []float64 {
		v := append([]float64{}, base...)
		v[j] += delta
		require.NoError(t, p.Set(param, v))
		return nil
	}
}

func ffdSetter(s *Solver, M *mat.Dense) setter {
	xv0 := s.LivePoints()
	return func(j int, delta float64) []float64 {
		xv := append([]float64{}, xv0...)
		for i := range xv {
			xv[i] += delta * M.At(i, j)
		}
		return xv
	}
}

// centralTotal differentiates an objective by re-solving the primal at
// perturbed design values.
func centralTotal(t *testing.T, s *Solver, objName string, n int, set setter) (d []float64) {
	const h = 1e-5
	d = make([]float64, n)
	for j := range d {
		var f [2]float64
		for k, delta := range []float64{h, -h} {
			solvePrimal(t, s, set(j, delta))
			var err error
			f[k], err = s.GetObjFuncValue(objName)
			require.NoError(t, err)
		}
		d[j] = (f[0] - f[1]) / (2 * h)
		set(j, 0)
	}
	solvePrimal(t, s, set(0, 0))
	return
}

func assertClose(t *testing.T, expected, actual []float64, rel, abs float64, msgs ...interface{}) {
	require.Equal(t, len(expected), len(actual), msgs...)
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], abs+rel*math.Abs(expected[i]), msgs...)
	}
}

func TestModelRegistry(t *testing.T) {
	assert.Equal(t, []string{"Quadratic", "ScalarTransport2D"}, ModelNames())
	{ // Test an unknown solver lists the registered models
		ip := InputParameters.NewInputParameters()
		ip.SolverName = "Euler3D"
		_, err := NewModel(ip, ad.NewTape())
		assert.ErrorIs(t, err, ErrUnknownModel)
		assert.Contains(t, err.Error(), "ScalarTransport2D")
	}
	{ // Test a registered model is selected by solverName
		RegisterModel("QuadraticCopy", func(ip *InputParameters.InputParameters, tape *ad.Tape) (Model, error) {
			return Quadratic.NewQuadratic(ip)
		})
		defer delete(modelAllocators, "QuadraticCopy")
		ip := InputParameters.NewInputParameters()
		ip.SolverName = "QuadraticCopy"
		m, err := NewModel(ip, ad.NewTape())
		require.NoError(t, err)
		assert.Equal(t, "Quadratic", m.Name())
		assert.Panics(t, func() { RegisterModel("Quadratic", nil) })
	}
	{ // Test an empty solverName runs the default model
		ip := InputParameters.NewInputParameters()
		ip.Mesh = InputParameters.MeshParameters{NX: 2, NY: 2, LX: 1, LY: 1}
		m, err := NewModel(ip, ad.NewTape())
		require.NoError(t, err)
		assert.Equal(t, defaultModel, m.Name())
	}
}

func TestQuadraticAdjoint(t *testing.T) {
	for _, mode := range []string{"reverse", "forward", "fd"} {
		s := newQuadraticSolver(t, mode, nil)
		{ // Test adjoint before primal is a state error
			_, err := s.SolveAdjoint()
			assert.ErrorIs(t, err, ErrState)
		}
		solvePrimal(t, s, nil)
		assert.Equal(t, PrimalConverged, s.State)
		assert.InDelta(t, 2, s.LiveState()[0], 1e-10)
		{ // Test psi = dF/dW / dR/dW = 1/(2W) and dF/dX = -psi
			status, err := s.SolveAdjoint()
			require.NoError(t, err)
			assert.Equal(t, 0, status)
			assert.Equal(t, DerivativesAssembled, s.State)
			psi, err := s.GetPsi("W")
			require.NoError(t, err)
			assert.InDelta(t, 0.25, psi[0], 1e-7, mode)
			dFdX, err := s.GetTotalDerivative("W", "x")
			require.NoError(t, err)
			assert.InDelta(t, -0.25, dFdX[0], 1e-7, mode)
			assert.Equal(t, 1, s.NSolveAdjointCalls)
		}
		{ // Test objective evaluation is repeatable and names are checked
			v1, err := s.GetObjFuncValue("W")
			require.NoError(t, err)
			v2, err := s.GetObjFuncValue("W")
			require.NoError(t, err)
			assert.Equal(t, v1, v2)
			_, err = s.GetObjFuncValue("lift")
			assert.ErrorIs(t, err, ErrUnknownObjective)
			_, err = s.GetTotalDerivative("W", "y")
			assert.ErrorIs(t, err, ErrUnknownDesignVar)
			_, err = s.CalcdRdWTPsiAD(s.LivePoints(), s.LiveState(), []float64{1, 2})
			assert.ErrorIs(t, err, ErrLength)
		}
	}
}

func TestPrimalFailures(t *testing.T) {
	{ // Test persistent divergence restores and dumps the best state, R = W^2 + 0.5 has no root
		s := newQuadraticSolver(t, "reverse", func(ip *InputParameters.InputParameters) {
			ip.Physics.X = 4.5
			ip.PrimalMaxIters = 200
		})
		status, err := s.SolvePrimal(nil, nil)
		assert.Equal(t, 1, status)
		assert.ErrorIs(t, err, ErrDiverged)
		var fe *FailureError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, s.IP.FailedDir, filepath.Dir(fe.Dir))
		w, err := utils.ReadVectorBinary(filepath.Join(fe.Dir, "state.bin"))
		require.NoError(t, err)
		assert.Equal(t, s.LiveState(), w)
		_, err = os.Stat(filepath.Join(fe.Dir, "points.bin"))
		assert.NoError(t, err)
		assert.Equal(t, Uninitialized, s.State)
		_, err = s.SolveAdjoint()
		assert.ErrorIs(t, err, ErrState)
	}
	{ // Test a failed Newton step dumps the last valid state, X = 5 steps from W = 1 onto W = 0
		s := newQuadraticSolver(t, "reverse", func(ip *InputParameters.InputParameters) {
			ip.Physics.X = 5
		})
		status, err := s.SolvePrimal(nil, nil)
		assert.Equal(t, 1, status)
		assert.ErrorIs(t, err, ErrNumericalInvalid)
		var fe *FailureError
		require.ErrorAs(t, err, &fe)
		w, err := utils.ReadVectorBinary(filepath.Join(fe.Dir, "state.bin"))
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, w)
	}
}

func TestTransportAdjoint(t *testing.T) {
	s := newTransportSolver(t, nil)
	solvePrimal(t, s, nil)
	status, err := s.SolveAdjoint()
	require.NoError(t, err)
	require.Equal(t, 0, status)
	var (
		xv, w  = s.LivePoints(), s.LiveState()
		totals = make(map[string]map[string][]float64)
	)
	for _, obj := range []string{"TSq", "heat"} {
		{ // Test psi satisfies the adjoint equation
			psi, err := s.GetPsi(obj)
			require.NoError(t, err)
			lhs, err := s.CalcdRdWTPsiAD(xv, w, psi)
			require.NoError(t, err)
			rhs, err := s.CalcdFdWAD(xv, w, obj)
			require.NoError(t, err)
			var scale float64
			for _, v := range rhs {
				scale = math.Max(scale, math.Abs(v))
			}
			assertClose(t, rhs, lhs, 0, 1e-7*scale, obj)
		}
		totals[obj] = make(map[string][]float64)
		for _, dv := range []string{"aoa", "t0", "act", "beta", "ffd"} {
			totals[obj][dv], err = s.GetTotalDerivative(obj, dv)
			require.NoError(t, err)
		}
	}
	{ // Test total derivatives against re-solved primals
		for _, obj := range []string{"TSq", "heat"} {
			for dv, param := range map[string]string{"aoa": "AOA", "t0": "T0", "act": "fvSource:disk", "beta": "beta"} {
				fd := centralTotal(t, s, obj, len(totals[obj][dv]), paramSetter(t, s, param))
				assertClose(t, fd, totals[obj][dv], 1e-5, 1e-7, obj, dv)
			}
			M := s.DesignVars["ffd"].(Chained).DXvDX()
			fd := centralTotal(t, s, obj, len(totals[obj]["ffd"]), ffdSetter(s, M))
			assertClose(t, fd, totals[obj]["ffd"], 1e-5, 1e-7, obj, "ffd")
		}
	}
	{ // Test the metrics textfile
		fileName := filepath.Join(t.TempDir(), "adjoint.prom")
		require.NoError(t, s.Metrics.WriteMetrics(fileName))
		data, err := os.ReadFile(fileName)
		require.NoError(t, err)
		assert.Contains(t, string(data), "goadjoint_adjoint_solves_total")
		assert.Contains(t, string(data), s.Metrics.RunID)
	}
}

func TestTransportAdjointOptions(t *testing.T) {
	reference := func(s *Solver) (psi, dFdX []float64) {
		solvePrimal(t, s, nil)
		status, err := s.SolveAdjoint()
		require.NoError(t, err)
		require.Equal(t, 0, status)
		psi, err = s.GetPsi("TSq")
		require.NoError(t, err)
		dFdX, err = s.GetTotalDerivative("TSq", "t0")
		require.NoError(t, err)
		return
	}
	psi0, dFdX0 := reference(newTransportSolver(t, nil))
	var psiMax float64
	for _, v := range psi0 {
		psiMax = math.Max(psiMax, math.Abs(v))
	}
	{ // Test forward mode partials agree with reverse
		_, dFdX := reference(newTransportSolver(t, func(ip *InputParameters.InputParameters) {
			ip.UseAD.Mode = "forward"
		}))
		assertClose(t, dFdX0, dFdX, 1e-8, 1e-10)
	}
	{ // Test finite difference partials
		_, dFdX := reference(newTransportSolver(t, func(ip *InputParameters.InputParameters) {
			ip.UseAD.Mode = "fd"
		}))
		assertClose(t, dFdX0, dFdX, 1e-4, 1e-6)
	}
	{ // Test state normalization leaves psi unchanged
		psi, _ := reference(newTransportSolver(t, func(ip *InputParameters.InputParameters) {
			ip.NormalizeStates = map[string]float64{"T": 10, "phi": 0.5}
		}))
		assertClose(t, psi0, psi, 0, 1e-7*psiMax)
	}
	{ // Test the multi-level Richardson preconditioner
		psi, dFdX := reference(newTransportSolver(t, func(ip *InputParameters.InputParameters) {
			ip.AdjEqnOption.MLRLevels = []InputParameters.MLRLevel{
				{ConLevel: 0},
				{ConLevel: 1, Iters: 3, Omega: 1},
			}
		}))
		assertClose(t, psi0, psi, 0, 1e-7*psiMax)
		assertClose(t, dFdX0, dFdX, 1e-7, 1e-9)
	}
	{ // Test the AD/FD consistency check
		s := newTransportSolver(t, func(ip *InputParameters.InputParameters) {
			ip.ADFDCheck = InputParameters.ADFDCheck{Enabled: true, Tol: 1e-2}
		})
		solvePrimal(t, s, nil)
		_, err := s.SolveAdjoint()
		assert.NoError(t, err)
		s = newTransportSolver(t, func(ip *InputParameters.InputParameters) {
			ip.ADFDCheck = InputParameters.ADFDCheck{Enabled: true, Tol: 1e-14, HardFail: true}
		})
		solvePrimal(t, s, nil)
		_, err = s.SolveAdjoint()
		assert.ErrorIs(t, err, ErrADFDMismatch)
	}
}

func TestTransportJacobians(t *testing.T) {
	s := newTransportSolver(t, func(ip *InputParameters.InputParameters) {
		ip.DesignVar["xv"] = InputParameters.DesignVar{DesignVarType: "Xv"}
	})
	solvePrimal(t, s, nil)
	xv, w := s.LivePoints(), s.LiveState()
	{ // Test the colored FD and AD assemblies agree
		A, err := s.CalcdRdWTAD(xv, w, false)
		require.NoError(t, err)
		B, err := s.CalcdRdWT(xv, w, false)
		require.NoError(t, err)
		assert.Less(t, relativeDifference(A, B), 1e-5)
		P, err := s.CalcdRdWTAD(xv, w, true)
		require.NoError(t, err)
		assert.LessOrEqual(t, P.NNZ(), A.NNZ())
		assert.Equal(t, "dRdWT", A.Name())
		assert.Panics(t, func() { A.Set(0, 0, 1) })
	}
	{ // Test the design partials against their FD forms
		for _, pair := range [][2]func(string, []float64, []float64) (*mat.Dense, error){
			{s.CalcdRdAOAAD, s.CalcdRdAOA},
			{s.CalcdRdBCAD, s.CalcdRdBC},
			{s.CalcdRdACTAD, s.CalcdRdACT},
		} {
			for _, dv := range []string{"aoa", "t0", "act"} {
				adM, err := pair[0](dv, xv, w)
				if err != nil {
					assert.ErrorIs(t, err, ErrUnknownDesignVar)
					continue
				}
				fdM, err := pair[1](dv, xv, w)
				require.NoError(t, err)
				assert.True(t, mat.EqualApprox(adM, fdM, 1e-4), dv)
			}
		}
	}
	{ // Test the mesh, mode and field partials against their FD forms
		for _, c := range []struct {
			dv    string
			ad    func(string, []float64, []float64) (*mat.Dense, error)
			fd    func(string, []float64, []float64) (*mat.Dense, error)
			nCols int
		}{
			{"ffd", s.CalcdRdFFDAD, s.CalcdRdFFD, 2},
			{"xv", s.CalcdRdXvAD, s.CalcdRdXv, len(xv)},
			{"beta", s.CalcdRdFieldAD, s.CalcdRdField, s.Model.Mesh().NCells()},
		} {
			adM, err := c.ad(c.dv, xv, w)
			require.NoError(t, err, c.dv)
			fdM, err := c.fd(c.dv, xv, w)
			require.NoError(t, err, c.dv)
			r, nc := adM.Dims()
			assert.Equal(t, len(w), r, c.dv)
			assert.Equal(t, c.nCols, nc, c.dv)
			assert.True(t, mat.EqualApprox(adM, fdM, 1e-3), c.dv)
		}
		_, err := s.CalcdRdXvAD("ffd", xv, w)
		assert.ErrorIs(t, err, ErrUnknownDesignVar)
	}
	{ // Test reverse products match the assembled partials
		psi := make([]float64, len(w))
		for i := range psi {
			psi[i] = math.Sin(float64(i))
		}
		dRdX, err := s.CalcdRdFFD("ffd", xv, w)
		require.NoError(t, err)
		prod, err := s.CalcdRdFFDTPsiAD("ffd", xv, w, psi)
		require.NoError(t, err)
		expect := mat.NewVecDense(len(prod), nil)
		expect.MulVec(dRdX.T(), mat.NewVecDense(len(psi), psi))
		assertClose(t, expect.RawVector().Data, prod, 1e-3, 1e-6)
		// the partitioned row reduction matches the dense product
		assertClose(t, expect.RawVector().Data, s.psiTdRdX(psi, dRdX), 1e-12, 1e-14)
	}
}

func TestTransportDiagnostics(t *testing.T) {
	s := newTransportSolver(t, nil)
	solvePrimal(t, s, nil)
	{ // Test residual statistics per state at a converged primal
		stats, err := s.CalcPrimalResidualStatistics("calc")
		require.NoError(t, err)
		require.Len(t, stats, 2)
		assert.Equal(t, "T", stats[0].Name)
		assert.Equal(t, "phi", stats[1].Name)
		for _, rs := range stats {
			assert.Less(t, rs.L2, 1e-8, rs.Name)
			assert.LessOrEqual(t, rs.Mean, rs.Max, rs.Name)
		}
		_, err = s.CalcPrimalResidualStatistics("plot")
		assert.Error(t, err)
	}
	{ // Test the face breakdown sums to the objective
		val, err := s.GetObjFuncValue("heat")
		require.NoError(t, err)
		cs, err := s.GetObjFuncContributions("heat")
		require.NoError(t, err)
		require.Len(t, cs, 1)
		assert.Len(t, cs[0].Faces, 6)
		var sum float64
		for _, v := range cs[0].Value {
			sum += v
		}
		assert.InDelta(t, val, sum, 1e-12)
		assert.NoError(t, s.PrintAllObjFuncs())
	}
	{ // Test mesh quality against the configured thresholds
		assert.True(t, s.CheckMesh())
		s.IP.CheckMeshThreshold.MaxAspectRatio = 0.5
		assert.False(t, s.CheckMesh())
		s.IP.CheckMeshThreshold.MaxAspectRatio = 0
	}
	{ // Test a failure dump keeps the cause and writes the live state
		err := s.writeFailedMesh(ErrNumericalInvalid)
		assert.ErrorIs(t, err, ErrNumericalInvalid)
		var fe *FailureError
		require.ErrorAs(t, err, &fe)
		w, err := utils.ReadVectorBinary(filepath.Join(fe.Dir, "state.bin"))
		require.NoError(t, err)
		assert.Equal(t, s.LiveState(), w)
		_, err = os.Stat(filepath.Join(fe.Dir, "points.bin"))
		assert.NoError(t, err)
	}
}

func TestForces(t *testing.T) {
	s := newTransportSolver(t, nil)
	solvePrimal(t, s, nil)
	var (
		xv, w   = s.LivePoints(), s.LiveState()
		patches = []string{"bottom"}
	)
	{ // Test forces are Tw times the face area vectors, ordered along x
		fs, err := s.GetForces(patches, "T")
		require.NoError(t, err)
		assert.Equal(t, 6, len(fs))
		profile, err := s.CalcForceProfile(patches, "T")
		require.NoError(t, err)
		for i := 1; i < len(profile); i++ {
			assert.Less(t, profile[i-1].X, profile[i].X)
		}
		var sumY float64
		for _, f := range fs {
			sumY += f[1]
		}
		assert.InDelta(t, -0.5*2, sumY, 1e-12)
	}
	{ // Test the point sensitivity against a directional difference
		const h = 1e-6
		fBar := make([]float64, 12)
		for i := range fBar {
			fBar[i] = float64(i%3) - 1
		}
		prod, err := s.CalcdForcedXvAD(xv, w, patches, "T", fBar)
		require.NoError(t, err)
		dir := make([]float64, len(xv))
		for i := range dir {
			dir[i] = math.Cos(float64(3 * i))
		}
		seeded := func(sign float64) (sum float64) {
			x := make([]float64, len(xv))
			for i := range x {
				x[i] = xv[i] + sign*h*dir[i]
			}
			flat, _, err := s.forces(s.inputs(w, x), patches, "T")
			require.NoError(t, err)
			for i, f := range ad.Values(flat) {
				sum += fBar[i] * f
			}
			return
		}
		fd := (seeded(1) - seeded(-1)) / (2 * h)
		assert.InDelta(t, fd, mat.Dot(mat.NewVecDense(len(prod), prod), mat.NewVecDense(len(dir), dir)), 1e-7)
	}
	{ // Test the state Jacobian and its transpose product on the outlet
		outlet := []string{"outlet"}
		dFdW, err := s.CalcdForcedWAD(xv, w, outlet, "T")
		require.NoError(t, err)
		r, c := dFdW.Dims()
		assert.Equal(t, len(w), c)
		psi := make([]float64, r)
		for i := range psi {
			psi[i] = float64(i + 1)
		}
		prod, err := s.CalcdForcedStateTPsiAD(xv, w, outlet, "T", psi)
		require.NoError(t, err)
		expect := mat.NewVecDense(c, nil)
		expect.MulVec(dFdW.T(), mat.NewVecDense(r, psi))
		assertClose(t, expect.RawVector().Data, prod, 1e-12, 1e-14)
		assert.NotZero(t, mat.Norm(dFdW, 2))
		_, err = s.CalcdForcedStateTPsiAD(xv, w, outlet, "T", psi[1:])
		assert.ErrorIs(t, err, ErrLength)
	}
	{ // Test the actuator source and its strength derivative
		src, err := s.CalcFvSource(xv)
		require.NoError(t, err)
		var sum float64
		for _, v := range src {
			assert.GreaterOrEqual(t, v, 0.)
			sum += v
		}
		ones := utils.ConstArray(len(src), 1)
		prod, err := s.CalcdFvSourcedInputsTPsiAD("act", xv, ones)
		require.NoError(t, err)
		require.Equal(t, 4, len(prod))
		assert.InDelta(t, sum/2, prod[3], 1e-12)
	}
}

func unsteadySolver(t *testing.T, mode string, mod func(ip *InputParameters.InputParameters)) *Solver {
	return newTransportSolver(t, func(ip *InputParameters.InputParameters) {
		ip.Mesh.NX, ip.Mesh.NY = 4, 2
		ip.Physics.InletAmplitude = 0.2
		ip.UnsteadyAdjoint = InputParameters.UnsteadyOptions{Mode: mode, DeltaT: 0.1}
		ip.ObjFunc = map[string]map[string]InputParameters.ObjFuncPart{
			"TSq": {"part1": {Type: "variableVolSum", Source: "allCells", VarName: "T", IsSquare: true}},
		}
		ip.DesignVar = map[string]InputParameters.DesignVar{
			"t0":  {DesignVarType: "BC", Param: "T0"},
			"aoa": {DesignVarType: "AOA", Param: "AOA"},
		}
		mod(ip)
	})
}

func TestTimeAccurateAdjoint(t *testing.T) {
	s := unsteadySolver(t, "timeAccurate", func(ip *InputParameters.InputParameters) {
		ip.UnsteadyAdjoint.EndTime, ip.UnsteadyAdjoint.NTimeInstances = 0.3, 3
	})
	solvePrimal(t, s, nil)
	status, err := s.SolveAdjoint()
	require.NoError(t, err)
	require.Equal(t, 0, status)
	params := map[string]string{"t0": "T0", "aoa": "AOA"}
	// the re-solves below overwrite the adjoint, so every total is read first
	totals := make(map[string][]float64)
	for dv := range params {
		totals[dv], err = s.GetTotalDerivative("TSq", dv)
		require.NoError(t, err)
	}
	{ // Test instance access
		_, err := s.GetInstancePsi("TSq", 3)
		assert.ErrorIs(t, err, timeinstance.ErrInstanceRange)
		_, err = s.GetTimeInstanceObjFunc(-1, "TSq")
		assert.ErrorIs(t, err, timeinstance.ErrInstanceRange)
		v, err := s.GetTimeInstanceObjFunc(2, "TSq")
		require.NoError(t, err)
		assert.Greater(t, v, 0.)
	}
	{ // Test the backward march against re-solved unsteady primals
		for dv, param := range params {
			fd := centralTotal(t, s, "TSq", len(totals[dv]), paramSetter(t, s, param))
			assertClose(t, fd, totals[dv], 1e-4, 1e-7, dv)
		}
	}
	{ // Test a new time accurate configuration must store every step
		ip := *s.IP
		ip.UnsteadyAdjoint.NTimeInstances = 2
		_, err := NewSolver(&ip, nil)
		assert.Error(t, err)
	}
}

func TestHybridAdjoint(t *testing.T) {
	s := unsteadySolver(t, "hybrid", func(ip *InputParameters.InputParameters) {
		ip.UnsteadyAdjoint.EndTime, ip.UnsteadyAdjoint.NTimeInstances = 0.4, 2
		ip.UnsteadyAdjoint.Periodicity = 0.2
	})
	solvePrimal(t, s, nil)
	status, err := s.SolveAdjoint()
	require.NoError(t, err)
	require.Equal(t, 0, status)
	var (
		nStates = s.NStates()
		nb      = len(s.Model.Adapter().BoundaryStateVec())
	)
	{ // Test every instance has its own adjoint and the totals are assembled
		for i := 0; i < 2; i++ {
			psi, err := s.GetInstancePsi("TSq", i)
			require.NoError(t, err)
			assert.Equal(t, nStates, len(psi))
		}
		_, err = s.GetInstancePsi("TSq", 2)
		assert.ErrorIs(t, err, timeinstance.ErrInstanceRange)
		dFdX, err := s.GetTotalDerivative("TSq", "t0")
		require.NoError(t, err)
		assert.Equal(t, 1, len(dFdX))
		_, err = s.GetPsi("TSq")
		assert.ErrorIs(t, err, ErrState)
	}
	{ // Test the matrix round trip of the instances
		var (
			state   = mat.NewDense(nStates, 2, nil)
			stateBC = mat.NewDense(nb, 2, nil)
			times   = make([]float64, 2)
			timeIdx = make([]float64, 2)
		)
		require.NoError(t, s.SetTimeInstanceVar("list2Mat", state, stateBC, times, timeIdx))
		assert.InDeltaSlice(t, []float64{0.3, 0.4}, times, 1e-12)
		assert.Equal(t, []float64{3, 4}, timeIdx)
		state.Set(0, 1, 42)
		require.NoError(t, s.SetTimeInstanceVar("mat2List", state, stateBC, times, timeIdx))
		require.NoError(t, s.SetTimeInstanceField(1))
		assert.Equal(t, mat.Col(nil, 1, state), s.LiveState())
		assert.Equal(t, 0.4, math.Round(s.Model.Adapter().Fields.Time*1e12)/1e12)
		assert.ErrorIs(t, s.SetTimeInstanceVar("list2Mat", mat.NewDense(nStates, 3, nil), stateBC, times, timeIdx), ErrLength)
		assert.Error(t, s.SetTimeInstanceVar("transpose", state, stateBC, times, timeIdx))
		assert.ErrorIs(t, s.SetTimeInstanceVar("list2Mat", nil, stateBC, times, timeIdx), ErrLength)
		assert.ErrorIs(t, s.SetTimeInstanceVar("mat2List", state, nil, times, timeIdx), ErrLength)
		assert.ErrorIs(t, s.SetTimeInstanceVar("mat2List", mat.NewDense(nStates+1, 2, nil), stateBC, times, timeIdx), ErrLength)
		assert.ErrorIs(t, s.SetTimeInstanceField(2), timeinstance.ErrInstanceRange)
	}
}

func TestWriteMatrices(t *testing.T) {
	s := newQuadraticSolver(t, "reverse", nil)
	solvePrimal(t, s, nil)
	_, err := s.SolveAdjoint()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, s.WriteMatrices(dir))
	A, err := utils.ReadMatrixBinary(filepath.Join(dir, "dRdWT.bin"))
	require.NoError(t, err)
	assert.InDelta(t, 4, A.At(0, 0), 1e-6)
	psi, err := utils.ReadVectorBinary(filepath.Join(dir, "psi_W.bin"))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, psi[0], 1e-7)
	_, err = os.Stat(filepath.Join(dir, "dRdWTPC.txt"))
	assert.NoError(t, err)
}

func TestResumePrimal(t *testing.T) {
	var (
		dbDir = filepath.Join(t.TempDir(), "instances")
		base  = unsteadySolver(t, "timeAccurate", func(ip *InputParameters.InputParameters) {
			ip.UnsteadyAdjoint.EndTime, ip.UnsteadyAdjoint.NTimeInstances = 0.3, 3
		})
		open = func() *Solver {
			store, err := timeinstance.OpenBadgerStore(dbDir)
			require.NoError(t, err)
			ip := *base.IP
			s, err := NewSolver(&ip, store)
			require.NoError(t, err)
			return s
		}
	)
	s := open()
	solvePrimal(t, s, nil)
	live := s.LiveState()
	obj, err := s.GetObjFuncValue("TSq")
	require.NoError(t, err)
	_, err = s.SolveAdjoint()
	require.NoError(t, err)
	want, err := s.GetTotalDerivative("TSq", "t0")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	{ // Test a fresh solver on the same store skips the march and reproduces the totals
		s2 := open()
		defer s2.Close()
		_, err := s2.SolveAdjoint()
		assert.ErrorIs(t, err, ErrState)
		require.NoError(t, s2.ResumePrimal())
		assert.Equal(t, PrimalConverged, s2.State)
		assert.Empty(t, s2.PrimalHistory)
		assert.InDeltaSlice(t, live, s2.LiveState(), 1e-14)
		val, err := s2.GetObjFuncValue("TSq")
		require.NoError(t, err)
		assert.InDelta(t, obj, val, 1e-14)
		status, err := s2.SolveAdjoint()
		require.NoError(t, err)
		require.Equal(t, 0, status)
		got, err := s2.GetTotalDerivative("TSq", "t0")
		require.NoError(t, err)
		assertClose(t, want, got, 1e-10, 1e-12)
	}
	{ // Test steady solvers and solvers without a store have nothing to resume
		assert.ErrorIs(t, newTransportSolver(t, nil).ResumePrimal(), ErrState)
		assert.Error(t, base.ResumePrimal())
	}
}
