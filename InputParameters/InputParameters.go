package InputParameters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/go-playground/validator/v10"
)

type MeshParameters struct {
	NX   int     `json:"nx" validate:"gte=0"`
	NY   int     `json:"ny" validate:"gte=0"`
	LX   float64 `json:"lx" validate:"gte=0"`
	LY   float64 `json:"ly" validate:"gte=0"`
	Bump float64 `json:"bump"`
}

type PhysicsParameters struct {
	U0    float64 `json:"U0"`
	AOA   float64 `json:"AOA"` // degrees
	T0    float64 `json:"T0"`
	Tw    float64 `json:"Tw"`
	DT    float64 `json:"DT" validate:"gte=0"`
	Kappa float64 `json:"kappa"`
	Beta  float64 `json:"beta"`
	// time accurate inlet oscillation T0*(1 + InletAmplitude*sin(2 pi t/InletPeriod))
	InletAmplitude float64 `json:"inletAmplitude"`
	InletPeriod    float64 `json:"inletPeriod" validate:"gte=0"`
	// Quadratic residual parameter
	X float64 `json:"X"`
}

type ADOptions struct {
	Mode string `json:"mode" validate:"omitempty,oneof=fd reverse forward"`
}

type MLRLevel struct {
	ConLevel int     `json:"conLevel" validate:"gte=0"`
	Iters    int     `json:"iters" validate:"gte=0"`
	Omega    float64 `json:"omega" validate:"gte=0"`
}

type AdjEqnOptions struct {
	GMRESRelTol         float64    `json:"gmresRelTol" validate:"gte=0"`
	GMRESAbsTol         float64    `json:"gmresAbsTol" validate:"gte=0"`
	GMRESMaxIters       int        `json:"gmresMaxIters" validate:"gte=0"`
	GMRESRestart        int        `json:"gmresRestart" validate:"gte=0"`
	PCConLevel          int        `json:"pcConLevel" validate:"gte=0"`
	MLRLevels           []MLRLevel `json:"mlrLevels" validate:"dive"`
	UseNonZeroInitGuess bool       `json:"useNonZeroInitGuess"`
	PrintInterval       int        `json:"printInterval" validate:"gte=0"`
}

type MeshThresholds struct {
	MaxAspectRatio float64 `json:"maxAspectRatio" validate:"gte=0"`
	MaxNonOrth     float64 `json:"maxNonOrth" validate:"gte=0"`
	MaxSkewness    float64 `json:"maxSkewness" validate:"gte=0"`
}

// ObjFuncPart is one term of a named objective, objFunc.<name>.<part>
type ObjFuncPart struct {
	Type          string    `json:"type" validate:"required"`
	Source        string    `json:"source" validate:"required,oneof=patchToFace allCells boxToCell"`
	Patches       []string  `json:"patches"`
	Min           []float64 `json:"min" validate:"omitempty,len=2"`
	Max           []float64 `json:"max" validate:"omitempty,len=2"`
	VarName       string    `json:"varName"`
	IsSquare      bool      `json:"isSquare"`
	DirectionMode string    `json:"directionMode" validate:"omitempty,oneof=fixedDirection parallelToFlow normalToFlow"`
	Direction     []float64 `json:"direction" validate:"omitempty,len=2"`
	Scale         float64   `json:"scale"`
	AddToAdjoint  *bool     `json:"addToAdjoint"`
}

func (p ObjFuncPart) InAdjoint() bool { return p.AddToAdjoint == nil || *p.AddToAdjoint }

type DesignVar struct {
	DesignVarType string `json:"designVarType" validate:"required,oneof=BC AOA FFD Xv ACT Field"`
	// parameter block for BC, AOA, ACT (fvSource:<name>) and Field variables
	Param  string `json:"param"`
	NModes int    `json:"nModes" validate:"gte=0"` // FFD
}

type FvSource struct {
	Center   []float64 `json:"center" validate:"len=2"`
	Radius   float64   `json:"radius" validate:"gt=0"`
	Strength float64   `json:"strength"`
}

type UnsteadyOptions struct {
	Mode           string  `json:"mode" validate:"omitempty,oneof=steady hybrid timeAccurate"`
	NTimeInstances int     `json:"nTimeInstances" validate:"gte=0"`
	Periodicity    float64 `json:"periodicity" validate:"gte=0"`
	DeltaT         float64 `json:"deltaT" validate:"gte=0"`
	EndTime        float64 `json:"endTime" validate:"gte=0"`
}

type ADFDCheck struct {
	Enabled  bool    `json:"enabled"`
	Tol      float64 `json:"tol" validate:"gte=0"`
	HardFail bool    `json:"hardFail"`
}

// Parameters obtained from the YAML case file
type InputParameters struct {
	Title               string                            `json:"Title"`
	SolverName          string                            `json:"solverName" validate:"omitempty,oneof=ScalarTransport2D Quadratic"`
	Mesh                MeshParameters                    `json:"mesh"`
	Physics             PhysicsParameters                 `json:"physics"`
	PrimalMinResTol     float64                           `json:"primalMinResTol" validate:"gte=0"`
	PrimalMinResTolDiff float64                           `json:"primalMinResTolDiff" validate:"gte=0"`
	PrimalMaxIters      int                               `json:"primalMaxIters" validate:"gte=0"`
	MaxDivergeIters     int                               `json:"maxDivergeIters" validate:"gte=0"`
	PrimalBC            map[string][]float64              `json:"primalBC"` // overrides of named parameter blocks
	UseAD               ADOptions                         `json:"useAD"`
	AdjStateOrdering    string                            `json:"adjStateOrdering" validate:"omitempty,oneof=state cell"`
	AdjEqnOption        AdjEqnOptions                     `json:"adjEqnOption"`
	AdjPCLag            int                               `json:"adjPCLag" validate:"gte=0"`
	NormalizeStates     map[string]float64                `json:"normalizeStates" validate:"dive,gt=0"`
	CheckMeshThreshold  MeshThresholds                    `json:"checkMeshThreshold"`
	ObjFunc             map[string]map[string]ObjFuncPart `json:"objFunc" validate:"dive,dive"`
	DesignVar           map[string]DesignVar              `json:"designVar" validate:"dive"`
	FvSource            map[string]FvSource               `json:"fvSource" validate:"dive"`
	UnsteadyAdjoint     UnsteadyOptions                   `json:"unsteadyAdjoint"`
	AdjPartDerivFDStep  map[string]float64                `json:"adjPartDerivFDStep" validate:"dive,gt=0"`
	ADFDCheck           ADFDCheck                         `json:"adFDCheck"`
	FailedDir           string                            `json:"failedDir"`
	ParallelDegree      int                               `json:"parallelDegree" validate:"gte=0"`
}

/*
NewInputParameters returns the options with every default applied. Parse the
case file over it: options where zero is a valid value (AOA, T0, kappa, beta,
pcConLevel) are only defaulted here, so an explicit zero in the file is kept.
*/
func NewInputParameters() (ip *InputParameters) {
	ip = &InputParameters{
		Physics:      PhysicsParameters{AOA: 3, T0: 1, Kappa: 1, Beta: 0.1},
		AdjEqnOption: AdjEqnOptions{PCConLevel: 1},
	}
	ip.SetDefaults()
	return
}

func (ip *InputParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

// SetDefaults fills every unset option that cannot legitimately be zero.
func (ip *InputParameters) SetDefaults() {
	setF := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setI := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setS := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	setS(&ip.SolverName, "ScalarTransport2D")
	setI(&ip.Mesh.NX, 8)
	setI(&ip.Mesh.NY, 4)
	setF(&ip.Mesh.LX, 2)
	setF(&ip.Mesh.LY, 1)
	setF(&ip.Physics.U0, 1)
	setF(&ip.Physics.DT, 0.01)
	setF(&ip.Physics.InletPeriod, 1)
	setF(&ip.PrimalMinResTol, 1e-10)
	setF(&ip.PrimalMinResTolDiff, 1e2)
	setI(&ip.PrimalMaxIters, 50)
	setI(&ip.MaxDivergeIters, 5)
	setS(&ip.UseAD.Mode, "reverse")
	setS(&ip.AdjStateOrdering, "state")
	setF(&ip.AdjEqnOption.GMRESRelTol, 1e-10)
	setF(&ip.AdjEqnOption.GMRESAbsTol, 1e-14)
	setI(&ip.AdjEqnOption.GMRESMaxIters, 1000)
	setI(&ip.AdjEqnOption.GMRESRestart, 200)
	setI(&ip.AdjPCLag, 1)
	setS(&ip.UnsteadyAdjoint.Mode, "steady")
	setI(&ip.UnsteadyAdjoint.NTimeInstances, 1)
	setF(&ip.ADFDCheck.Tol, 1e-4)
	setS(&ip.FailedDir, "failed")
	if ip.AdjPartDerivFDStep == nil {
		ip.AdjPartDerivFDStep = make(map[string]float64)
	}
	for k, v := range map[string]float64{
		"State": 1e-7, "BC": 1e-6, "AOA": 1e-6, "FFD": 1e-5, "Xv": 1e-6, "ACT": 1e-6, "Field": 1e-6,
	} {
		if _, ok := ip.AdjPartDerivFDStep[k]; !ok {
			ip.AdjPartDerivFDStep[k] = v
		}
	}
	for name, parts := range ip.ObjFunc {
		for pn, part := range parts {
			setF(&part.Scale, 1)
			ip.ObjFunc[name][pn] = part
		}
	}
}

// Validate checks the option values and their cross references.
func (ip *InputParameters) Validate() (err error) {
	if err = validator.New().Struct(ip); err != nil {
		return
	}
	for name, dv := range ip.DesignVar {
		switch dv.DesignVarType {
		case "BC", "AOA", "ACT", "Field":
			if dv.Param == "" {
				return fmt.Errorf("designVar %s of type %s needs a param", name, dv.DesignVarType)
			}
			if dv.DesignVarType == "ACT" {
				src := strings.TrimPrefix(dv.Param, "fvSource:")
				if _, ok := ip.FvSource[src]; !ok {
					return fmt.Errorf("designVar %s refers to unknown fvSource %q", name, src)
				}
			}
		case "FFD":
			if dv.NModes < 1 {
				return fmt.Errorf("designVar %s of type FFD needs nModes > 0", name)
			}
		}
	}
	for name, parts := range ip.ObjFunc {
		if len(parts) == 0 {
			return fmt.Errorf("objFunc %s has no parts", name)
		}
		for pn, part := range parts {
			if part.Source == "patchToFace" && len(part.Patches) == 0 {
				return fmt.Errorf("objFunc %s.%s: patchToFace needs patches", name, pn)
			}
			if part.Source == "boxToCell" && (len(part.Min) != 2 || len(part.Max) != 2) {
				return fmt.Errorf("objFunc %s.%s: boxToCell needs min and max", name, pn)
			}
		}
	}
	if ip.UnsteadyAdjoint.Mode == "hybrid" && ip.UnsteadyAdjoint.Periodicity <= 0 {
		return fmt.Errorf("hybrid unsteady adjoint needs periodicity > 0")
	}
	if ip.UnsteadyAdjoint.Mode != "steady" && ip.UnsteadyAdjoint.Mode != "" && ip.UnsteadyAdjoint.DeltaT <= 0 {
		return fmt.Errorf("unsteady adjoint needs deltaT > 0")
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

func (ip *InputParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%s]\t= Solver\n", ip.SolverName)
	fmt.Printf("[%d x %d]\t\t= Mesh cells, bump = %g\n", ip.Mesh.NX, ip.Mesh.NY, ip.Mesh.Bump)
	fmt.Printf("%8.5f\t\t= U0\n", ip.Physics.U0)
	fmt.Printf("%8.5f\t\t= AOA\n", ip.Physics.AOA)
	fmt.Printf("%8.5f\t\t= T0\n", ip.Physics.T0)
	fmt.Printf("%8.5f\t\t= Tw\n", ip.Physics.Tw)
	fmt.Printf("%8.5f\t\t= DT\n", ip.Physics.DT)
	fmt.Printf("%8.2e\t\t= primalMinResTol\n", ip.PrimalMinResTol)
	fmt.Printf("[%d]\t\t\t= primalMaxIters\n", ip.PrimalMaxIters)
	fmt.Printf("[%s]\t\t= useAD.mode\n", ip.UseAD.Mode)
	fmt.Printf("[%s]\t\t= adjStateOrdering\n", ip.AdjStateOrdering)
	fmt.Printf("%8.2e\t\t= gmresRelTol\n", ip.AdjEqnOption.GMRESRelTol)
	fmt.Printf("[%d]\t\t\t= pcConLevel\n", ip.AdjEqnOption.PCConLevel)
	fmt.Printf("[%s]\t\t= unsteadyAdjoint.mode, nTimeInstances = %d\n",
		ip.UnsteadyAdjoint.Mode, ip.UnsteadyAdjoint.NTimeInstances)
	for _, key := range sortedKeys(ip.PrimalBC) {
		fmt.Printf("primalBC[%s] = %v\n", key, ip.PrimalBC[key])
	}
	for _, key := range sortedKeys(ip.ObjFunc) {
		for _, pn := range sortedKeys(ip.ObjFunc[key]) {
			part := ip.ObjFunc[key][pn]
			fmt.Printf("objFunc[%s.%s] = %s over %s %v, var %s, scale %g\n",
				key, pn, part.Type, part.Source, part.Patches, part.VarName, part.Scale)
		}
	}
	for _, key := range sortedKeys(ip.DesignVar) {
		fmt.Printf("designVar[%s] = %s %s\n", key, ip.DesignVar[key].DesignVarType, ip.DesignVar[key].Param)
	}
	for _, key := range sortedKeys(ip.FvSource) {
		fmt.Printf("fvSource[%s] = %v\n", key, ip.FvSource[key])
	}
}
