package types

import "fmt"

type StateType uint8

const (
	VolScalar StateType = iota
	VolVector
	SurfaceScalar
)

func (st StateType) String() string {
	return [...]string{"volScalarState", "volVectorState", "surfaceScalarState"}[st]
}

// NComp is the number of components stored per cell or face.
func (st StateType) NComp() int {
	if st == VolVector {
		return 2
	}
	return 1
}

func (st StateType) IsSurface() bool { return st == SurfaceScalar }

type BCFLAG uint8

const (
	BC_None BCFLAG = iota
	BC_In
	BC_Out
	BC_Wall
	BC_Symmetry
)

var BCNameMap = map[string]BCFLAG{
	"inflow":   BC_In,
	"in":       BC_In,
	"inlet":    BC_In,
	"out":      BC_Out,
	"outflow":  BC_Out,
	"outlet":   BC_Out,
	"wall":     BC_Wall,
	"symmetry": BC_Symmetry,
}

type DesignVarType uint8

const (
	DV_BC DesignVarType = iota
	DV_AOA
	DV_FFD
	DV_Xv
	DV_ACT
	DV_Field
)

var DesignVarNameMap = map[string]DesignVarType{
	"BC":    DV_BC,
	"AOA":   DV_AOA,
	"FFD":   DV_FFD,
	"Xv":    DV_Xv,
	"ACT":   DV_ACT,
	"Field": DV_Field,
}

func (dv DesignVarType) String() string {
	return [...]string{"BC", "AOA", "FFD", "Xv", "ACT", "Field"}[dv]
}

func NewDesignVarType(label string) (dv DesignVarType, err error) {
	var ok bool
	if dv, ok = DesignVarNameMap[label]; !ok {
		err = fmt.Errorf("unknown design variable type: %q", label)
	}
	return
}

type ADMode uint8

const (
	AD_FD ADMode = iota
	AD_Reverse
	AD_Forward
)

var ADModeNameMap = map[string]ADMode{
	"fd":      AD_FD,
	"reverse": AD_Reverse,
	"forward": AD_Forward,
}

func (m ADMode) String() string {
	return [...]string{"fd", "reverse", "forward"}[m]
}

func NewADMode(label string) (m ADMode, err error) {
	var ok bool
	if m, ok = ADModeNameMap[label]; !ok {
		err = fmt.Errorf("unknown useAD mode: %q", label)
	}
	return
}

type UnsteadyMode uint8

const (
	Steady UnsteadyMode = iota
	Hybrid
	TimeAccurate
)

var UnsteadyModeNameMap = map[string]UnsteadyMode{
	"":             Steady,
	"steady":       Steady,
	"hybrid":       Hybrid,
	"timeAccurate": TimeAccurate,
}

func (m UnsteadyMode) String() string {
	return [...]string{"steady", "hybrid", "timeAccurate"}[m]
}

func NewUnsteadyMode(label string) (m UnsteadyMode, err error) {
	var ok bool
	if m, ok = UnsteadyModeNameMap[label]; !ok {
		err = fmt.Errorf("unknown unsteady adjoint mode: %q", label)
	}
	return
}
