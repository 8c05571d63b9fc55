package adjoint

import (
	"fmt"
	"sort"

	"github.com/notargets/goadjoint/InputParameters"
	"github.com/notargets/goadjoint/ad"
	"github.com/notargets/goadjoint/coloring"
	"github.com/notargets/goadjoint/fields"
	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/model_problems/Quadratic"
	"github.com/notargets/goadjoint/model_problems/ScalarTransport2D"
	"github.com/notargets/goadjoint/objective"
	"github.com/notargets/goadjoint/types"
)

/*
Model is the primal collaborator: it owns the live fields and mesh, iterates
them toward convergence and evaluates its residual for arbitrary inputs.
Evaluate must not touch the live fields, and with a nil tape it must be safe
for concurrent use.
*/
type Model interface {
	Name() string
	Mesh() *mesh.Mesh
	Adapter() *fields.Adapter
	Params() *fields.Params
	// InitialState is the state every primal run starts from
	InitialState() []float64
	Unsteady() types.UnsteadyMode
	Evaluate(in *fields.Inputs) (res []ad.Real, v objective.View, err error)
	Connectivity(level int) (*coloring.Pattern, error)
	// Iterate advances the live fields one nonlinear iteration and returns
	// the residual norm it started from
	Iterate() (resNorm float64, err error)
	CorrectBoundaryConditions() error
	StepTime(deltaT float64)
	FvSource(in *fields.Inputs) ([]ad.Real, error)
}

type modelAllocator func(ip *InputParameters.InputParameters, tape *ad.Tape) (Model, error)

var modelAllocators = make(map[string]modelAllocator)

// RegisterModel adds a model under the solverName that selects it.
func RegisterModel(solverName string, alloc modelAllocator) {
	if _, ok := modelAllocators[solverName]; ok {
		panic(fmt.Errorf("model %q registered twice", solverName))
	}
	modelAllocators[solverName] = alloc
}

func ModelNames() (names []string) {
	for k := range modelAllocators {
		names = append(names, k)
	}
	sort.Strings(names)
	return
}

// defaultModel runs when solverName is empty.
const defaultModel = "ScalarTransport2D"

func init() {
	RegisterModel("ScalarTransport2D", func(ip *InputParameters.InputParameters, tape *ad.Tape) (Model, error) {
		return ScalarTransport2D.NewScalarTransport2D(ip, tape)
	})
	RegisterModel("Quadratic", func(ip *InputParameters.InputParameters, tape *ad.Tape) (Model, error) {
		return Quadratic.NewQuadratic(ip)
	})
}

func NewModel(ip *InputParameters.InputParameters, tape *ad.Tape) (m Model, err error) {
	name := ip.SolverName
	if name == "" {
		name = defaultModel
	}
	alloc, ok := modelAllocators[name]
	if !ok {
		err = fmt.Errorf("%w: %q, have %v", ErrUnknownModel, name, ModelNames())
		return
	}
	if m, err = alloc(ip, tape); err != nil {
		m = nil
	}
	return
}
