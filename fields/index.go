package fields

import (
	"fmt"

	"github.com/notargets/goadjoint/mesh"
	"github.com/notargets/goadjoint/types"
)

type StateInfo struct {
	Name string
	Type types.StateType
}

// Loc identifies one degree of freedom: state, cell or face, and component.
type Loc struct {
	State int
	Elem  int
	Comp  int
}

/*
StateIndex maps field degrees of freedom to flat vector positions.

Volume states carry one entry per cell and component; surface states one
entry per face. Boundary faces of surface states form the tail of the vector,
after NLocalAdjointStates entries, in both orderings:

	state: all cells of each volume state, then internal faces of each surface state
	cell:  per cell, its volume components followed by the surface states of the
	       internal faces it owns
*/
type StateIndex struct {
	States                      []StateInfo
	Ordering                    string
	NCells                      int
	NInternalFaces              int
	NBoundaryFaces              int
	NLocalAdjointStates         int
	NLocalAdjointBoundaryStates int
	nVolComps, nSurf            int
	stateComp                   []int // component offset of a volume state within a cell block, or surface slot
	stateBase                   []int // state ordering: first index of each state
	cellStart                   []int // cell ordering: first index of each cell block
	faceSlot                    []int // cell ordering: owned face position within its owner's block
	faceOwner                   []int
	locs                        []Loc
	byName                      map[string]int
}

func NewStateIndex(m *mesh.Mesh, states []StateInfo, ordering string) (si *StateIndex, err error) {
	if ordering == "" {
		ordering = "state"
	}
	if ordering != "state" && ordering != "cell" {
		err = fmt.Errorf("unknown adjoint state ordering %q", ordering)
		return
	}
	si = &StateIndex{
		States:         states,
		Ordering:       ordering,
		NCells:         m.NCells(),
		NInternalFaces: m.NInternalFaces,
		NBoundaryFaces: m.NBoundaryFaces(),
		stateComp:      make([]int, len(states)),
		stateBase:      make([]int, len(states)),
		byName:         make(map[string]int),
	}
	for s, st := range states {
		if _, dup := si.byName[st.Name]; dup {
			err = fmt.Errorf("duplicate state %q", st.Name)
			return
		}
		si.byName[st.Name] = s
		if st.Type.IsSurface() {
			si.stateComp[s] = si.nSurf
			si.nSurf++
		} else {
			si.stateComp[s] = si.nVolComps
			si.nVolComps += st.Type.NComp()
		}
	}
	si.NLocalAdjointStates = si.nVolComps*si.NCells + si.nSurf*si.NInternalFaces
	si.NLocalAdjointBoundaryStates = si.nSurf * si.NBoundaryFaces
	switch ordering {
	case "state":
		var base int
		for s, st := range states {
			if !st.Type.IsSurface() {
				si.stateBase[s] = base
				base += st.Type.NComp() * si.NCells
			}
		}
		for s, st := range states {
			if st.Type.IsSurface() {
				si.stateBase[s] = base
				base += si.NInternalFaces
			}
		}
	case "cell":
		owned := make([]int, si.NCells)
		si.faceSlot = make([]int, si.NInternalFaces)
		for f := 0; f < si.NInternalFaces; f++ {
			k := m.Owner[f]
			si.faceSlot[f] = owned[k]
			owned[k]++
		}
		si.cellStart = make([]int, si.NCells+1)
		for k := 0; k < si.NCells; k++ {
			si.cellStart[k+1] = si.cellStart[k] + si.nVolComps + si.nSurf*owned[k]
		}
		si.faceOwner = m.Owner[:si.NInternalFaces]
	}
	si.locs = make([]Loc, si.NStates())
	for s, st := range states {
		if st.Type.IsSurface() {
			for f := 0; f < si.NInternalFaces+si.NBoundaryFaces; f++ {
				si.locs[si.IndexOf(s, f, 0)] = Loc{s, f, 0}
			}
			continue
		}
		for k := 0; k < si.NCells; k++ {
			for c := 0; c < st.Type.NComp(); c++ {
				si.locs[si.IndexOf(s, k, c)] = Loc{s, k, c}
			}
		}
	}
	return
}

func (si *StateIndex) NStates() int {
	return si.NLocalAdjointStates + si.NLocalAdjointBoundaryStates
}

func (si *StateIndex) StateID(name string) (s int, err error) {
	var ok bool
	if s, ok = si.byName[name]; !ok {
		err = fmt.Errorf("unknown state %q", name)
	}
	return
}

// Index returns the flat position of a degree of freedom. elem is a cell for
// volume states and a mesh face for surface states.
func (si *StateIndex) Index(name string, elem, comp int) (i int, err error) {
	var s int
	if s, err = si.StateID(name); err != nil {
		return
	}
	st := si.States[s]
	if st.Type.IsSurface() {
		if elem < 0 || elem >= si.NInternalFaces+si.NBoundaryFaces || comp != 0 {
			err = fmt.Errorf("face %d comp %d out of range for state %q", elem, comp, name)
			return
		}
	} else if elem < 0 || elem >= si.NCells || comp < 0 || comp >= st.Type.NComp() {
		err = fmt.Errorf("cell %d comp %d out of range for state %q", elem, comp, name)
		return
	}
	return si.IndexOf(s, elem, comp), nil
}

// IndexOf is Index by state number without range checks.
func (si *StateIndex) IndexOf(s, elem, comp int) int {
	st := si.States[s]
	if st.Type.IsSurface() && elem >= si.NInternalFaces {
		return si.NLocalAdjointStates + si.stateComp[s]*si.NBoundaryFaces + elem - si.NInternalFaces
	}
	if si.Ordering == "state" {
		if st.Type.IsSurface() {
			return si.stateBase[s] + elem
		}
		return si.stateBase[s] + elem*st.Type.NComp() + comp
	}
	if st.Type.IsSurface() {
		k := si.faceOwner[elem]
		return si.cellStart[k] + si.nVolComps + si.faceSlot[elem]*si.nSurf + si.stateComp[s]
	}
	return si.cellStart[elem] + si.stateComp[s] + comp
}

// Locate is the inverse of Index.
func (si *StateIndex) Locate(i int) Loc { return si.locs[i] }

// IsBoundaryState reports whether flat position i is a boundary-face state.
func (si *StateIndex) IsBoundaryState(i int) bool { return i >= si.NLocalAdjointStates }

func (si *StateIndex) Print() {
	fmt.Printf("State index (%s ordering):\n", si.Ordering)
	for _, st := range si.States {
		fmt.Printf("\t%-10s %s\n", st.Name, st.Type)
	}
	fmt.Printf("%d\t= nLocalAdjointStates\n", si.NLocalAdjointStates)
	fmt.Printf("%d\t= nLocalAdjointBoundaryStates\n", si.NLocalAdjointBoundaryStates)
}
