// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package exthost

// State is the lifecycle state of a host process.
type State int32

// Host states.
const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateCrashed
	StateRestarting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// validTransitions lists allowed state changes.
var validTransitions = map[State][]State{
	StateUnstarted:  {StateStarting, StateDisposed},
	StateStarting:   {StateReady, StateUnstarted, StateDisposed},
	StateReady:      {StateCrashed, StateDisposed},
	StateCrashed:    {StateRestarting, StateDisposed},
	StateRestarting: {StateReady, StateCrashed, StateDisposed},
	StateDisposed:   {StateRestarting},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
