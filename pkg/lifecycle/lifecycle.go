// Package lifecycle models the host state machine that drives producers:
// an ordered set of states, observers notified on transitions, and the
// start/stop capability that gates and sources share.
package lifecycle

import "fmt"

// State is a host lifecycle state. States are ordered; a host is "active"
// when it is at least Started.
type State int

const (
	Destroyed State = iota
	Initialized
	Created
	Started
	Resumed
)

func (s State) String() string {
	switch s {
	case Destroyed:
		return "DESTROYED"
	case Initialized:
		return "INITIALIZED"
	case Created:
		return "CREATED"
	case Started:
		return "STARTED"
	case Resumed:
		return "RESUMED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsAtLeast reports whether s is the same as or after other.
func (s State) IsAtLeast(other State) bool {
	return s >= other
}

// Active reports whether s is at or above the Started threshold.
func (s State) Active() bool {
	return s.IsAtLeast(Started)
}

// Event is a host lifecycle event. Each event moves the host to a target
// state.
type Event int

const (
	OnCreate Event = iota
	OnStart
	OnResume
	OnPause
	OnStop
	OnDestroy
)

func (e Event) String() string {
	switch e {
	case OnCreate:
		return "ON_CREATE"
	case OnStart:
		return "ON_START"
	case OnResume:
		return "ON_RESUME"
	case OnPause:
		return "ON_PAUSE"
	case OnStop:
		return "ON_STOP"
	case OnDestroy:
		return "ON_DESTROY"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// TargetState returns the state the host is in after e.
func (e Event) TargetState() State {
	switch e {
	case OnCreate, OnStop:
		return Created
	case OnStart, OnPause:
		return Started
	case OnResume:
		return Resumed
	default:
		return Destroyed
	}
}

// Observer receives every state the host reports.
type Observer interface {
	OnStateChanged(State)
}

// ObserverFunc adapts a function to Observer. Functions are not comparable,
// so an ObserverFunc can never be removed; use a pointer type for observers
// that must be unregistered.
type ObserverFunc func(State)

func (f ObserverFunc) OnStateChanged(s State) { f(s) }

// Lifecycle is the host side of the contract: the current state plus
// observer registration.
type Lifecycle interface {
	CurrentState() State
	AddObserver(Observer)
	RemoveObserver(Observer)
}

// Owner is anything that has a lifecycle. Subscriptions bound to an owner
// live as long as it does.
type Owner interface {
	Lifecycle() Lifecycle
}

// Service is the start/stop capability shared by sources and the gates
// that decorate them. Both calls must return promptly and be idempotent.
type Service interface {
	Start()
	Stop()
}
