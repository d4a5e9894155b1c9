package lifecycle

import (
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/logx"
)

// Registry is a host-driven Lifecycle. The host moves it with MarkState or
// HandleEvent and every registered observer is told about the new state.
//
// Every call dispatches, including a repeat of the current state. Observers
// are expected to absorb duplicates themselves.
type Registry struct {
	mu        sync.Mutex
	state     State
	observers []Observer
	logger    *logx.Logger
}

// NewRegistry returns a registry in the Initialized state.
func NewRegistry(logger *logx.Logger) *Registry {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Registry{state: Initialized, logger: logger}
}

// Lifecycle lets a Registry act as its own Owner.
func (r *Registry) Lifecycle() Lifecycle { return r }

// CurrentState returns the last state marked.
func (r *Registry) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AddObserver registers o and immediately reports the current state to it.
// Adding the same observer twice has no effect.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	for _, existing := range r.observers {
		if sameObserver(existing, o) {
			r.mu.Unlock()
			return
		}
	}
	r.observers = append(r.observers, o)
	state := r.state
	r.mu.Unlock()

	if state != Initialized {
		o.OnStateChanged(state)
	}
}

// RemoveObserver unregisters o. Unknown observers are ignored.
func (r *Registry) RemoveObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.observers {
		if sameObserver(existing, o) {
			r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
			return
		}
	}
}

// MarkState moves the registry to s and notifies observers in registration
// order. Once Destroyed the registry ignores further transitions.
func (r *Registry) MarkState(s State) {
	r.mu.Lock()
	if r.state == Destroyed && s != Destroyed {
		r.mu.Unlock()
		r.logger.Warn("ignoring transition after destroy", "requested", s.String())
		return
	}
	from := r.state
	r.state = s
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	r.logger.Debug("lifecycle transition", "from", from.String(), "to", s.String(), "observers", len(observers))

	for _, o := range observers {
		o.OnStateChanged(s)
	}

	if s == Destroyed {
		r.mu.Lock()
		r.observers = nil
		r.mu.Unlock()
	}
}

// HandleEvent moves the registry to the target state of e.
func (r *Registry) HandleEvent(e Event) {
	r.MarkState(e.TargetState())
}

// ObserverCount returns the number of registered observers.
func (r *Registry) ObserverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// sameObserver compares observers without panicking on uncomparable
// dynamic types such as ObserverFunc.
func sameObserver(a, b Observer) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
