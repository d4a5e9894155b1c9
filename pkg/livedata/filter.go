package livedata

import (
	"fmt"
	"strings"
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/metrics"
)

// Policy decides whether candidate supersedes previous. previous is nil
// until a first value has been accepted.
type Policy[T any] func(candidate, previous *T) bool

// FilterMode selects what a filter emits when its policy rejects a value.
type FilterMode int

const (
	// DropRejected emits nothing for a rejected value.
	DropRejected FilterMode = iota
	// ReemitPrevious emits the retained accepted value again.
	ReemitPrevious
)

func (m FilterMode) String() string {
	switch m {
	case DropRejected:
		return "drop"
	case ReemitPrevious:
		return "reemit"
	default:
		return fmt.Sprintf("FilterMode(%d)", int(m))
	}
}

// ParseFilterMode accepts "drop" or "reemit".
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop", "":
		return DropRejected, nil
	case "reemit", "re-emit":
		return ReemitPrevious, nil
	default:
		return DropRejected, fmt.Errorf("unknown filter mode %q", s)
	}
}

// filterState keeps the last accepted value for one filter instance.
type filterState[T any] struct {
	mu       sync.Mutex
	policy   Policy[T]
	mode     FilterMode
	previous *T

	name    string
	metrics *metrics.Metrics
}

func (f *filterState[T]) decide(v T) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	candidate := v
	if f.policy(&candidate, f.previous) {
		f.previous = &candidate
		f.metrics.FilterDecision(f.name, true)
		return candidate, true
	}
	f.metrics.FilterDecision(f.name, false)

	if f.mode == ReemitPrevious && f.previous != nil {
		return *f.previous, true
	}
	var zero T
	return zero, false
}

// Filter forwards the values of src that policy accepts. Rejected values
// are dropped or answered with the retained value, depending on mode.
func Filter[T any](src Observable[T], policy Policy[T], mode FilterMode, opts ...Option) *Mediator[T] {
	m := NewMediator[T](append([]Option{WithName("filter")}, opts...)...)
	state := &filterState[T]{
		policy:  policy,
		mode:    mode,
		name:    m.opts.name,
		metrics: m.opts.metrics,
	}
	AddSource(m, src, func(v T) {
		if out, ok := state.decide(v); ok {
			m.SetValue(out)
		}
	})
	return m
}

// FilteredObserver applies policy on the consumer side: fn only sees
// accepted values (or the retained value on reject in ReemitPrevious mode).
func FilteredObserver[T any](fn func(T), policy Policy[T], mode FilterMode) func(T) {
	state := &filterState[T]{policy: policy, mode: mode, name: "observer"}
	return func(v T) {
		if out, ok := state.decide(v); ok {
			fn(out)
		}
	}
}
