// Package livedata is a small lifecycle-aware observable value bus. A Bus
// holds the latest value, delivers it to subscribers whose owners are at
// least Started, and starts its producer when it gains the first active
// subscriber and stops it when the last one goes away.
package livedata

import (
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/metrics"
)

// Subscription ties one callback to one bus.
type Subscription interface {
	// Unsubscribe removes the callback. Calling it again is a no-op.
	Unsubscribe()
	// Active reports whether the callback currently receives values.
	Active() bool
}

// Observable is the read side of a bus.
type Observable[T any] interface {
	// Observe delivers values to fn while owner is at least Started and
	// unsubscribes automatically when owner is destroyed.
	Observe(owner lifecycle.Owner, fn func(T)) Subscription
	// ObserveForever delivers values to fn until it unsubscribes.
	ObserveForever(fn func(T)) Subscription
	// Value returns the latest value, if any has been set.
	Value() (T, bool)
}

type options struct {
	name      string
	executor  Executor
	activator lifecycle.Service
	logger    *logx.Logger
	metrics   *metrics.Metrics
}

// Option configures a bus.
type Option func(*options)

// WithName names the bus in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithExecutor sets the context Post hops onto. Defaults to Immediate.
func WithExecutor(e Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithActivator sets the producer started and stopped by the bus.
func WithActivator(svc lifecycle.Service) Option {
	return func(o *options) { o.activator = svc }
}

func WithLogger(l *logx.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{name: "bus", executor: Immediate}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logx.Nop()
	}
	if o.executor == nil {
		o.executor = Immediate
	}
	return o
}

// Bus is a mutable Observable. SetValue must be called from the delivery
// context; Post may be called from anywhere.
type Bus[T any] struct {
	opts options

	mu             sync.Mutex
	subs           []*subscription[T]
	activeCount    int
	producerActive bool
	reconciling    bool
	value          T
	hasValue       bool
	version        int
}

// NewBus creates an empty bus.
func NewBus[T any](opts ...Option) *Bus[T] {
	return &Bus[T]{opts: buildOptions(opts)}
}

// Name returns the bus name.
func (b *Bus[T]) Name() string { return b.opts.name }

// SetActivator installs the producer after construction, for producers
// whose callback needs the bus itself. While the bus is active the
// replaced producer is stopped and svc is started right away.
func (b *Bus[T]) SetActivator(svc lifecycle.Service) {
	b.mu.Lock()
	previous := b.opts.activator
	b.opts.activator = svc
	active := b.producerActive
	b.mu.Unlock()

	if !active {
		return
	}
	if previous != nil {
		previous.Stop()
	}
	if svc != nil {
		svc.Start()
	}
}

// Observe implements Observable.
func (b *Bus[T]) Observe(owner lifecycle.Owner, fn func(T)) Subscription {
	l := owner.Lifecycle()
	s := &subscription[T]{bus: b, fn: fn, owner: l}
	if l.CurrentState() == lifecycle.Destroyed {
		s.removed = true
		return s
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	// the owner reports its current state on registration
	l.AddObserver(s)
	return s
}

// ObserveForever implements Observable.
func (b *Bus[T]) ObserveForever(fn func(T)) Subscription {
	s := &subscription[T]{bus: b, fn: fn}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	b.setActive(s, true)
	return s
}

// observeFrom is ObserveForever for a subscriber that has already seen
// version *seen of this bus, typically a mediator source being plugged
// again. Every delivery updates *seen.
func (b *Bus[T]) observeFrom(fn func(T), seen *int) Subscription {
	s := &subscription[T]{bus: b, fn: fn, seen: seen}

	b.mu.Lock()
	s.lastVersion = *seen
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	b.setActive(s, true)
	return s
}

// Value implements Observable.
func (b *Bus[T]) Value() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.hasValue
}

// SetValue stores v and delivers it to every active subscriber.
func (b *Bus[T]) SetValue(v T) {
	b.mu.Lock()
	b.version++
	b.value = v
	b.hasValue = true
	subs := make([]*subscription[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.considerNotify(s)
	}
}

// Post hands v to the bus executor, which calls SetValue. Every posted
// value is delivered; posts are not coalesced.
func (b *Bus[T]) Post(v T) {
	b.opts.executor.Execute(func() { b.SetValue(v) })
}

// HasObservers reports whether any subscription is registered.
func (b *Bus[T]) HasObservers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}

// HasActiveObservers reports whether any subscription receives values.
func (b *Bus[T]) HasActiveObservers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeCount > 0
}

func (b *Bus[T]) setActive(s *subscription[T], active bool) {
	b.mu.Lock()
	if s.removed || s.active == active {
		b.mu.Unlock()
		return
	}
	s.active = active
	if active {
		b.activeCount++
	} else {
		b.activeCount--
	}
	count := b.activeCount
	b.mu.Unlock()

	b.opts.metrics.SetActiveObservers(b.opts.name, count)
	b.reconcile()
	if active {
		b.considerNotify(s)
	}
}

func (b *Bus[T]) remove(s *subscription[T]) {
	b.mu.Lock()
	if s.removed {
		b.mu.Unlock()
		return
	}
	s.removed = true
	for i, existing := range b.subs {
		if existing == s {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	if s.active {
		s.active = false
		b.activeCount--
	}
	count := b.activeCount
	owner := s.owner
	b.mu.Unlock()

	if owner != nil {
		owner.RemoveObserver(s)
	}
	b.opts.metrics.SetActiveObservers(b.opts.name, count)
	b.reconcile()
}

// reconcile drives the producer towards "active iff activeCount > 0". Only
// one reconciler runs at a time; a transition requested while the producer
// is being started or stopped (including from inside its callbacks) is
// picked up by the running loop.
func (b *Bus[T]) reconcile() {
	b.mu.Lock()
	if b.reconciling {
		b.mu.Unlock()
		return
	}
	b.reconciling = true
	for {
		want := b.activeCount > 0
		if want == b.producerActive {
			b.reconciling = false
			b.mu.Unlock()
			return
		}
		b.producerActive = want
		activator := b.opts.activator
		b.mu.Unlock()

		if want {
			b.opts.logger.Debug("bus active", "bus", b.opts.name)
			if activator != nil {
				activator.Start()
			}
		} else {
			b.opts.logger.Debug("bus inactive", "bus", b.opts.name)
			if activator != nil {
				activator.Stop()
			}
		}

		b.mu.Lock()
	}
}

func (b *Bus[T]) considerNotify(s *subscription[T]) {
	b.mu.Lock()
	if !s.active || s.removed || !b.hasValue || s.lastVersion >= b.version {
		b.mu.Unlock()
		return
	}
	s.lastVersion = b.version
	if s.seen != nil {
		*s.seen = b.version
	}
	v := b.value
	b.mu.Unlock()

	s.fn(v)
	b.opts.metrics.ValueDelivered(b.opts.name)
}

type subscription[T any] struct {
	bus   *Bus[T]
	fn    func(T)
	owner lifecycle.Lifecycle

	// guarded by bus.mu
	active      bool
	removed     bool
	lastVersion int
	seen        *int
}

func (s *subscription[T]) Unsubscribe() {
	s.bus.remove(s)
}

func (s *subscription[T]) Active() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.active
}

// OnStateChanged follows the owner's lifecycle.
func (s *subscription[T]) OnStateChanged(state lifecycle.State) {
	if state == lifecycle.Destroyed {
		s.bus.remove(s)
		return
	}
	s.bus.setActive(s, state.Active())
}
