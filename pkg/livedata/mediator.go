package livedata

import "sync"

// Mediator is a Bus fed by other observables. Its sources are only
// observed while the mediator itself has active subscribers, so an
// unobserved chain holds no upstream subscriptions.
type Mediator[T any] struct {
	*Bus[T]

	mu      sync.Mutex
	links   []*Link
	plugged bool
}

// NewMediator creates a mediator without sources. A WithActivator option
// is ignored: the mediator's producer is its set of sources.
func NewMediator[T any](opts ...Option) *Mediator[T] {
	m := &Mediator[T]{}
	m.Bus = NewBus[T](append(opts, WithActivator(mediatorHooks[T]{m}))...)
	return m
}

// Link is one source attached to a mediator.
type Link struct {
	plug func() Subscription

	// last source version delivered through this link, kept across
	// unplug and plug so a value is never seen twice
	seen int

	mu        sync.Mutex
	connected bool
	sub       Subscription
}

// versioned is implemented by Bus (and so by Mediator).
type versioned[T any] interface {
	observeFrom(fn func(T), seen *int) Subscription
}

// AddSource makes m observe src while m is active, calling onChanged for
// each value src delivers. A value src already delivered is not delivered
// again when m becomes active after a pause.
func AddSource[S, T any](m *Mediator[T], src Observable[S], onChanged func(S)) *Link {
	l := &Link{}
	l.plug = func() Subscription {
		if v, ok := src.(versioned[S]); ok {
			return v.observeFrom(onChanged, &l.seen)
		}
		return src.ObserveForever(onChanged)
	}

	m.mu.Lock()
	m.links = append(m.links, l)
	plugged := m.plugged
	m.mu.Unlock()

	if plugged {
		l.connect()
	}
	return l
}

// RemoveSource detaches l and drops its upstream subscription.
func (m *Mediator[T]) RemoveSource(l *Link) {
	if l == nil {
		return
	}
	m.mu.Lock()
	for i, existing := range m.links {
		if existing == l {
			m.links = append(m.links[:i:i], m.links[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	l.disconnect()
}

// SourceCount returns the number of attached sources.
func (m *Mediator[T]) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *Mediator[T]) plugAll() {
	m.mu.Lock()
	m.plugged = true
	links := make([]*Link, len(m.links))
	copy(links, m.links)
	m.mu.Unlock()

	for _, l := range links {
		l.connect()
	}
}

func (m *Mediator[T]) unplugAll() {
	m.mu.Lock()
	m.plugged = false
	links := make([]*Link, len(m.links))
	copy(links, m.links)
	m.mu.Unlock()

	for _, l := range links {
		l.disconnect()
	}
}

func (l *Link) connect() {
	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = true
	l.mu.Unlock()

	// plug may deliver synchronously and the callback may detach us
	sub := l.plug()

	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	l.sub = sub
	l.mu.Unlock()
}

func (l *Link) disconnect() {
	l.mu.Lock()
	l.connected = false
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

type mediatorHooks[T any] struct {
	m *Mediator[T]
}

func (h mediatorHooks[T]) Start() { h.m.plugAll() }
func (h mediatorHooks[T]) Stop()  { h.m.unplugAll() }
