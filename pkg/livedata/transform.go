package livedata

import "sync"

// Map derives an observable emitting fn(v) for every value of src. src is
// only observed while the result is.
func Map[S, T any](src Observable[S], fn func(S) T, opts ...Option) *Mediator[T] {
	m := NewMediator[T](append([]Option{WithName("map")}, opts...)...)
	AddSource(m, src, func(v S) {
		m.SetValue(fn(v))
	})
	return m
}

// SwitchMap calls fn for every value of src and forwards whatever the
// returned observable emits. The previously selected observable is
// detached before the next one is attached. Returning the same observable
// again keeps the current subscription; returning nil selects nothing.
func SwitchMap[S, T any](src Observable[S], fn func(S) Observable[T], opts ...Option) *Mediator[T] {
	m := NewMediator[T](append([]Option{WithName("switch_map")}, opts...)...)

	var (
		mu      sync.Mutex
		current Observable[T]
		link    *Link
	)
	AddSource(m, src, func(v S) {
		next := fn(v)

		mu.Lock()
		if current != nil && sameObservable(current, next) {
			mu.Unlock()
			return
		}
		previous := link
		current = next
		link = nil
		mu.Unlock()

		m.RemoveSource(previous)
		if next == nil {
			return
		}

		l := AddSource(m, next, m.SetValue)
		mu.Lock()
		if sameObservable(current, next) {
			link = l
			mu.Unlock()
			return
		}
		mu.Unlock()
		// superseded while attaching
		m.RemoveSource(l)
	})
	return m
}

// Merge forwards every value of every source, in arrival order.
func Merge[T any](sources []Observable[T], opts ...Option) *Mediator[T] {
	m := NewMediator[T](append([]Option{WithName("merge")}, opts...)...)
	for _, src := range sources {
		AddSource(m, src, m.SetValue)
	}
	return m
}

func sameObservable[T any](a, b Observable[T]) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
