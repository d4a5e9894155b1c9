package livedata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProducer struct {
	mu      sync.Mutex
	starts  int
	stops   int
	onStart func()
}

func (p *countingProducer) Start() {
	p.mu.Lock()
	p.starts++
	hook := p.onStart
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (p *countingProducer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *countingProducer) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) get() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func TestBusActivatesOnFirstObserver(t *testing.T) {
	producer := &countingProducer{}
	bus := NewBus[int](WithActivator(producer))

	first := bus.ObserveForever(func(int) {})
	second := bus.ObserveForever(func(int) {})

	starts, stops := producer.counts()
	assert.Equal(t, 1, starts, "subscribers share one producer")
	assert.Zero(t, stops)
	assert.True(t, bus.HasActiveObservers())

	first.Unsubscribe()
	_, stops = producer.counts()
	assert.Zero(t, stops)

	second.Unsubscribe()
	second.Unsubscribe()
	_, stops = producer.counts()
	assert.Equal(t, 1, stops)
	assert.False(t, bus.HasObservers())
}

func TestBusDeliversLatestValueToNewObserver(t *testing.T) {
	bus := NewBus[string]()
	bus.SetValue("a")
	bus.SetValue("b")

	rec := &recorder[string]{}
	bus.ObserveForever(rec.add)

	assert.Equal(t, []string{"b"}, rec.get())

	bus.SetValue("c")
	assert.Equal(t, []string{"b", "c"}, rec.get())

	v, ok := bus.Value()
	require.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestBusFollowsOwnerLifecycle(t *testing.T) {
	producer := &countingProducer{}
	bus := NewBus[int](WithActivator(producer))
	owner := lifecycle.NewRegistry(nil)
	owner.MarkState(lifecycle.Created)

	rec := &recorder[int]{}
	sub := bus.Observe(owner, rec.add)
	bus.SetValue(1)

	assert.False(t, sub.Active())
	assert.Empty(t, rec.get())
	starts, _ := producer.counts()
	assert.Zero(t, starts)

	owner.MarkState(lifecycle.Started)
	assert.True(t, sub.Active())
	assert.Equal(t, []int{1}, rec.get())

	owner.MarkState(lifecycle.Resumed)
	owner.MarkState(lifecycle.Created)
	bus.SetValue(2)
	assert.Equal(t, []int{1}, rec.get())

	owner.MarkState(lifecycle.Started)
	assert.Equal(t, []int{1, 2}, rec.get())

	owner.MarkState(lifecycle.Destroyed)
	assert.False(t, bus.HasObservers())

	starts, stops := producer.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
}

func TestBusObserveDestroyedOwner(t *testing.T) {
	bus := NewBus[int]()
	owner := lifecycle.NewRegistry(nil)
	owner.MarkState(lifecycle.Destroyed)

	sub := bus.Observe(owner, func(int) { t.Fatal("must not deliver") })
	bus.SetValue(1)

	assert.False(t, sub.Active())
	assert.False(t, bus.HasObservers())
	sub.Unsubscribe()
}

func TestBusPostMarshalsOntoLooper(t *testing.T) {
	looper := NewLooper(nil)
	bus := NewBus[int](WithExecutor(looper))
	rec := &recorder[int]{}
	bus.ObserveForever(rec.add)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Post(1)
		bus.Post(2)
	}()
	wg.Wait()

	assert.Empty(t, rec.get(), "nothing is delivered before the looper runs")
	assert.Equal(t, 2, looper.Pending())

	looper.Flush()
	assert.Equal(t, []int{1, 2}, rec.get())
}

func TestLooperRun(t *testing.T) {
	looper := NewLooper(nil)
	bus := NewBus[int](WithExecutor(looper))
	got := make(chan int, 4)
	bus.ObserveForever(func(v int) { got <- v })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- looper.Run(ctx) }()

	bus.Post(7)
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("value not delivered")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	bus.Post(8)
	assert.Zero(t, looper.Pending())
}

func TestLooperSurvivesPanickingTask(t *testing.T) {
	looper := NewLooper(nil)
	ran := false
	looper.Execute(func() { panic("observer bug") })
	looper.Execute(func() { ran = true })

	looper.Flush()
	assert.True(t, ran)
}

func TestBusUnsubscribeFromStartCallback(t *testing.T) {
	producer := &countingProducer{}
	bus := NewBus[int](WithActivator(producer))
	owner := lifecycle.NewRegistry(nil)
	owner.MarkState(lifecycle.Created)

	var sub Subscription
	sub = bus.Observe(owner, func(int) {
		sub.Unsubscribe()
	})
	producer.onStart = func() {
		bus.SetValue(1)
	}

	owner.MarkState(lifecycle.Started)

	starts, stops := producer.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, bus.HasObservers())
}

func TestSetActivatorWhileActive(t *testing.T) {
	bus := NewBus[int]()
	bus.ObserveForever(func(int) {})

	producer := &countingProducer{}
	bus.SetActivator(producer)

	starts, _ := producer.counts()
	assert.Equal(t, 1, starts)
}

func TestSetActivatorReplacesRunningProducer(t *testing.T) {
	first := &countingProducer{}
	bus := NewBus[int](WithActivator(first))
	sub := bus.ObserveForever(func(int) {})

	second := &countingProducer{}
	bus.SetActivator(second)

	starts, stops := first.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops, "the replaced producer is released")
	starts, _ = second.counts()
	assert.Equal(t, 1, starts)

	sub.Unsubscribe()
	_, stops = second.counts()
	assert.Equal(t, 1, stops)
	_, stops = first.counts()
	assert.Equal(t, 1, stops)
}

func TestSetActivatorWhileInactiveDoesNotStart(t *testing.T) {
	first := &countingProducer{}
	bus := NewBus[int](WithActivator(first))
	bus.SetActivator(&countingProducer{})

	starts, stops := first.counts()
	assert.Zero(t, starts)
	assert.Zero(t, stops)
}
