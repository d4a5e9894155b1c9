package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService records how often it was started and stopped.
type countingService struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (c *countingService) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
}

func (c *countingService) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *countingService) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

func TestStateOrdering(t *testing.T) {
	assert.True(t, Resumed.IsAtLeast(Started))
	assert.True(t, Started.Active())
	assert.False(t, Created.Active())
	assert.False(t, Destroyed.Active())
	assert.Equal(t, "STARTED", Started.String())
}

func TestEventTargetState(t *testing.T) {
	cases := map[Event]State{
		OnCreate:  Created,
		OnStart:   Started,
		OnResume:  Resumed,
		OnPause:   Started,
		OnStop:    Created,
		OnDestroy: Destroyed,
	}
	for event, want := range cases {
		assert.Equal(t, want, event.TargetState(), event.String())
	}
}

func TestRegistryDispatchesCurrentStateOnAdd(t *testing.T) {
	r := NewRegistry(nil)
	r.MarkState(Started)

	var seen []State
	r.AddObserver(ObserverFunc(func(s State) { seen = append(seen, s) }))

	assert.Equal(t, []State{Started}, seen)
}

func TestRegistryIgnoresTransitionsAfterDestroy(t *testing.T) {
	r := NewRegistry(nil)
	svc := &countingService{}
	gate := NewGate(svc, nil)
	gate.Bind(r)

	r.MarkState(Started)
	r.MarkState(Destroyed)
	r.MarkState(Started)

	starts, stops := svc.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, Destroyed, r.CurrentState())
	assert.Zero(t, r.ObserverCount())
}

func TestGateStartsOnStarted(t *testing.T) {
	r := NewRegistry(nil)
	svc := &countingService{}
	NewGate(svc, nil).Bind(r)

	r.MarkState(Started)

	starts, stops := svc.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops)
}

func TestGateStopsWhenDroppingBelowStarted(t *testing.T) {
	r := NewRegistry(nil)
	svc := &countingService{}
	NewGate(svc, nil).Bind(r)

	r.MarkState(Started)
	r.MarkState(Created)

	starts, stops := svc.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestGateStartStartStop(t *testing.T) {
	r := NewRegistry(nil)
	svc := &countingService{}
	gate := NewGate(svc, nil)
	gate.Bind(r)

	r.MarkState(Started)
	r.MarkState(Started)
	r.MarkState(Resumed)
	require.True(t, gate.Running())
	r.MarkState(Created)

	starts, stops := svc.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, gate.Running())
}

func TestGateStopWithoutStart(t *testing.T) {
	svc := &countingService{}
	gate := NewGate(svc, nil)

	gate.OnStateChanged(Created)
	gate.Stop()

	_, stops := svc.counts()
	assert.Zero(t, stops)
}

func TestGateBindWhileActive(t *testing.T) {
	r := NewRegistry(nil)
	r.HandleEvent(OnResume)
	svc := &countingService{}
	gate := NewGate(svc, nil)

	gate.Bind(r)
	starts, _ := svc.counts()
	assert.Equal(t, 1, starts)

	gate.Close()
	_, stops := svc.counts()
	assert.Equal(t, 1, stops)
	assert.Zero(t, r.ObserverCount())
}

func TestGateConcurrentNotifications(t *testing.T) {
	svc := &countingService{}
	gate := NewGate(svc, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.OnStateChanged(Started)
		}()
	}
	wg.Wait()

	starts, _ := svc.counts()
	assert.Equal(t, 1, starts)
}

// hostPausingService drops the host below Started from inside Start, like
// an observer reacting synchronously to the first delivered value.
type hostPausingService struct {
	countingService
	host *Registry
}

func (s *hostPausingService) Start() {
	s.countingService.Start()
	s.host.MarkState(Created)
}

func TestGateInnerMayChangeHostState(t *testing.T) {
	r := NewRegistry(nil)
	svc := &hostPausingService{host: r}
	gate := NewGate(svc, nil)
	gate.Bind(r)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.MarkState(Started)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gate deadlocked on a reentrant transition")
	}

	starts, stops := svc.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, gate.Running())
	assert.Equal(t, Created, r.CurrentState())
}
