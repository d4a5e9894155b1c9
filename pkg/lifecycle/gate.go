package lifecycle

import (
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/logx"
)

// Gate forwards Start and Stop to the wrapped service when the host crosses
// the Started threshold. It keeps its own running flag, so repeated
// notifications on the same side of the threshold are absorbed.
type Gate struct {
	mu      sync.Mutex
	inner   Service
	running bool
	want    bool
	busy    bool
	bound   Lifecycle
	logger  *logx.Logger
}

// NewGate wraps inner. Call Bind to attach it to a host.
func NewGate(inner Service, logger *logx.Logger) *Gate {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Gate{inner: inner, logger: logger}
}

// Bind registers the gate with l. The gate starts right away when l is
// already active.
func (g *Gate) Bind(l Lifecycle) {
	g.mu.Lock()
	g.bound = l
	g.mu.Unlock()
	l.AddObserver(g)
}

// Close unregisters from the bound lifecycle and stops the inner service.
func (g *Gate) Close() {
	g.mu.Lock()
	l := g.bound
	g.bound = nil
	g.mu.Unlock()

	if l != nil {
		l.RemoveObserver(g)
	}
	g.Stop()
}

// OnStateChanged implements Observer.
func (g *Gate) OnStateChanged(s State) {
	if s.Active() {
		g.Start()
		return
	}
	g.Stop()
}

// Start forwards to the inner service once per activation.
func (g *Gate) Start() { g.set(true) }

// Stop forwards to the inner service once per deactivation.
func (g *Gate) Stop() { g.set(false) }

// set drives the inner service towards want. The inner service is called
// without holding the lock, so it may change the host state synchronously;
// a request made meanwhile (from its callbacks or another goroutine) is
// picked up by the loop already running.
func (g *Gate) set(want bool) {
	g.mu.Lock()
	g.want = want
	if g.busy {
		g.mu.Unlock()
		return
	}
	g.busy = true
	for g.running != g.want {
		g.running = g.want
		start := g.running
		g.mu.Unlock()

		if start {
			g.logger.LogStateChange("lifecycle_gate", "stopped", "running", "host_active", nil)
			g.inner.Start()
		} else {
			g.logger.LogStateChange("lifecycle_gate", "running", "stopped", "host_inactive", nil)
			g.inner.Stop()
		}

		g.mu.Lock()
	}
	g.busy = false
	g.mu.Unlock()
}

// Running reports whether the gate has forwarded a Start without a
// matching Stop.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}
