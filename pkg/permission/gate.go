package permission

import (
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/metrics"
)

// Gate forwards Start to the wrapped service only while the named
// capability is granted. The check runs on every call; nothing is cached.
//
// Stop is always forwarded. Releasing a provider registration must not
// depend on the permission that was needed to acquire it, otherwise a
// revoke between Start and Stop leaks the registration.
type Gate struct {
	inner   lifecycle.Service
	checker Checker
	name    string
	logger  *logx.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	forwarded bool
}

// NewGate wraps inner behind the capability name.
func NewGate(inner lifecycle.Service, checker Checker, name string, logger *logx.Logger, m *metrics.Metrics) *Gate {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Gate{inner: inner, checker: checker, name: name, logger: logger, metrics: m}
}

// Start forwards when the capability is granted and is a silent no-op
// otherwise.
func (g *Gate) Start() {
	if !g.checker.IsGranted(g.name) {
		g.metrics.PermissionDenied(g.name)
		g.logger.Debug("permission not granted, start suppressed", "permission", g.name)
		return
	}

	g.mu.Lock()
	g.forwarded = true
	g.mu.Unlock()
	g.inner.Start()
}

// Stop forwards unconditionally.
func (g *Gate) Stop() {
	g.mu.Lock()
	wasForwarded := g.forwarded
	g.forwarded = false
	g.mu.Unlock()

	if wasForwarded && !g.checker.IsGranted(g.name) {
		g.logger.Warn("permission revoked while running, releasing anyway", "permission", g.name)
	}
	g.inner.Stop()
}

// Granted reports whether the capability is granted right now.
func (g *Gate) Granted() bool {
	return g.checker.IsGranted(g.name)
}
