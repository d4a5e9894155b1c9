// Package permission gates services on named capabilities that the host
// grants and revokes out of band.
package permission

import (
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
)

// AccessFineLocation is the capability required to read precise location.
const AccessFineLocation = "ACCESS_FINE_LOCATION"

// Checker answers whether a capability is granted right now.
type Checker interface {
	IsGranted(name string) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(name string) bool

func (f CheckerFunc) IsGranted(name string) bool { return f(name) }

// Table is an in-memory, thread-safe permission table the host mutates as
// the user answers prompts.
type Table struct {
	mu      sync.RWMutex
	granted map[string]bool
}

// NewTable returns a table with the given capabilities granted.
func NewTable(granted ...string) *Table {
	t := &Table{granted: make(map[string]bool)}
	for _, name := range granted {
		t.granted[name] = true
	}
	return t
}

func (t *Table) IsGranted(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.granted[name]
}

func (t *Table) Grant(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.granted[name] = true
}

func (t *Table) Revoke(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.granted, name)
}

// Requester asks the user for a capability. The answer arrives later
// through whatever the host uses to grant it.
type Requester interface {
	Request(name string)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(name string)

func (f RequesterFunc) Request(name string) { f(name) }

// RequestObserver asks for missing capabilities whenever the host reaches
// Started.
type RequestObserver struct {
	checker   Checker
	requester Requester
	names     []string
	logger    *logx.Logger
}

// NewRequestObserver watches the given capabilities.
func NewRequestObserver(checker Checker, requester Requester, logger *logx.Logger, names ...string) *RequestObserver {
	if logger == nil {
		logger = logx.Nop()
	}
	return &RequestObserver{checker: checker, requester: requester, names: names, logger: logger}
}

// OnStateChanged implements lifecycle.Observer.
func (o *RequestObserver) OnStateChanged(s lifecycle.State) {
	if s != lifecycle.Started {
		return
	}
	for _, name := range o.names {
		if o.checker.IsGranted(name) {
			continue
		}
		o.logger.Info("requesting permission", "permission", name)
		o.requester.Request(name)
	}
}
