package location

import (
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/metrics"
)

// SourceConfig configures a Source.
type SourceConfig struct {
	// Provider is the provider name to request updates from.
	Provider string `json:"provider"`

	// Lifecycle, when set, suppresses delivery while the host is below
	// Started even if the source is still registered.
	Lifecycle lifecycle.Lifecycle `json:"-"`

	Metrics *metrics.Metrics `json:"-"`
}

// DefaultSourceConfig returns the configuration used by the daemon.
func DefaultSourceConfig() *SourceConfig {
	return &SourceConfig{Provider: NetworkProvider}
}

// Source owns a provider registration and turns it into a start/stop
// service. While running it delivers the last known fix followed by live
// fixes to its callback.
//
// Every Start registers a fresh listener, so a fix a provider hands to an
// earlier registration after Stop is dropped even if the source has been
// started again since.
type Source struct {
	config   *SourceConfig
	provider Provider
	callback func(Sample)
	logger   *logx.Logger

	mu      sync.Mutex
	current *registration
}

// registration is the Listener for one Start/Stop cycle.
type registration struct {
	source *Source
}

func (r *registration) OnLocationChanged(sample *Sample) {
	r.source.notify(r, sample)
}

// NewSource creates a stopped source. callback may be called from the
// provider's goroutine.
func NewSource(provider Provider, callback func(Sample), config *SourceConfig, logger *logx.Logger) *Source {
	if config == nil {
		config = DefaultSourceConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Source{
		config:   config,
		provider: provider,
		callback: callback,
		logger:   logger,
	}
}

// Start registers with the provider and emits the last known fix. It does
// nothing if already running. A provider that refuses the registration
// leaves the source stopped and silent.
func (s *Source) Start() {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return
	}
	reg := &registration{source: s}
	if err := s.provider.RequestUpdates(s.config.Provider, reg); err != nil {
		s.mu.Unlock()
		s.config.Metrics.ProviderFailed(s.config.Provider)
		s.logger.Warn("location provider registration failed", "provider", s.config.Provider, "error", err)
		return
	}
	s.current = reg
	s.mu.Unlock()

	s.config.Metrics.ProviderRegistered(s.config.Provider)
	s.logger.Info("location updates requested", "provider", s.config.Provider)

	s.notify(reg, s.provider.LastKnown(s.config.Provider))
}

// Stop removes the provider registration. It does nothing if not running.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.current
	if reg == nil {
		return
	}
	s.current = nil

	if err := s.provider.RemoveUpdates(reg); err != nil {
		s.logger.Warn("failed to remove location updates", "provider", s.config.Provider, "error", err)
		return
	}
	s.config.Metrics.ProviderRemoved(s.config.Provider)
	s.logger.Info("location updates removed", "provider", s.config.Provider)
}

// IsRunning reports whether the source holds a provider registration.
func (s *Source) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Source) notify(reg *registration, sample *Sample) {
	if sample == nil {
		s.config.Metrics.SampleDropped(s.config.Provider, "nil_sample")
		return
	}
	s.mu.Lock()
	current := s.current == reg
	s.mu.Unlock()
	if !current {
		s.config.Metrics.SampleDropped(s.config.Provider, "not_running")
		return
	}
	if l := s.config.Lifecycle; l != nil && !l.CurrentState().Active() {
		s.config.Metrics.SampleDropped(s.config.Provider, "host_inactive")
		s.logger.Debug("dropping sample while host inactive", "state", l.CurrentState().String())
		return
	}
	if s.callback != nil {
		s.callback(*sample)
	}
}
