// Package provider contains location.Provider implementations for hosts
// without a platform location service.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
)

// ReplayConfig configures a Replay provider.
type ReplayConfig struct {
	// Interval between emitted samples.
	Interval time.Duration `json:"interval"`
	// Loop restarts the trace after the last sample.
	Loop bool `json:"loop"`
	// Restamp replaces recorded timestamps with the emit time, so the
	// staleness rules see a live stream.
	Restamp bool `json:"restamp"`
}

// DefaultReplayConfig returns the configuration used by the daemon.
func DefaultReplayConfig() *ReplayConfig {
	return &ReplayConfig{
		Interval: time.Second,
		Loop:     true,
		Restamp:  true,
	}
}

// Replay plays back a recorded trace. Each registered listener gets its
// own goroutine walking the trace; RemoveUpdates cancels it.
type Replay struct {
	config  *ReplayConfig
	samples []location.Sample
	logger  *logx.Logger
	now     func() time.Time

	mu        sync.Mutex
	listeners map[location.Listener]*playback
	last      map[string]location.Sample
	wg        sync.WaitGroup
}

// NewReplay creates a provider over samples, which are emitted in order
// regardless of their provider name.
func NewReplay(samples []location.Sample, config *ReplayConfig, logger *logx.Logger) *Replay {
	if config == nil {
		config = DefaultReplayConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Replay{
		config:    config,
		samples:   samples,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[location.Listener]*playback),
		last:      make(map[string]location.Sample),
	}
}

// RequestUpdates implements location.Provider. Samples recorded under any
// provider name are delivered to every listener; provider only selects the
// last-known cache entry they update.
func (r *Replay) RequestUpdates(provider string, l location.Listener) error {
	if len(r.samples) == 0 {
		return fmt.Errorf("%w: trace is empty", location.ErrProviderUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[l]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{cancel: cancel}
	r.listeners[l] = pb

	r.wg.Add(1)
	go r.play(ctx, pb, provider, l)

	r.logger.Debug("replay listener registered", "provider", provider, "listeners", len(r.listeners))
	return nil
}

// RemoveUpdates implements location.Provider.
func (r *Replay) RemoveUpdates(l location.Listener) error {
	r.mu.Lock()
	pb, ok := r.listeners[l]
	delete(r.listeners, l)
	r.mu.Unlock()

	if !ok {
		return location.ErrUnknownListener
	}
	pb.cancel()
	return nil
}

// LastKnown implements location.Provider.
func (r *Replay) LastKnown(provider string) *location.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.last[provider]
	if !ok {
		return nil
	}
	return &s
}

// Listeners returns the number of registered listeners.
func (r *Replay) Listeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Close cancels every playback and waits for the goroutines to exit.
func (r *Replay) Close() {
	r.mu.Lock()
	for l, pb := range r.listeners {
		pb.cancel()
		delete(r.listeners, l)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// playback is one listener's walk through the trace.
type playback struct {
	cancel context.CancelFunc
}

func (r *Replay) play(ctx context.Context, pb *playback, provider string, l location.Listener) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for i := 0; ; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if i == len(r.samples) {
			if !r.config.Loop {
				r.logger.Debug("replay finished", "provider", provider)
				return
			}
			i = 0
		}
		sample := r.samples[i]
		i++
		if r.config.Restamp {
			sample.Timestamp = r.now().UnixMilli()
		}

		r.mu.Lock()
		current := r.listeners[l] == pb
		if current {
			r.last[provider] = sample
		}
		r.mu.Unlock()

		// removed, and possibly registered again with a newer playback
		if !current || ctx.Err() != nil {
			return
		}
		l.OnLocationChanged(&sample)
	}
}
