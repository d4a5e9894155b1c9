package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/api"
	"github.com/markus-lassfolk/livedatabus/pkg/config"
	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/metrics"
	"github.com/markus-lassfolk/livedatabus/pkg/mqtt"
	"github.com/markus-lassfolk/livedatabus/pkg/permission"
	"github.com/markus-lassfolk/livedatabus/pkg/places"
	"github.com/markus-lassfolk/livedatabus/pkg/provider"
)

// app is the composed daemon. Everything that touches the buses runs on
// the looper goroutine.
type app struct {
	cfg    *config.Config
	logger *logx.Logger

	metrics     *metrics.Metrics
	looper      *livedata.Looper
	host        *lifecycle.Registry
	permissions *permission.Table
	replay      *provider.Replay
	permGate    *permission.Gate
	hostGate    *lifecycle.Gate

	locations *livedata.Bus[location.Sample]
	accepted  *livedata.Mediator[location.Sample]
	formatted *livedata.Mediator[string]
	found     *livedata.Mediator[places.Place]

	publisher *mqtt.Publisher
	server    *api.Server
	closers   []func() error
}

func newApp(cfg *config.Config, samples []location.Sample, autoGrant bool, logger *logx.Logger) (*app, error) {
	a := &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics.New(),
		looper:      livedata.NewLooper(logger.Named("looper")),
		host:        lifecycle.NewRegistry(logger.Named("lifecycle")),
		permissions: permission.NewTable(),
	}
	if cfg.Permission == config.PermissionGranted {
		a.permissions.Grant(permission.AccessFineLocation)
	}

	a.replay = provider.NewReplay(samples, cfg.ReplayProviderConfig(), logger.Named("replay"))
	a.closers = append(a.closers, func() error { a.replay.Close(); return nil })

	a.locations = livedata.NewBus[location.Sample](
		livedata.WithName("location"),
		livedata.WithExecutor(a.looper),
		livedata.WithLogger(logger),
		livedata.WithMetrics(a.metrics),
	)
	src := location.NewSource(a.replay, a.locations.Post, &location.SourceConfig{
		Provider:  cfg.Provider,
		Lifecycle: a.host,
		Metrics:   a.metrics,
	}, logger.Named("source"))
	a.permGate = permission.NewGate(src, a.permissions, permission.AccessFineLocation, logger.Named("permission"), a.metrics)
	if cfg.Activation == config.ActivationLifecycle {
		a.hostGate = lifecycle.NewGate(a.permGate, logger.Named("lifecycle"))
		a.hostGate.Bind(a.host)
	} else {
		a.locations.SetActivator(a.permGate)
	}

	a.accepted = livedata.Filter[location.Sample](a.locations, location.IsBetter, cfg.FilterModeValue(),
		livedata.WithName("better_location"),
		livedata.WithLogger(logger),
		livedata.WithMetrics(a.metrics),
	)
	a.formatted = location.Format(a.accepted, livedata.WithMetrics(a.metrics))

	repo, err := a.placesRepository()
	if err != nil {
		a.close()
		return nil, err
	}
	if repo != nil {
		a.found = places.FindPlaces(repo, a.accepted, livedata.WithMetrics(a.metrics))
	}

	a.publisher = mqtt.NewPublisher(cfg.MQTTPublisherConfig(), logger.Named("mqtt"))

	sources := api.Sources{
		Location:   a.accepted,
		Formatted:  a.formatted,
		Host:       a.host,
		Permission: a.permGate.Granted,
		Metrics:    a.metrics.Handler(),
	}
	if a.found != nil {
		sources.Places = a.found
	}
	a.server = api.NewServer(cfg.APIServerConfig(), sources, logger.Named("api"))

	a.observe()
	a.host.AddObserver(permission.NewRequestObserver(a.permissions, permission.RequesterFunc(func(name string) {
		a.request(name, autoGrant)
	}), logger, permission.AccessFineLocation))

	return a, nil
}

func (a *app) placesRepository() (places.Repository, error) {
	switch a.cfg.Places.Backend {
	case config.PlacesOff:
		return nil, nil
	case config.PlacesSQLite:
		repo, err := places.NewSQLiteRepository(a.cfg.SQLitePlacesConfig(a.looper), a.logger.Named("places"))
		if err != nil {
			return nil, fmt.Errorf("failed to open places database: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case config.PlacesGeocode:
		repo, err := places.NewGeocodeRepository(a.cfg.GeocodePlacesConfig(a.looper), a.logger.Named("places"))
		if err != nil {
			return nil, fmt.Errorf("failed to create geocoder: %w", err)
		}
		return repo, nil
	default:
		return &places.Simulated{Executor: a.looper}, nil
	}
}

// observe attaches the outputs to the host lifecycle: they only receive
// values, and only keep the provider registered, while the host is active.
func (a *app) observe() {
	a.formatted.Observe(a.host, func(s string) {
		a.logger.Info("location", "location", s)
		if err := a.publisher.PublishLocation(s); err != nil {
			a.logger.Warn("failed to publish location", "error", err)
		}
	})
	a.accepted.Observe(a.host, func(s location.Sample) {
		a.logger.LogDataFlow("accepted", "sample", s.Provider, 1, map[string]interface{}{
			"accuracy": s.Accuracy,
			"time":     s.Time().UTC().Format(time.RFC3339),
		})
		if err := a.publisher.PublishSample(s); err != nil {
			a.logger.Warn("failed to publish sample", "error", err)
		}
	})
	if a.found == nil {
		return
	}
	a.found.Observe(a.host, func(p places.Place) {
		a.logger.Info("place found", "name", p.Name, "distance_m", p.Distance)
		if err := a.publisher.PublishPlace(p); err != nil {
			a.logger.Warn("failed to publish place", "error", err)
		}
	})
}

// request answers a permission prompt. The answer arrives on a later
// looper turn, like a user dialog result would.
func (a *app) request(name string, autoGrant bool) {
	switch {
	case a.cfg.Permission == config.PermissionDenied:
		a.logger.Warn("permission refused by configuration", "permission", name)
	case autoGrant:
		a.looper.Execute(func() { a.grant(name) })
	default:
		a.logger.Warn("permission required, send SIGHUP or restart with -grant", "permission", name)
	}
}

// grant records the permission and retries the start that was suppressed
// while it was missing.
func (a *app) grant(name string) {
	if a.permissions.IsGranted(name) {
		return
	}
	a.permissions.Grant(name)
	a.logger.Info("permission granted", "permission", name)
	if a.producerWanted() {
		a.permGate.Start()
	}
}

// producerWanted reports whether whatever drives the provider currently
// asks for it to run.
func (a *app) producerWanted() bool {
	if a.hostGate != nil {
		return a.hostGate.Running()
	}
	return a.locations.HasActiveObservers()
}

// transition schedules a host state change on the looper.
func (a *app) transition(s lifecycle.State) {
	a.looper.Execute(func() { a.host.MarkState(s) })
}

func (a *app) run(ctx context.Context) error {
	if err := a.publisher.Connect(); err != nil {
		a.logger.Warn("MQTT unavailable, publishing disabled", "error", err)
		a.publisher = nil
	}
	if err := a.server.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	a.transition(lifecycle.Created)
	a.transition(lifecycle.Started)
	a.transition(lifecycle.Resumed)

	err := a.looper.Run(ctx)

	// Destroyed releases every subscription and with them the provider
	a.host.MarkState(lifecycle.Destroyed)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := a.server.Stop(shutdownCtx); stopErr != nil {
		a.logger.Warn("API server shutdown failed", "error", stopErr)
	}
	a.publisher.Disconnect()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
