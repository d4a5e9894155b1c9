// Package places resolves location samples into nearby named places. Each
// lookup yields an observable that receives the places as they are found,
// so FindPlaces can switch to the newest lookup whenever the location moves.
package places

import (
	"context"
	"strconv"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
)

// Place is a named point of interest near a sample.
type Place struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	// Location is where the place is; Timestamp and Provider are taken
	// from the sample that found it.
	Location location.Sample `json:"location"`
	// Distance from the sample in meters.
	Distance float64 `json:"distance_m"`
}

// Repository finds places for a sample.
type Repository interface {
	Find(s location.Sample) livedata.Observable[Place]
}

// LookupFunc resolves places synchronously.
type LookupFunc func(ctx context.Context, s location.Sample) ([]Place, error)

// FindPlaces emits the places of the latest sample of src. A new sample
// drops the lookup of the previous one.
func FindPlaces(repo Repository, src livedata.Observable[location.Sample], opts ...livedata.Option) *livedata.Mediator[Place] {
	opts = append([]livedata.Option{livedata.WithName("places")}, opts...)
	return livedata.SwitchMap[location.Sample, Place](src, repo.Find, opts...)
}

// lookupAsync runs lookup on its own goroutine and posts every place it
// returns onto a fresh bus.
func lookupAsync(lookup LookupFunc, s location.Sample, timeout time.Duration, executor livedata.Executor, logger *logx.Logger, name string) livedata.Observable[Place] {
	bus := livedata.NewBus[Place](livedata.WithName(name), livedata.WithExecutor(executor), livedata.WithLogger(logger))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		found, err := lookup(ctx, s)
		if err != nil {
			logger.Warn("place lookup failed", "repository", name, "location", s.String(), "error", err)
			return
		}
		logger.Debug("place lookup finished", "repository", name, "location", s.String(), "count", len(found))
		for _, p := range found {
			bus.Post(p)
		}
	}()

	return bus
}

// Simulated returns count made-up places at the sample itself. It needs no
// backing store.
type Simulated struct {
	Count    int
	Executor livedata.Executor
}

// Find implements Repository. The places are posted before Find returns.
func (r *Simulated) Find(s location.Sample) livedata.Observable[Place] {
	bus := livedata.NewBus[Place](livedata.WithName("simulated_places"), livedata.WithExecutor(r.Executor))
	count := r.Count
	if count <= 0 {
		count = 3
	}
	for i := 1; i <= count; i++ {
		bus.Post(Place{Name: "Place " + strconv.Itoa(i), Location: s})
	}
	return bus
}
