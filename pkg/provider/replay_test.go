package provider

import (
	"sync"
	"testing"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	samples []location.Sample
}

func (c *collector) OnLocationChanged(s *location.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, *s)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func (c *collector) get() []location.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]location.Sample(nil), c.samples...)
}

func testTrace() []location.Sample {
	return []location.Sample{
		{Timestamp: 1000, Latitude: 1, Longitude: 1, Accuracy: 10, Provider: location.GPSProvider},
		{Timestamp: 2000, Latitude: 2, Longitude: 2, Accuracy: 10, Provider: location.GPSProvider},
		{Timestamp: 3000, Latitude: 3, Longitude: 3, Accuracy: 10, Provider: location.GPSProvider},
	}
}

func TestReplayEmitsTraceInOrder(t *testing.T) {
	replay := NewReplay(testTrace(), &ReplayConfig{Interval: time.Millisecond}, nil)
	defer replay.Close()
	c := &collector{}

	require.NoError(t, replay.RequestUpdates(location.GPSProvider, c))
	require.Eventually(t, func() bool { return c.len() == 3 }, 2*time.Second, time.Millisecond)

	got := c.get()
	assert.Equal(t, []int64{1000, 2000, 3000}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})

	last := replay.LastKnown(location.GPSProvider)
	require.NotNil(t, last)
	assert.Equal(t, 3.0, last.Latitude)
	assert.Nil(t, replay.LastKnown(location.NetworkProvider))
}

func TestReplayLoopsAndRestamps(t *testing.T) {
	replay := NewReplay(testTrace(), &ReplayConfig{Interval: time.Millisecond, Loop: true, Restamp: true}, nil)
	defer replay.Close()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	replay.now = func() time.Time { return fixed }
	c := &collector{}

	require.NoError(t, replay.RequestUpdates(location.GPSProvider, c))
	require.Eventually(t, func() bool { return c.len() >= 5 }, 2*time.Second, time.Millisecond)
	require.NoError(t, replay.RemoveUpdates(c))

	got := c.get()
	assert.Equal(t, 1.0, got[3].Latitude, "trace restarts after the last sample")
	assert.Equal(t, fixed.UnixMilli(), got[0].Timestamp)
}

func TestReplayRemoveUpdates(t *testing.T) {
	replay := NewReplay(testTrace(), &ReplayConfig{Interval: time.Millisecond, Loop: true}, nil)
	defer replay.Close()
	c := &collector{}

	require.NoError(t, replay.RequestUpdates(location.GPSProvider, c))
	require.NoError(t, replay.RequestUpdates(location.GPSProvider, c))
	assert.Equal(t, 1, replay.Listeners())

	require.NoError(t, replay.RemoveUpdates(c))
	assert.Zero(t, replay.Listeners())
	assert.ErrorIs(t, replay.RemoveUpdates(c), location.ErrUnknownListener)
}

func TestReplayEmptyTraceIsUnavailable(t *testing.T) {
	replay := NewReplay(nil, nil, nil)

	err := replay.RequestUpdates(location.GPSProvider, &collector{})
	assert.ErrorIs(t, err, location.ErrProviderUnavailable)
}

func TestReplayDrivesSource(t *testing.T) {
	replay := NewReplay(testTrace(), &ReplayConfig{Interval: time.Millisecond}, nil)
	defer replay.Close()

	got := make(chan location.Sample, 8)
	src := location.NewSource(replay, func(s location.Sample) { got <- s },
		&location.SourceConfig{Provider: location.GPSProvider}, nil)

	src.Start()
	select {
	case s := <-got:
		assert.Equal(t, int64(1000), s.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no sample from replay")
	}
	src.Stop()
	assert.Zero(t, replay.Listeners())
}

func TestReplaySupersededPlaybackStaysSilent(t *testing.T) {
	replay := NewReplay(testTrace(), &ReplayConfig{Interval: time.Millisecond, Restamp: true}, nil)
	defer replay.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	replay.now = func() time.Time {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		return time.UnixMilli(5000)
	}
	c := &collector{}

	require.NoError(t, replay.RequestUpdates(location.GPSProvider, c))
	<-entered
	require.NoError(t, replay.RemoveUpdates(c))
	require.NoError(t, replay.RequestUpdates(location.GPSProvider, c))
	close(release)

	require.Eventually(t, func() bool { return c.len() == 3 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, c.len(), "only the current playback delivers")
}
