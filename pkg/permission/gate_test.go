package permission

import (
	"testing"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
)

type countingService struct {
	starts int
	stops  int
}

func (c *countingService) Start() { c.starts++ }
func (c *countingService) Stop()  { c.stops++ }

func TestGateSuppressesStartWithoutPermission(t *testing.T) {
	svc := &countingService{}
	gate := NewGate(svc, NewTable(), AccessFineLocation, nil, nil)

	gate.Start()

	assert.Zero(t, svc.starts)
	assert.False(t, gate.Granted())
}

func TestGateForwardsStartWithPermission(t *testing.T) {
	svc := &countingService{}
	gate := NewGate(svc, NewTable(AccessFineLocation), AccessFineLocation, nil, nil)

	gate.Start()

	assert.Equal(t, 1, svc.starts)
}

func TestGateChecksOnEveryCall(t *testing.T) {
	table := NewTable()
	svc := &countingService{}
	gate := NewGate(svc, table, AccessFineLocation, nil, nil)

	gate.Start()
	table.Grant(AccessFineLocation)
	gate.Start()

	assert.Equal(t, 1, svc.starts)
}

func TestGateStopReleasesAfterRevoke(t *testing.T) {
	table := NewTable(AccessFineLocation)
	svc := &countingService{}
	gate := NewGate(svc, table, AccessFineLocation, nil, nil)

	gate.Start()
	table.Revoke(AccessFineLocation)
	gate.Stop()

	assert.Equal(t, 1, svc.starts)
	assert.Equal(t, 1, svc.stops, "stop must reach the service even after revoke")
}

func TestCheckerFunc(t *testing.T) {
	checker := CheckerFunc(func(name string) bool { return name == "camera" })
	assert.True(t, checker.IsGranted("camera"))
	assert.False(t, checker.IsGranted(AccessFineLocation))
}

func TestRequestObserverAsksForMissingPermissions(t *testing.T) {
	table := NewTable("camera")
	var requested []string
	obs := NewRequestObserver(table, RequesterFunc(func(name string) {
		requested = append(requested, name)
	}), nil, AccessFineLocation, "camera")

	registry := lifecycle.NewRegistry(nil)
	registry.AddObserver(obs)
	registry.MarkState(lifecycle.Created)
	registry.MarkState(lifecycle.Started)
	registry.MarkState(lifecycle.Resumed)

	assert.Equal(t, []string{AccessFineLocation}, requested)
}
