package location

import "errors"

var (
	// ErrProviderUnavailable is returned by providers that cannot deliver
	// updates at all, e.g. a disabled or missing provider.
	ErrProviderUnavailable = errors.New("location provider unavailable")

	// ErrUnknownListener is returned when removing a listener that was
	// never registered.
	ErrUnknownListener = errors.New("listener not registered")
)

// Listener receives fixes pushed by a provider. Providers may call it from
// their own goroutine.
type Listener interface {
	OnLocationChanged(*Sample)
}

// Provider is the platform location service.
type Provider interface {
	// RequestUpdates registers l for fixes from the named provider. It must
	// not call l before returning.
	RequestUpdates(provider string, l Listener) error
	// RemoveUpdates unregisters l.
	RemoveUpdates(l Listener) error
	// LastKnown returns the most recent cached fix, or nil.
	LastKnown(provider string) *Sample
}
