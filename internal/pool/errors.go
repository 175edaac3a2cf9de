package pool

import "errors"

var (
	// ErrResourceNotFound is returned when no pooled resource can serve a request.
	ErrResourceNotFound = errors.New("no pooled resource available")

	// ErrResourceDepleted is returned when a settlement arrives for a resource
	// whose quota was already used up. Callers should re-route.
	ErrResourceDepleted = errors.New("pooled resource is depleted")

	// ErrInvalidTransition is returned for lifecycle moves a resource cannot make.
	ErrInvalidTransition = errors.New("invalid resource status transition")

	ErrInvalidRequest = errors.New("invalid pool request")
)
