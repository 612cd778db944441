package realtime

import "errors"

var (
	// ErrSubscriptionLimit is returned when a connection exceeds its
	// subscription allowance.
	ErrSubscriptionLimit = errors.New("subscription limit reached")

	// ErrConnectionLimit is returned when the hub is at capacity.
	ErrConnectionLimit = errors.New("connection limit reached")
)
