package gateway

import "context"

// Gateway is a long-running front end of the planning service.
type Gateway interface {
	// Start serves until Stop is called
	Start() error
	// Stop gracefully shuts down the gateway
	Stop(ctx context.Context) error
}
