// Package adapter defines the lifecycle contract for transports that feed
// requests into the broker.
package adapter

import "context"

// Adapter represents a transport-specific server that can be managed by the
// broker server.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration and
//     the shared executor
//  2. Startup: Serve() starts listening and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active requests to complete (with timeout)
	//   - Clean up resources (listeners, socket files)
	//   - Return nil or context.Canceled
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other components.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout for shutdown operations
	Stop(ctx context.Context) error

	// Protocol returns the human-readable transport name for logging and
	// metrics (e.g. "unix").
	Protocol() string

	// Addr returns the address the adapter listens on (a socket path for
	// unix transports). Empty until Serve has started listening.
	Addr() string
}
