// Package metrics provides interfaces and implementations for
// collecting coordinator metrics. The Collector interface records
// events; the Server interface exposes them over HTTP.
package metrics

import "context"

// Collector defines the interface for recording coordinator metrics.
type Collector interface {
	// Connection metrics
	ConnectionOpened()
	ConnectionClosed()

	// Authentication metrics
	AuthAttempt(kind string, success bool)

	// Frame metrics, labelled by the 4-byte tag
	FrameHandled(tag string)

	// Transfer brokerage metrics
	TransferRequested()
	TransferAccepted()
	TransferDenied()
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is
	// canceled or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
