package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(kind string, success bool) {}

// FrameHandled is a no-op.
func (n *NoopCollector) FrameHandled(tag string) {}

// TransferRequested is a no-op.
func (n *NoopCollector) TransferRequested() {}

// TransferAccepted is a no-op.
func (n *NoopCollector) TransferAccepted() {}

// TransferDenied is a no-op.
func (n *NoopCollector) TransferDenied() {}
