package observability

import "context"

// Checker reports the health of one dependency on the readiness endpoint.
// Implementations must be safe for concurrent use and must honor the context
// deadline so a slow dependency cannot stall the probe response.
type Checker interface {
	// Name identifies the component in the readiness payload (e.g. "redis",
	// "client").
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}
