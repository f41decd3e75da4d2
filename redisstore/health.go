package redisstore

import (
	"context"
	"fmt"
)

// HealthChecker reports Redis connectivity for readiness probes.
type HealthChecker struct {
	store *DataStore
}

// NewHealthChecker creates a health checker backed by the store's connection.
func NewHealthChecker(store *DataStore) *HealthChecker {
	return &HealthChecker{store: store}
}

// Name returns the component name.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check verifies the Redis connection using Ping.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.store == nil {
		return fmt.Errorf("redis store is nil")
	}
	return h.store.client.Ping(ctx).Err()
}
