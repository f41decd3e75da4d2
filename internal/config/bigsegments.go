package config

import "time"

// BigSegmentsConfig configures big segment membership lookups. It only takes
// effect when Redis is configured, since the membership data lives in the
// persistent store.
type BigSegmentsConfig struct {
	Enabled             bool          `envconfig:"ENABLED" default:"false"`
	MembershipCacheSize int           `envconfig:"MEMBERSHIP_CACHE_SIZE" default:"1000" validate:"min=1"`
	MembershipCacheTTL  time.Duration `envconfig:"MEMBERSHIP_CACHE_TTL" default:"5s" validate:"gt=0"`
	StatusPollInterval  time.Duration `envconfig:"STATUS_POLL_INTERVAL" default:"5s" validate:"gt=0"`
	StaleAfter          time.Duration `envconfig:"STALE_AFTER" default:"2m" validate:"gt=0"`
}
