package config

import (
	"fmt"
	"time"
)

// SDKConfig configures the embedded flag delivery client: credentials, the
// flag delivery endpoints, and the synchronization strategy.
type SDKConfig struct {
	Key     string `envconfig:"KEY"`
	BaseURI string `envconfig:"BASE_URI"`
	Filter  string `envconfig:"FILTER"`

	// Offline disables all network synchronization. The daemon then serves
	// only what a configured persistent store already holds.
	Offline bool `envconfig:"OFFLINE" default:"false"`

	// PollingOnly disables the streaming synchronizer.
	PollingOnly  bool          `envconfig:"POLLING_ONLY" default:"false"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`

	// InitTimeout bounds how long startup waits for the first full payload.
	InitTimeout time.Duration `envconfig:"INIT_TIMEOUT" default:"10s" validate:"gt=0"`
}

// Validate performs validation on the SDKConfig.
func (c *SDKConfig) Validate() error {
	if c.Offline {
		return nil
	}

	if err := validateNoWhitespace(c.Key, "sdk key"); err != nil {
		return err
	}

	if c.BaseURI == "" {
		return fmt.Errorf("sdk base URI cannot be empty")
	}
	if _, err := parseAndValidateURL(c.BaseURI, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid sdk base URI: %w", err)
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("sdk poll interval must be at least 1s, got %s", c.PollInterval)
	}

	return nil
}
