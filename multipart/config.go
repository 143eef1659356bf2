package multipart

import (
	"time"

	"github.com/bitrise-io/go-scanupload/retry"
)

// DefaultTimeout bounds the whole part upload phase.
const DefaultTimeout = 10 * time.Minute

// DefaultWorkers is 1: the server currently requires the parts of one upload
// to arrive in order. Raise it only for servers accepting parallel parts.
const DefaultWorkers = 1

// Config holds configuration for the multipart engine.
type Config struct {
	// Workers is the maximum number of parts uploaded in parallel.
	// Default: 1
	Workers int

	// RetryAttempts is the number of retries of a part after the initial attempt.
	// Default: 5
	RetryAttempts int

	// RetryInitialInterval is the wait before the first retry of a part.
	// Default: 1 second
	RetryInitialInterval time.Duration

	// Timeout bounds the part upload phase. Zero expires immediately.
	// Default: 10 minutes
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:              DefaultWorkers,
		RetryAttempts:        retry.DefaultMaxAttempts,
		RetryInitialInterval: retry.DefaultInitialInterval,
		Timeout:              DefaultTimeout,
	}
}

func (c Config) policy() retry.Policy {
	return retry.Policy{MaxAttempts: c.RetryAttempts, InitialInterval: c.RetryInitialInterval}
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return DefaultWorkers
	}
	return c.Workers
}
