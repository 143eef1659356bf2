// Package retry decides whether a failed upload request is attempted again and how long to wait first.
package retry

import (
	"net/http"
	"time"
)

// DefaultMaxAttempts is the number of retries after the initial attempt.
const DefaultMaxAttempts = 5

// DefaultInitialInterval is the wait before the first retry.
const DefaultInitialInterval = 1000 * time.Millisecond

var retryableStatusCodes = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
	http.StatusRequestTimeout:     true,
	http.StatusTooManyRequests:    true,
}

// IsRetryableStatus reports whether a response with this status code may be retried.
func IsRetryableStatus(code int) bool {
	return retryableStatusCodes[code]
}

// RetryableStatusCodes returns the fixed set of retryable status codes.
func RetryableStatusCodes() []int {
	return []int{
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
	}
}

// Outcome classifies the result of one attempt.
type Outcome int

const (
	// Success means the attempt was accepted.
	Success Outcome = iota
	// RetryableFailure means the server answered with a retryable status.
	RetryableFailure
	// FatalFailure covers any other status and every transport error.
	FatalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable failure"
	case FatalFailure:
		return "fatal failure"
	default:
		return "unknown"
	}
}

// Classify maps a finished HTTP exchange to an Outcome.
func Classify(statusCode int, err error) Outcome {
	switch {
	case err != nil:
		return FatalFailure
	case statusCode >= 200 && statusCode < 300:
		return Success
	case IsRetryableStatus(statusCode):
		return RetryableFailure
	default:
		return FatalFailure
	}
}

// Decision is the result of Policy.Decide.
type Decision struct {
	Retry bool
	// Delay is the wait before the next attempt, only meaningful when Retry is true.
	Delay time.Duration
}

// GiveUp ...
var GiveUp = Decision{}

// Policy is a doubling backoff without cap or jitter.
type Policy struct {
	// MaxAttempts is the number of retries after the initial attempt,
	// so at most MaxAttempts+1 requests are sent.
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultPolicy ...
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, InitialInterval: DefaultInitialInterval}
}

// Decide is called after attempt number `attempt` (1 based) finished with outcome.
// The first retry waits InitialInterval, each later retry waits twice the previous delay.
func (p Policy) Decide(attempt int, outcome Outcome) Decision {
	if outcome != RetryableFailure {
		return GiveUp
	}
	if attempt < 1 || attempt > p.MaxAttempts {
		return GiveUp
	}
	return Decision{Retry: true, Delay: p.delay(attempt)}
}

func (p Policy) delay(attempt int) time.Duration {
	if p.InitialInterval <= 0 {
		return 0
	}
	d := p.InitialInterval
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
