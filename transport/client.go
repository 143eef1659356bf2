// Package transport is the narrow HTTP contract the upload engine talks through.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTimeout is the per request timeout of the default client.
const DefaultTimeout = 120 * time.Second

// Doer executes one HTTP request. *retryablehttp.Client satisfies it.
type Doer interface {
	Do(req *retryablehttp.Request) (*http.Response, error)
}

// Options configures NewClient.
type Options struct {
	Timeout time.Duration
	// TrustCert disables TLS certificate verification.
	TrustCert bool
}

// NewClient builds a retryable client with transport level retries disabled.
// Retry decisions belong to the caller, which knows the upload protocol.
func NewClient(logger log.Logger, opts Options) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	client.CheckRetry = createNoRetryFunction(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client.HTTPClient.Timeout = timeout

	if opts.TrustCert {
		if t, ok := client.HTTPClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		} else {
			logger.Warnf("Unable to disable certificate verification on transport %T", client.HTTPClient.Transport)
		}
	}

	return client
}

func createNoRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, doErr error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		code := -1
		if resp != nil {
			code = resp.StatusCode
		}
		logger.Debugf("CheckRetry: status=%d ; doErr=%+v", code, doErr)
		return false, nil
	}
}

type bearerDoer struct {
	next  Doer
	token string
}

// WithBearerToken decorates next with an Authorization header.
func WithBearerToken(next Doer, token string) Doer {
	if token == "" {
		return next
	}
	return bearerDoer{next: next, token: token}
}

func (d bearerDoer) Do(req *retryablehttp.Request) (*http.Response, error) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", d.token))
	return d.next.Do(req)
}
