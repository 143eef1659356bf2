// Package config resolves the uploader configuration from defaults, a YAML file,
// the environment and explicit overrides.
package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"

	"github.com/bitrise-io/go-scanupload/multipart"
	"github.com/bitrise-io/go-scanupload/retry"
	"github.com/bitrise-io/go-scanupload/transport"
	"github.com/bitrise-io/go-scanupload/validation"
)

// Secret is a value that is never printed.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// GoString keeps the secret out of %#v output.
func (s Secret) GoString() string {
	return s.String()
}

// Config is the resolved uploader configuration.
type Config struct {
	URL      string
	APIToken Secret

	// ChunkSize is the size of one part in bytes.
	ChunkSize int64
	// Timeout bounds one HTTP exchange.
	Timeout   time.Duration
	TrustCert bool

	// MultipartThreshold is the file size from which uploads are split into parts.
	MultipartThreshold   int64
	RetryAttempts        int
	RetryInitialInterval time.Duration
	// MultipartTimeout bounds the part upload phase of one upload.
	MultipartTimeout time.Duration
	Workers          int
}

// Defaults returns the configuration used when no source sets a value.
func Defaults() Config {
	return Config{
		ChunkSize:            validation.DefaultChunkSize,
		Timeout:              transport.DefaultTimeout,
		MultipartThreshold:   validation.DefaultMultipartThreshold,
		RetryAttempts:        retry.DefaultMaxAttempts,
		RetryInitialInterval: retry.DefaultInitialInterval,
		MultipartTimeout:     multipart.DefaultTimeout,
		Workers:              multipart.DefaultWorkers,
	}
}

// Validate reports every missing required property.
func Validate(c Config) error {
	errs := &validation.ValidationError{}
	if c.URL == "" {
		errs.Append(missingProperty("url", EnvURL))
	}
	if c.APIToken == "" {
		errs.Append(missingProperty("api_token", EnvAPIToken))
	}
	return errs.OrNil()
}

func missingProperty(key, envKey string) *validation.UploadError {
	return &validation.UploadError{
		Code:    validation.MissingRequiredPropertyError,
		Message: fmt.Sprintf("Missing required property: %s (%s)", key, envKey),
	}
}

// EngineConfig returns the multipart engine settings.
func (c Config) EngineConfig() multipart.Config {
	return multipart.Config{
		Workers:              c.Workers,
		RetryAttempts:        c.RetryAttempts,
		RetryInitialInterval: c.RetryInitialInterval,
		Timeout:              c.MultipartTimeout,
	}
}

// RetryPolicy returns the retry policy shared by part and chunk uploads.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.RetryAttempts, InitialInterval: c.RetryInitialInterval}
}

// TransportOptions returns the HTTP client settings.
func (c Config) TransportOptions() transport.Options {
	return transport.Options{Timeout: c.Timeout, TrustCert: c.TrustCert}
}

func (c Config) String() string {
	return fmt.Sprintf("url=%s token=%s chunk=%s threshold=%s timeout=%v trustCert=%t retries=%d interval=%v multipartTimeout=%v workers=%d",
		c.URL, c.APIToken, units.BytesSize(float64(c.ChunkSize)), units.BytesSize(float64(c.MultipartThreshold)),
		c.Timeout, c.TrustCert, c.RetryAttempts, c.RetryInitialInterval, c.MultipartTimeout, c.Workers)
}
