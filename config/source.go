package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	envparse "github.com/caarlos0/env/v11"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadFromEnv.
const (
	EnvURL                  = "BLACKDUCK_URL"
	EnvAPIToken             = "BLACKDUCK_API_TOKEN"
	EnvChunkSize            = "BLACKDUCK_UPLOAD_CHUNK_SIZE"
	EnvTimeoutSeconds       = "BLACKDUCK_TIMEOUT_SECONDS"
	EnvTrustCert            = "BLACKDUCK_TRUST_CERT"
	EnvMultipartThreshold   = "BLACKDUCK_MULTIPART_UPLOAD_THRESHOLD"
	EnvRetryAttempts        = "BLACKDUCK_MULTIPART_UPLOAD_PART_RETRY_ATTEMPTS"
	EnvRetryInitialInterval = "BLACKDUCK_MULTIPART_UPLOAD_PART_RETRY_INITIAL_INTERVAL"
	EnvTimeoutMinutes       = "BLACKDUCK_MULTIPART_UPLOAD_TIMEOUT_MINUTES"
	EnvWorkers              = "BLACKDUCK_MULTIPART_UPLOAD_WORKERS"
)

// Size is a byte count accepting human readable values such as "25MB".
// Units are binary, 1MB is 1024*1024 bytes.
type Size int64

// UnmarshalText ...
func (s *Size) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", string(text), err)
	}
	*s = Size(n)
	return nil
}

// UnmarshalYAML ...
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	return s.UnmarshalText([]byte(value.Value))
}

// Values is one configuration source. Nil fields are left to the sources below it.
type Values struct {
	URL                    *string `yaml:"url" env:"BLACKDUCK_URL"`
	APIToken               *Secret `yaml:"api_token" env:"BLACKDUCK_API_TOKEN"`
	ChunkSize              *Size   `yaml:"chunk_size" env:"BLACKDUCK_UPLOAD_CHUNK_SIZE"`
	TimeoutSeconds         *int    `yaml:"timeout_seconds" env:"BLACKDUCK_TIMEOUT_SECONDS"`
	TrustCert              *bool   `yaml:"trust_cert" env:"BLACKDUCK_TRUST_CERT"`
	MultipartThreshold     *Size   `yaml:"multipart_upload_threshold" env:"BLACKDUCK_MULTIPART_UPLOAD_THRESHOLD"`
	RetryAttempts          *int    `yaml:"part_retry_attempts" env:"BLACKDUCK_MULTIPART_UPLOAD_PART_RETRY_ATTEMPTS"`
	RetryInitialIntervalMs *int64  `yaml:"part_retry_initial_interval_ms" env:"BLACKDUCK_MULTIPART_UPLOAD_PART_RETRY_INITIAL_INTERVAL"`
	TimeoutMinutes         *int    `yaml:"multipart_upload_timeout_minutes" env:"BLACKDUCK_MULTIPART_UPLOAD_TIMEOUT_MINUTES"`
	Workers                *int    `yaml:"multipart_upload_workers" env:"BLACKDUCK_MULTIPART_UPLOAD_WORKERS"`
}

// LoadFile reads the values set in the YAML file at pth.
func LoadFile(pth string) (Values, error) {
	data, err := os.ReadFile(pth)
	if err != nil {
		return Values{}, fmt.Errorf("read config file: %w", err)
	}

	var v Values
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Values{}, fmt.Errorf("parse config file: %w", err)
	}
	return v, nil
}

// LoadFromEnv reads the values set in envRepo.
func LoadFromEnv(envRepo env.Repository) (Values, error) {
	environment := map[string]string{}
	for _, kv := range envRepo.List() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		environment[key] = value
	}

	var v Values
	if err := envparse.ParseWithOptions(&v, envparse.Options{Environment: environment}); err != nil {
		return Values{}, fmt.Errorf("parse environment: %w", err)
	}
	return v, nil
}

// Resolve merges the sources over defaults. Precedence: explicit > env > file > defaults.
func Resolve(defaults Config, file, environment, explicit Values) Config {
	c := defaults
	for _, v := range []Values{file, environment, explicit} {
		c = v.apply(c)
	}
	return c
}

func (v Values) apply(c Config) Config {
	if v.URL != nil {
		c.URL = *v.URL
	}
	if v.APIToken != nil {
		c.APIToken = *v.APIToken
	}
	if v.ChunkSize != nil {
		c.ChunkSize = int64(*v.ChunkSize)
	}
	if v.TimeoutSeconds != nil {
		c.Timeout = time.Duration(*v.TimeoutSeconds) * time.Second
	}
	if v.TrustCert != nil {
		c.TrustCert = *v.TrustCert
	}
	if v.MultipartThreshold != nil {
		c.MultipartThreshold = int64(*v.MultipartThreshold)
	}
	if v.RetryAttempts != nil {
		c.RetryAttempts = *v.RetryAttempts
	}
	if v.RetryInitialIntervalMs != nil {
		c.RetryInitialInterval = time.Duration(*v.RetryInitialIntervalMs) * time.Millisecond
	}
	if v.TimeoutMinutes != nil {
		c.MultipartTimeout = time.Duration(*v.TimeoutMinutes) * time.Minute
	}
	if v.Workers != nil {
		c.Workers = *v.Workers
	}
	return c
}
