package assets

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Concurrency limits for the fetch worker pool. The defaults stay small so
// a provisioning run does not saturate the registry connection or the
// store's disk bandwidth.
const (
	// DefaultConcurrency is the default number of concurrent fetches.
	DefaultConcurrency = 3

	// MaxConcurrency is the maximum allowed concurrent fetches.
	MaxConcurrency = 8

	// DefaultRequestTimeout bounds non-streaming request setup. The body
	// read itself is governed only by the context, since multi-gigabyte
	// transfers have no sensible fixed deadline.
	DefaultRequestTimeout = 30 * time.Second
)

// Option configures a Provisioner.
type Option func(*provisionerConfig)

// provisionerConfig holds configuration for Provisioner construction.
type provisionerConfig struct {
	// httpClient is used for all registry requests.
	httpClient HTTPClient

	// log receives diagnostic messages.
	log zerolog.Logger
}

func newProvisionerConfig() *provisionerConfig {
	return &provisionerConfig{
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
	}
}

// WithHTTPClient sets a custom HTTP client for registry requests.
// Useful for testing with mock servers or customizing timeouts.
// If not set, http.DefaultClient is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *provisionerConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(log zerolog.Logger) Option {
	return func(c *provisionerConfig) {
		c.log = log
	}
}

// ProvisionOption configures a single provisioning run.
type ProvisionOption func(*runConfig)

// runConfig holds configuration for one provisioning run.
type runConfig struct {
	// concurrency is the number of concurrent fetches.
	concurrency int

	// progressFn is called with byte deltas as entries download.
	progressFn ProgressFunc
}

func newRunConfig(defaultConcurrency int) *runConfig {
	c := defaultConcurrency
	if c < 1 {
		c = DefaultConcurrency
	}
	if c > MaxConcurrency {
		c = MaxConcurrency
	}
	return &runConfig{concurrency: c}
}

// ProgressFunc receives download progress. It is called from fetch worker
// goroutines with the destination path and the bytes just read, and must
// be safe for concurrent use.
type ProgressFunc func(dest string, delta int64)

// WithConcurrency sets the number of concurrent fetches for a run.
// Values are clamped to the range [1, MaxConcurrency].
func WithConcurrency(n int) ProvisionOption {
	return func(c *runConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		c.concurrency = n
	}
}

// WithProgress sets a callback for download progress during a run.
func WithProgress(fn ProgressFunc) ProvisionOption {
	return func(c *runConfig) {
		c.progressFn = fn
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}
