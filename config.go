package godelta

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/table"
)

// Config holds the options of one ScanDelta or LoadTable call.
type Config struct {
	// Version pins the table version; nil reads the latest.
	Version *int64

	// Retry configuration. Retries counts attempts after the first one.
	Retries         int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// StorageOptions configure the storage backend, for example aws_region
	// or azure_storage_account_name.
	StorageOptions map[string]string

	// Scan configuration
	LowMemory     bool
	UseStatistics bool
	Concurrency   int
	BatchSize     int64
	Unordered     bool

	// FileIO replaces the backend chosen from the table URI.
	FileIO io.FileIO

	Logger            *slog.Logger
	MetricsRegisterer prometheus.Registerer
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Retries:         io.DefaultRetries,
		RetryBackoff:    io.DefaultRetryBackoff,
		MaxRetryBackoff: io.DefaultMaxRetryBackoff,
		UseStatistics:   true,
		Concurrency:     runtime.GOMAXPROCS(0),
		BatchSize:       table.DefaultBatchSize,
	}
}

// Option is a functional option for scan configuration.
type Option func(*Config)

// WithVersion reads the table as of version v.
func WithVersion(v int64) Option {
	return func(c *Config) {
		c.Version = &v
	}
}

// WithRetries sets the number of retries of a failed storage operation.
func WithRetries(n int) Option {
	return func(c *Config) {
		c.Retries = n
	}
}

// WithRetryBackoff sets the delay before the first retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.RetryBackoff = d
	}
}

// WithMaxRetryBackoff caps the delay between retries.
func WithMaxRetryBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.MaxRetryBackoff = d
	}
}

// WithStorageOptions sets the backend options. Keys follow the object_store
// spelling; unknown keys are ignored.
func WithStorageOptions(opts map[string]string) Option {
	return func(c *Config) {
		c.StorageOptions = opts
	}
}

// WithLowMemory caps concurrency and batch size and keeps a single decoded
// batch per task in flight.
func WithLowMemory(enabled bool) Option {
	return func(c *Config) {
		c.LowMemory = enabled
	}
}

// WithUseStatistics toggles file and row-group pruning by statistics.
func WithUseStatistics(enabled bool) Option {
	return func(c *Config) {
		c.UseStatistics = enabled
	}
}

// WithConcurrency sets the number of files read at once.
func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithBatchSize sets the maximum rows per batch.
func WithBatchSize(n int64) Option {
	return func(c *Config) {
		c.BatchSize = n
	}
}

// WithUnorderedOutput yields batches as they are decoded instead of in file
// order.
func WithUnorderedOutput() Option {
	return func(c *Config) {
		c.Unordered = true
	}
}

// WithFileIO sets the storage backend directly.
func WithFileIO(fio io.FileIO) Option {
	return func(c *Config) {
		c.FileIO = fio
	}
}

// WithLogger sets the logger. Records carry the table location and a scan
// id.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetricsRegisterer registers the scan metrics with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) {
		c.MetricsRegisterer = r
	}
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	switch {
	case config.Version != nil && *config.Version < 0:
		return fmt.Errorf("%w: version must not be negative", ErrInvalidConfig)
	case config.Retries < 0:
		return fmt.Errorf("%w: retries must not be negative", ErrInvalidConfig)
	case config.RetryBackoff < 0 || config.MaxRetryBackoff < 0:
		return fmt.Errorf("%w: retry backoff must not be negative", ErrInvalidConfig)
	case config.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case config.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	return nil
}
