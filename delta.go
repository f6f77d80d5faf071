package godelta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BrobridgeOrg/go-delta/deltalog"
	"github.com/BrobridgeOrg/go-delta/internal/logging"
	"github.com/BrobridgeOrg/go-delta/internal/metrics"
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/table"
)

// ScanDelta resolves the Delta table at uri and returns a lazy scan of it.
// Nothing beyond the transaction log is read until the scan is consumed.
//
// The uri is a local path, a file:// URI, or an s3://, s3a://, az://,
// azure://, abfs:// or abfss:// location.
func ScanDelta(ctx context.Context, uri string, opts ...Option) (*table.Scan, error) {
	r, err := resolve(ctx, uri, opts)
	if err != nil {
		return nil, err
	}

	scanOpts := table.ScanOptions{
		Retry:         r.policy,
		UseStatistics: r.config.UseStatistics,
		LowMemory:     r.config.LowMemory,
		Concurrency:   r.config.Concurrency,
		BatchSize:     r.config.BatchSize,
		Unordered:     r.config.Unordered,
		Logger:        r.logger,
		Metrics:       r.metrics,
	}
	return table.NewScan(r.state, r.fio, scanOpts), nil
}

// LoadTable resolves the Delta table at uri without preparing a scan.
func LoadTable(ctx context.Context, uri string, opts ...Option) (*deltalog.TableState, error) {
	r, err := resolve(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	return r.state, nil
}

type resolved struct {
	config  *Config
	fio     io.FileIO
	policy  io.RetryPolicy
	logger  *slog.Logger
	metrics *metrics.ScanMetrics
	state   *deltalog.TableState
}

func resolve(ctx context.Context, uri string, opts []Option) (*resolved, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: table uri is empty", ErrInvalidConfig)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.WithTable(uri)
	} else {
		logger = logger.With("table", uri)
	}
	logger = logging.WithScan(logger, uuid.NewString())

	m, err := metrics.New(config.MetricsRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	fio, err := createFileIO(ctx, uri, config)
	if err != nil {
		return nil, err
	}

	policy := retryPolicy(config, m, logger)
	state, err := deltalog.NewReplayer(fio, uri, policy, deltalog.WithLogger(logger)).Load(ctx, config.Version)
	if err != nil {
		return nil, err
	}
	logger.Info("table resolved", "version", state.Version(), "files", state.NumFiles())

	return &resolved{
		config:  config,
		fio:     fio,
		policy:  policy,
		logger:  logger,
		metrics: m,
		state:   state,
	}, nil
}

// createFileIO creates a file IO for the table location.
func createFileIO(ctx context.Context, uri string, config *Config) (io.FileIO, error) {
	if config.FileIO != nil {
		return config.FileIO, nil
	}
	fio, err := io.NewFileIO(ctx, uri, config.StorageOptions)
	if err != nil {
		if errors.Is(err, io.ErrUnsupportedScheme) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return nil, fmt.Errorf("failed to create file IO: %w", err)
	}
	return fio, nil
}

func retryPolicy(config *Config, m *metrics.ScanMetrics, logger *slog.Logger) io.RetryPolicy {
	return io.RetryPolicy{
		Retries:    config.Retries,
		Backoff:    config.RetryBackoff,
		MaxBackoff: config.MaxRetryBackoff,
		OnRetry: func(attempt int, err error) {
			m.Retried()
			logger.Warn("retrying storage operation", "attempt", attempt, "error", err)
		},
	}
}
