// Package metrics defines the Prometheus collectors reported by scans.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prune reasons.
const (
	ReasonPartition  = "partition"
	ReasonStatistics = "statistics"
)

// ScanMetrics holds the collectors for one registerer. A nil *ScanMetrics
// records nothing.
type ScanMetrics struct {
	FilesPlanned    prometheus.Counter
	FilesPruned     *prometheus.CounterVec
	RowGroupsPruned prometheus.Counter
	BytesRead       prometheus.Counter
	Retries         prometheus.Counter
	TaskDuration    prometheus.Histogram
}

// New creates the scan collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered by an earlier
// call are reused, so many tables can share one registry.
func New(reg prometheus.Registerer) (*ScanMetrics, error) {
	factory := promauto.With(nil)
	m := &ScanMetrics{
		FilesPlanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "godelta_scan_files_planned_total",
			Help: "Data files that produced a read task",
		}),
		FilesPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "godelta_scan_files_pruned_total",
				Help: "Data files skipped during planning",
			},
			[]string{"reason"},
		),
		RowGroupsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "godelta_scan_row_groups_pruned_total",
			Help: "Parquet row groups skipped by statistics",
		}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "godelta_storage_bytes_read_total",
			Help: "Bytes fetched from table storage",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "godelta_storage_retries_total",
			Help: "Storage operations retried after a transient failure",
		}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "godelta_scan_task_duration_seconds",
			Help:    "Time to read and decode one data file",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.FilesPlanned, err = register(reg, m.FilesPlanned); err != nil {
		return nil, err
	}
	if m.FilesPruned, err = register(reg, m.FilesPruned); err != nil {
		return nil, err
	}
	if m.RowGroupsPruned, err = register(reg, m.RowGroupsPruned); err != nil {
		return nil, err
	}
	if m.BytesRead, err = register(reg, m.BytesRead); err != nil {
		return nil, err
	}
	if m.Retries, err = register(reg, m.Retries); err != nil {
		return nil, err
	}
	if m.TaskDuration, err = register(reg, m.TaskDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// FilePlanned counts one planned file.
func (m *ScanMetrics) FilePlanned() {
	if m != nil {
		m.FilesPlanned.Inc()
	}
}

// FilePruned counts one pruned file.
func (m *ScanMetrics) FilePruned(reason string) {
	if m != nil {
		m.FilesPruned.WithLabelValues(reason).Inc()
	}
}

// RowGroupsSkipped counts pruned row groups.
func (m *ScanMetrics) RowGroupsSkipped(n int) {
	if m != nil && n > 0 {
		m.RowGroupsPruned.Add(float64(n))
	}
}

// BytesFetched counts bytes read from storage.
func (m *ScanMetrics) BytesFetched(n int64) {
	if m != nil && n > 0 {
		m.BytesRead.Add(float64(n))
	}
}

// Retried counts one retry.
func (m *ScanMetrics) Retried() {
	if m != nil {
		m.Retries.Inc()
	}
}

// TaskDone records the duration of one read task.
func (m *ScanMetrics) TaskDone(d time.Duration) {
	if m != nil {
		m.TaskDuration.Observe(d.Seconds())
	}
}
