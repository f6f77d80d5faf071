// Package logging holds the process-wide structured logger used by go-delta.
package logging

import (
	"log/slog"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
)

// GetLogger returns the current logger. Until SetLogger is called the library
// logs nothing.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger
}

// SetLogger replaces the logger. A nil logger restores the silent default.
func SetLogger(l *slog.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("replay")
//	log.Info("checkpoint selected", "version", 10)
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithTable creates a logger with table location context.
func WithTable(uri string) *slog.Logger {
	return GetLogger().With("table", uri)
}

// WithScan creates a logger carrying the scan id of one scan call.
func WithScan(l *slog.Logger, scanID string) *slog.Logger {
	if l == nil {
		l = GetLogger()
	}
	return l.With("scan_id", scanID)
}

// WithError creates a logger with error context.
func WithError(l *slog.Logger, err error) *slog.Logger {
	if l == nil {
		l = GetLogger()
	}
	return l.With("error", err.Error())
}
