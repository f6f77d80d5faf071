package godelta

import (
	"errors"

	"github.com/BrobridgeOrg/go-delta/deltalog"
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
	"github.com/BrobridgeOrg/go-delta/table"
)

// Common errors for go-delta operations. They are the sentinels of the
// subpackages, collected so callers need a single import.
var (
	// Table errors
	ErrTableNotFound          = spec.ErrTableNotFound
	ErrVersionNotFound        = spec.ErrVersionNotFound
	ErrTableStateInconsistent = spec.ErrTableStateInconsistent

	// Log errors
	ErrMalformedLogEntry   = spec.ErrMalformedLogEntry
	ErrUnsupportedProtocol = spec.ErrUnsupportedProtocol
	ErrCheckpointNotFound  = deltalog.ErrCheckpointNotFound
	ErrCheckpointCorrupt   = deltalog.ErrCheckpointCorrupt

	// Data errors
	ErrSchemaMismatch = spec.ErrSchemaMismatch
	ErrInvalidLiteral = spec.ErrInvalidLiteral
	ErrColumnNotFound = table.ErrColumnNotFound
	ErrInvalidFilter  = table.ErrInvalidFilter
	ErrIteratorClosed = table.ErrIteratorClosed

	// IO errors
	ErrNotFound           = io.ErrNotFound
	ErrStorageUnavailable = io.ErrStorageUnavailable

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Typed errors carrying details.
type (
	MalformedError           = spec.MalformedError
	UnsupportedProtocolError = spec.UnsupportedProtocolError
	SchemaMismatchError      = spec.SchemaMismatchError
	CheckpointError          = deltalog.CheckpointError
	RetryableError           = io.RetryableError
	TaskError                = table.TaskError
)

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	return io.IsRetryable(err)
}
