package spec

import (
	"errors"
	"fmt"
)

// Sentinel errors for log and table state resolution.
var (
	// Log errors
	ErrMalformedLogEntry      = errors.New("malformed log entry")
	ErrUnsupportedProtocol    = errors.New("unsupported protocol")
	ErrTableStateInconsistent = errors.New("table state inconsistent")

	// Table errors
	ErrTableNotFound   = errors.New("delta table not found")
	ErrVersionNotFound = errors.New("table version not found")

	// Read errors
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// MalformedError describes a log record that could not be decoded.
type MalformedError struct {
	Action string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s action: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("malformed %s action: field %q %s", e.Action, e.Field, e.Reason)
}

// Is reports whether the target matches this error.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedLogEntry
}

// UnsupportedProtocolError names the reader requirement this engine cannot honor.
type UnsupportedProtocolError struct {
	Feature       string
	ReaderVersion int
}

// Error implements the error interface.
func (e *UnsupportedProtocolError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("unsupported protocol: reader version %d", e.ReaderVersion)
	}
	return fmt.Sprintf("unsupported protocol: reader feature %q is not supported", e.Feature)
}

// Is reports whether the target matches this error.
func (e *UnsupportedProtocolError) Is(target error) bool {
	return target == ErrUnsupportedProtocol
}

// SchemaMismatchError reports a file column that cannot be read as the
// table's declared type.
type SchemaMismatchError struct {
	Column    string
	FileType  string
	TableType string
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: column %q has type %s in file, table expects %s",
		e.Column, e.FileType, e.TableType)
}

// Is reports whether the target matches this error.
func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

func malformed(action, field, reason string) error {
	return &MalformedError{Action: action, Field: field, Reason: reason}
}
