// Package io provides the storage layer for Delta tables: read access to
// local, S3 and Azure Blob locations, retries and byte-range readers.
package io

import (
	"context"
	"io"
	"strings"
)

// FileIO is the interface for read access to a table's storage.
type FileIO interface {
	// Open returns a handle for the file at path. It does not touch storage.
	Open(ctx context.Context, path string) (InputFile, error)

	// Exists checks if a file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// ListFiles lists the locations of the files directly under a
	// directory prefix; nested entries are not returned. A prefix that does
	// not exist fails with ErrNotFound or yields no files.
	ListFiles(ctx context.Context, prefix string) ([]string, error)

	// Properties returns the properties of this FileIO.
	Properties() map[string]string
}

// InputFile represents a readable file.
type InputFile interface {
	// Location returns the file location.
	Location() string

	// Exists checks if the file exists.
	Exists(ctx context.Context) (bool, error)

	// Length returns the file length in bytes.
	Length(ctx context.Context) (int64, error)

	// Open opens the file for reading.
	Open(ctx context.Context) (io.ReadCloser, error)

	// OpenRange opens a range of the file for reading.
	OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// OutputFile represents a writable file.
type OutputFile interface {
	// Location returns the file location.
	Location() string

	// Create creates the file for writing.
	Create(ctx context.Context) (io.WriteCloser, error)

	// CreateOverwrite creates or overwrites the file.
	CreateOverwrite(ctx context.Context) (io.WriteCloser, error)

	// ToInputFile converts this to an InputFile after writing.
	ToInputFile() InputFile
}

// WritableFileIO extends FileIO with write operations. Scans never write;
// test fixtures and tooling use it to lay out tables.
type WritableFileIO interface {
	FileIO

	// Create creates a new file for writing.
	Create(ctx context.Context, path string) (OutputFile, error)

	// Delete deletes a file.
	Delete(ctx context.Context, path string) error
}

// JoinPath joins a table location and relative path elements with "/".
func JoinPath(base string, elem ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(e)
	}
	return b.String()
}

// BaseName returns the last element of a location.
func BaseName(location string) string {
	location = strings.TrimRight(location, "/")
	if i := strings.LastIndexAny(location, "/\\"); i >= 0 {
		return location[i+1:]
	}
	return location
}

// IsAbsoluteURI reports whether p carries a scheme.
func IsAbsoluteURI(p string) bool {
	return strings.Contains(p, "://")
}

// ReadFile reads a whole file, retrying transient failures.
func ReadFile(ctx context.Context, fio FileIO, path string, policy RetryPolicy) ([]byte, error) {
	var data []byte
	err := policy.Do(ctx, func(ctx context.Context) error {
		f, err := fio.Open(ctx, path)
		if err != nil {
			return err
		}
		r, err := f.Open(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListFiles lists a prefix, retrying transient failures.
func ListFiles(ctx context.Context, fio FileIO, prefix string, policy RetryPolicy) ([]string, error) {
	var files []string
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		files, err = fio.ListFiles(ctx, prefix)
		return err
	})
	return files, err
}
