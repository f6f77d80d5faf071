package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileIO reads tables from the local filesystem. Locations are plain
// paths or file:// URIs. It also writes, for test fixtures and tooling.
type LocalFileIO struct {
	properties map[string]string
}

// NewLocalFileIO creates a new local file I/O handler.
func NewLocalFileIO() *LocalFileIO {
	return &LocalFileIO{
		properties: map[string]string{"scheme": "file"},
	}
}

// Open returns a handle for the file at location.
func (l *LocalFileIO) Open(ctx context.Context, location string) (InputFile, error) {
	path, err := localPath(location)
	if err != nil {
		return nil, err
	}
	return &localInputFile{location: location, path: path}, nil
}

// Create returns a handle for writing the file at location.
func (l *LocalFileIO) Create(ctx context.Context, location string) (OutputFile, error) {
	path, err := localPath(location)
	if err != nil {
		return nil, err
	}
	return &localOutputFile{location: location, path: path}, nil
}

// Delete removes the file at location.
func (l *LocalFileIO) Delete(ctx context.Context, location string) error {
	path, err := localPath(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return localError("delete", location, err)
	}
	return nil
}

// Exists checks if a file exists.
func (l *LocalFileIO) Exists(ctx context.Context, location string) (bool, error) {
	path, err := localPath(location)
	if err != nil {
		return false, err
	}
	return statExists(path)
}

// Properties returns the properties of this FileIO.
func (l *LocalFileIO) Properties() map[string]string {
	return l.properties
}

// ListFiles lists the regular files directly inside the directory at
// prefix. Subdirectories are not descended into.
func (l *LocalFileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	dir, err := localPath(prefix)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, localError("list", prefix, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, JoinPath(prefix, e.Name()))
		}
	}
	return files, nil
}

// localPath converts a location to a filesystem path. file:// URIs are
// percent-decoded; anything else is taken as a path.
func localPath(location string) (string, error) {
	if !strings.HasPrefix(location, "file:") {
		return filepath.FromSlash(location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid file URI %q: %w", location, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("invalid file URI %q: remote host %q", location, u.Host)
	}
	return filepath.FromSlash(u.Path), nil
}

func localError(op, location string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(op, location, err)
	}
	return &IOError{Operation: op, Path: location, Cause: err}
}

func statExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// localInputFile implements InputFile for local filesystem.
type localInputFile struct {
	location string
	path     string
}

func (f *localInputFile) Location() string {
	return f.location
}

func (f *localInputFile) Exists(ctx context.Context) (bool, error) {
	return statExists(f.path)
}

func (f *localInputFile) Length(ctx context.Context) (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, localError("stat", f.location, err)
	}
	return info.Size(), nil
}

func (f *localInputFile) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, localError("open", f.location, err)
	}
	return file, nil
}

// OpenRange reads length bytes from offset. A range past the end of the
// file is cut short, as a ranged GET is.
func (f *localInputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length < 0 {
		return nil, &IOError{Operation: "read", Path: f.location,
			Cause: fmt.Errorf("invalid range offset=%d length=%d", offset, length)}
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, localError("open", f.location, err)
	}
	return &sectionReadCloser{
		Reader: io.NewSectionReader(file, offset, length),
		Closer: file,
	}, nil
}

// localOutputFile implements OutputFile for local filesystem.
type localOutputFile struct {
	location string
	path     string
}

func (f *localOutputFile) Location() string {
	return f.location
}

// Create fails if the file exists, so a commit cannot be replaced.
func (f *localOutputFile) Create(ctx context.Context) (io.WriteCloser, error) {
	return f.open(os.O_WRONLY | os.O_CREATE | os.O_EXCL)
}

func (f *localOutputFile) CreateOverwrite(ctx context.Context) (io.WriteCloser, error) {
	return f.open(os.O_WRONLY | os.O_CREATE | os.O_TRUNC)
}

func (f *localOutputFile) open(flag int) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(f.path, flag, 0644)
	if err != nil {
		return nil, localError("create", f.location, err)
	}
	return file, nil
}

func (f *localOutputFile) ToInputFile() InputFile {
	return &localInputFile{location: f.location, path: f.path}
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}
