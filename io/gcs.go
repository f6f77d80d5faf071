package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig holds Google Cloud Storage configuration. With no credentials
// set the client falls back to Application Default Credentials.
type GCSConfig struct {
	CredentialsFile string // Path to a service account JSON key
	CredentialsJSON string // Service account JSON key content
}

// GCSFileIO implements FileIO for Google Cloud Storage.
type GCSFileIO struct {
	client     *storage.Client
	properties map[string]string
}

// NewGCSFileIO creates a new GCS file I/O handler.
func NewGCSFileIO(ctx context.Context, cfg *GCSConfig) (*GCSFileIO, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	// Retries belong to RetryPolicy; the SDK makes a single attempt.
	client.SetRetry(storage.WithPolicy(storage.RetryNever))

	return &GCSFileIO{
		client:     client,
		properties: map[string]string{"scheme": "gs"},
	}, nil
}

// gcsLocation is a parsed gs://bucket/object location.
type gcsLocation struct {
	bucket string
	object string
}

func parseGCSURI(uri string) (gcsLocation, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return gcsLocation{}, fmt.Errorf("invalid GCS URI: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "gs") {
		return gcsLocation{}, fmt.Errorf("invalid GCS URI %q: unknown scheme", uri)
	}
	if u.Host == "" {
		return gcsLocation{}, fmt.Errorf("invalid GCS URI %q: missing bucket", uri)
	}
	return gcsLocation{bucket: u.Host, object: strings.TrimPrefix(u.Path, "/")}, nil
}

func (l gcsLocation) withObject(name string) string {
	return fmt.Sprintf("gs://%s/%s", l.bucket, name)
}

// Open opens a file for reading.
func (g *GCSFileIO) Open(ctx context.Context, path string) (InputFile, error) {
	loc, err := parseGCSURI(path)
	if err != nil {
		return nil, err
	}
	return &gcsInputFile{obj: g.client.Bucket(loc.bucket).Object(loc.object), path: path}, nil
}

// Exists checks if a file exists.
func (g *GCSFileIO) Exists(ctx context.Context, path string) (bool, error) {
	f, err := g.Open(ctx, path)
	if err != nil {
		return false, err
	}
	return f.Exists(ctx)
}

// Properties returns the properties of this FileIO.
func (g *GCSFileIO) Properties() map[string]string {
	return g.properties
}

// ListFiles lists the objects directly under a prefix. The "/" delimiter
// folds nested objects into prefixes, which are skipped.
func (g *GCSFileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	loc, err := parseGCSURI(prefix)
	if err != nil {
		return nil, err
	}
	objectPrefix := loc.object
	if objectPrefix != "" && !strings.HasSuffix(objectPrefix, "/") {
		objectPrefix += "/"
	}

	var files []string
	it := g.client.Bucket(loc.bucket).Objects(ctx, &storage.Query{Prefix: objectPrefix, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, gcsError("list", prefix, err)
		}
		if attrs.Name == "" {
			continue
		}
		files = append(files, loc.withObject(attrs.Name))
	}
	return files, nil
}

// gcsError classifies an SDK error: missing objects and buckets match ErrNotFound.
func gcsError(op, path string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) ||
		httpStatus(err) == http.StatusNotFound {
		return notFound(op, path, err)
	}
	return &IOError{Operation: op, Path: path, Cause: err}
}

// gcsInputFile implements InputFile for Google Cloud Storage.
type gcsInputFile struct {
	obj  *storage.ObjectHandle
	path string
}

func (f *gcsInputFile) Location() string {
	return f.path
}

func (f *gcsInputFile) Exists(ctx context.Context) (bool, error) {
	_, err := f.Length(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *gcsInputFile) Length(ctx context.Context) (int64, error) {
	attrs, err := f.obj.Attrs(ctx)
	if err != nil {
		return 0, gcsError("stat", f.path, err)
	}
	return attrs.Size, nil
}

func (f *gcsInputFile) Open(ctx context.Context) (io.ReadCloser, error) {
	r, err := f.obj.NewReader(ctx)
	if err != nil {
		return nil, gcsError("get", f.path, err)
	}
	return r, nil
}

// OpenRange reads length bytes at offset. A range starting at the end of the
// object reads as empty.
func (f *gcsInputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	r, err := f.obj.NewRangeReader(ctx, offset, length)
	if err != nil {
		if httpStatus(err) == http.StatusRequestedRangeNotSatisfiable {
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, gcsError("get", f.path, err)
	}
	return r, nil
}
