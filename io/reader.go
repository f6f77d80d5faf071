package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// RangeReader exposes an InputFile of known size as an io.ReaderAt and
// io.Seeker. Every ReadAt is a single ranged request run under the retry
// policy, so columnar readers fetch only the byte ranges they need.
type RangeReader struct {
	ctx    context.Context
	file   InputFile
	size   int64
	policy RetryPolicy
	onRead func(n int64)

	mu  sync.Mutex
	pos int64
	err error
}

// NewRangeReader creates a RangeReader. onRead, if set, is called with the
// number of bytes fetched by each successful read.
func NewRangeReader(ctx context.Context, file InputFile, size int64, policy RetryPolicy, onRead func(n int64)) *RangeReader {
	return &RangeReader{
		ctx:    ctx,
		file:   file,
		size:   size,
		policy: policy,
		onRead: onRead,
	}
}

// Size returns the file size.
func (r *RangeReader) Size() int64 {
	return r.size
}

// Err returns the first storage error seen by the reader. Decoders may wrap
// errors without %w; callers use Err to recover the storage cause.
func (r *RangeReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *RangeReader) setErr(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

// ReadAt implements io.ReaderAt.
func (r *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > r.size {
		n = r.size - off
	}
	if n == 0 {
		return 0, nil
	}

	err := r.policy.Do(r.ctx, func(ctx context.Context) error {
		rc, err := r.file.OpenRange(ctx, off, n)
		if err != nil {
			return err
		}
		defer rc.Close()
		if _, err := io.ReadFull(rc, p[:n]); err != nil {
			if errors.Is(err, io.EOF) {
				return &IOError{Operation: "read", Path: r.file.Location(), Cause: fmt.Errorf("file shorter than %d bytes", r.size)}
			}
			return err
		}
		return nil
	})
	if err != nil {
		r.setErr(err)
		return 0, err
	}

	if r.onRead != nil {
		r.onRead(n)
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Read implements io.Reader on top of ReadAt.
func (r *RangeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	pos := r.pos
	r.mu.Unlock()

	n, err := r.ReadAt(p, pos)

	r.mu.Lock()
	r.pos = pos + int64(n)
	r.mu.Unlock()
	return n, err
}

// Seek implements io.Seeker.
func (r *RangeReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		next = r.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	r.pos = next
	return next, nil
}
