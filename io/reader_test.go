package io

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyInputFile fails the first n OpenRange calls with a transient error.
type flakyInputFile struct {
	InputFile
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyInputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errTransient
	}
	return f.InputFile.OpenRange(ctx, offset, length)
}

func writeTemp(t *testing.T, content string) InputFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	f, err := NewLocalFileIO().Open(context.Background(), p)
	require.NoError(t, err)
	return f
}

func TestRangeReaderReadAt(t *testing.T) {
	file := writeTemp(t, "abcdefghij")
	var read int64
	r := NewRangeReader(context.Background(), file, 10, RetryPolicy{}, func(n int64) { read += n })

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "cdef", string(buf))

	n, err = r.ReadAt(buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ij", string(buf[:n]))

	_, err = r.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, int64(6), read)
}

func TestRangeReaderSeekAndRead(t *testing.T) {
	file := writeTemp(t, "abcdefghij")
	r := NewRangeReader(context.Background(), file, 10, RetryPolicy{}, nil)

	pos, err := r.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hij", string(data))

	_, err = r.Seek(-20, io.SeekCurrent)
	assert.Error(t, err)
}

func TestRangeReaderRetries(t *testing.T) {
	flaky := &flakyInputFile{InputFile: writeTemp(t, "abcdefghij")}
	flaky.failures.Store(2)

	r := NewRangeReader(context.Background(), flaky, 10, RetryPolicy{Retries: 3}, nil)
	buf := make([]byte, 3)
	_, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.NoError(t, r.Err())
}

func TestRangeReaderRetriesExhausted(t *testing.T) {
	flaky := &flakyInputFile{InputFile: writeTemp(t, "abcdefghij")}
	flaky.failures.Store(2)

	r := NewRangeReader(context.Background(), flaky, 10, RetryPolicy{Retries: 1}, nil)
	_, err := r.ReadAt(make([]byte, 3), 0)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, r.Err(), ErrStorageUnavailable)
}

func TestRangeReaderShortFile(t *testing.T) {
	file := writeTemp(t, "abc")
	r := NewRangeReader(context.Background(), file, 10, RetryPolicy{Retries: 2}, nil)

	_, err := r.ReadAt(make([]byte, 2), 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
}
