package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = &RetryableError{Cause: errors.New("503 slow down")}

func flakyOp(failures int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= failures {
			return errTransient
		}
		return nil
	}
}

func TestRetryPolicySucceedsAfterTransientFailures(t *testing.T) {
	var calls, retries int
	policy := RetryPolicy{
		Retries: 3,
		OnRetry: func(attempt int, err error) { retries++ },
	}

	err := policy.Do(context.Background(), flakyOp(2, &calls))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryPolicyExhausted(t *testing.T) {
	var calls int
	policy := RetryPolicy{Retries: 1}

	err := policy.Do(context.Background(), flakyOp(2, &calls))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, errTransient.Cause)
	assert.Equal(t, 2, calls, "retries counts attempts after the first")
}

func TestRetryPolicyZeroRetries(t *testing.T) {
	var calls int
	err := RetryPolicy{}.Do(context.Background(), flakyOp(1, &calls))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyDoesNotRetryNotFound(t *testing.T) {
	var calls int
	err := RetryPolicy{Retries: 5}.Do(context.Background(), func(context.Context) error {
		calls++
		return notFound("get", "x.parquet", errors.New("404"))
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	policy := RetryPolicy{Retries: 5, Backoff: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, flakyOp(10, &calls))
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 800*time.Millisecond, p.delay(4))
	assert.Equal(t, time.Second, p.delay(5))
	assert.Equal(t, time.Second, p.delay(60))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", errTransient, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"connection reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"azure 503", &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable}, true},
		{"azure 429", &azcore.ResponseError{StatusCode: http.StatusTooManyRequests}, true},
		{"azure 403", &azcore.ResponseError{StatusCode: http.StatusForbidden}, false},
		{"not found", notFound("get", "x", errTransient), false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
