package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"google.golang.org/api/googleapi"
)

// Storage errors.
var (
	ErrNotFound           = errors.New("file not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnsupportedScheme  = errors.New("unsupported storage scheme")
)

// RetryableError wraps an error that can be retried.
type RetryableError struct {
	Cause      error
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("retryable error (retry after %v): %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("retryable error: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// IOError describes a failed storage operation on one location.
type IOError struct {
	Operation string
	Path      string
	Cause     error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Path, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error is transient: an explicit
// RetryableError, a network timeout or reset, a truncated body, or a
// 5xx/429 response from S3, Azure or GCS. Not-found and cancellation never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if code := httpStatus(err); code != 0 {
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
	}
	return false
}

// retryAfter returns the server-suggested delay carried by err, if any.
func retryAfter(err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.RetryAfter
	}
	return 0
}

// httpStatus extracts the HTTP status code of an S3, Azure or GCS response error.
func httpStatus(err error) int {
	var awsErr *awshttp.ResponseError
	if errors.As(err, &awsErr) {
		return awsErr.HTTPStatusCode()
	}
	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		return azErr.StatusCode
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// notFound wraps err so that it matches ErrNotFound.
func notFound(op, path string, err error) error {
	return &IOError{Operation: op, Path: path, Cause: fmt.Errorf("%w: %w", ErrNotFound, err)}
}
