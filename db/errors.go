package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrUpstream matches every failure of the remote database service.
	ErrUpstream = errors.New("upstream database failure")
	// ErrUpstreamTimeout is returned when a call exceeded its deadline. Callers may retry.
	ErrUpstreamTimeout = errors.New("upstream database timeout")
	// ErrConflict is returned for unique or primary key violations.
	ErrConflict = errors.New("unique constraint violation")
	// ErrMalformedResult is returned when the upstream answered with a body that cannot be decoded.
	ErrMalformedResult = errors.New("malformed upstream result")
)

// UpstreamError carries the details of a failed call so handlers can surface them.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s query failed (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s query failed: %s", e.Service, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// classify converts a raw driver or transport error into the package taxonomy.
func classify(service string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrUpstreamTimeout, service, err)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return &UpstreamError{Service: service, StatusCode: statusCode, Message: err.Error(), Err: err}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlite and D1 report constraint failures only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
