package common

import (
	"errors"
	"fmt"
)

// Request-taxonomy sentinels. Each maps to exactly one stable wire code;
// they are never silently coerced into one another.
var (
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrConcurrencyLimit = errors.New("concurrency limit exceeded")
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrNotReady         = errors.New("export not ready")
	ErrExpired          = errors.New("export expired")
	ErrRateLimited      = errors.New("rate limited")
)

// Stable machine-readable codes returned on every non-2xx outcome.
const (
	CodeInvalidFilter    = "INVALID_FILTER"
	CodeConcurrencyLimit = "CONCURRENCY_LIMIT_EXCEEDED"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeNotReady         = "NOT_READY"
	CodeExpired          = "EXPIRED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL"
)

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// CodeFor maps a sentinel (possibly wrapped) to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFilter):
		return CodeInvalidFilter
	case errors.Is(err, ErrConcurrencyLimit):
		return CodeConcurrencyLimit
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotReady):
		return CodeNotReady
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
