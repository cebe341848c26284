package errors

import (
	"errors"
	"fmt"
)

// Common error types for the issue sentinel service
var (
	// Configuration errors
	ErrConfiguration = errors.New("missing or invalid configuration")

	// Token errors
	ErrNotAuthorized = errors.New("no credential on file")
	ErrRefreshFailed = errors.New("token refresh failed")

	// Upstream errors
	ErrUpstream      = errors.New("upstream request failed")
	ErrProtocol      = errors.New("upstream response violates contract")
	ErrAuthorization = errors.New("no accessible resource for grant")

	// Flow errors
	ErrCsrf = errors.New("state mismatch")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
