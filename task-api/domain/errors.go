package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks missing or malformed input. Never retried automatically.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the referenced task or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated is returned when no credential was presented.
	ErrUnauthenticated = errors.New("authentication token missing")
	// ErrInvalidCredential covers malformed, badly signed and expired credentials.
	ErrInvalidCredential = errors.New("invalid or expired token")
	// ErrUnknownSubject is returned for a valid credential whose user no longer exists.
	ErrUnknownSubject = errors.New("user not found for provided token")
	// ErrConflict is returned when an idempotent request is still being processed
	// or a write would reuse an activity sequence number. Call sites wrap it with the cause.
	ErrConflict = errors.New("conflict")
	// ErrRemoteUnavailable wraps network failures and timeouts talking to the task service.
	ErrRemoteUnavailable = errors.New("task service unavailable")
	// ErrStorageFailure wraps local durable cache read and write failures.
	ErrStorageFailure = errors.New("local storage failure")
)

// Wire codes shared by the HTTP API and its clients.
const (
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeUnauthenticated   = "unauthenticated"
	CodeInvalidCredential = "invalid_credential"
	CodeUnknownSubject    = "unknown_subject"
	CodeConflict          = "conflict"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, CodeValidation},
	{ErrNotFound, CodeNotFound},
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrInvalidCredential, CodeInvalidCredential},
	{ErrUnknownSubject, CodeUnknownSubject},
	{ErrConflict, CodeConflict},
	{ErrRemoteUnavailable, CodeUnavailable},
}

// Code classifies err into its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode rebuilds a sentinel-wrapped error from a wire code and message.
func ErrorForCode(code, message string) error {
	for _, c := range codes {
		if c.code == code {
			message = strings.TrimPrefix(message, c.err.Error()+": ")
			if message == "" || message == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, message)
		}
	}
	if message == "" {
		message = "unexpected error"
	}
	return errors.New(message)
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
