// Package common provides shared constants, types, and utilities
// used across the VPN session controller.
package common

import "errors"

// Sentinel errors for session operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Command errors.
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrAttemptInProgress  = errors.New("connection attempt already in progress")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotImplemented     = errors.New("not implemented")
	ErrStaleAttempt       = errors.New("attempt is no longer current")
	ErrNoPendingAttempt   = errors.New("no attempt awaiting permission")
	ErrControllerShutdown = errors.New("controller is shut down")

	// Engine errors.
	ErrEngineValidationFailed  = errors.New("engine rejected profile")
	ErrEngineLaunchFailed      = errors.New("engine failed to launch")
	ErrUnrecognizedEngineStage = errors.New("unrecognized engine stage")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// Transport errors.
	ErrServiceUnavailable = errors.New("session service unavailable")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
