// Package common provides shared constants, types, and utilities
// used across the OpenVPN Manager application.
package common

import "errors"

// Sentinel errors for VPN operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection errors.
	ErrAlreadyConnected = errors.New("connection already active")
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrProcessExited    = errors.New("openvpn exited")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrConfigNotFound  = errors.New("config file not found")
	ErrStoreCorrupt    = errors.New("profile store is corrupt")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
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

// UserError carries a message meant for the person at the keyboard while
// still matching its sentinel through errors.Is.
type UserError struct {
	Msg string
	Err error
}

// NewUserError returns an error whose text is msg and which unwraps to err.
func NewUserError(err error, msg string) error {
	return &UserError{Msg: msg, Err: err}
}

func (e *UserError) Error() string {
	return e.Msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}
