// Package common defines shared constants and sentinel errors used across
// snapvault layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorUnauthorized    = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Input validation: bad format, size or type. Nothing is mutated.
	ErrValidation = errors.New("validation error")

	// Stored ciphertext is malformed or its authentication tag does not verify.
	ErrIntegrity = errors.New("integrity error")

	// Access-control failures. All of them match ErrorUnauthorized.
	ErrSessionInactive  = fmt.Errorf("%w: session is not active", ErrorUnauthorized)
	ErrInvalidAccessKey = fmt.Errorf("%w: invalid access key", ErrorUnauthorized)
	ErrLocked           = fmt.Errorf("%w: too many failed attempts", ErrorUnauthorized)

	// Upload pipeline errors.
	ErrTransientProvider = errors.New("storage provider error")
	ErrTerminalUpload    = errors.New("upload failed")

	// Conversation / batch flow errors.
	ErrNoActiveSession = errors.New("no active session")
	ErrBatchNotActive  = errors.New("batch mode is not active")
	ErrBatchActive     = errors.New("batch mode is already active")
	ErrEmptyBatch      = errors.New("batch is empty")
)
