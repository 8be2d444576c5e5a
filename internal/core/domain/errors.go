package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidChange indicates a change event with neither a before nor an
	// after document. The change feed must never produce one.
	ErrInvalidChange = errors.New("invalid change type")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrReindexInProgress indicates a full reindex run already holds the lock
	ErrReindexInProgress = errors.New("full reindex already in progress")

	// ErrUnknownTaskType indicates a task the worker cannot dispatch
	ErrUnknownTaskType = errors.New("unknown task type")
)
