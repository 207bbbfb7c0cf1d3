package gateway

import "errors"

// Connection-related errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors.
var (
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrNotAuthenticated = errors.New("connection must be authenticated before registration")
)

// Handler-related errors.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingField   = errors.New("required command field missing")
	ErrRateLimited    = errors.New("command rate limit exceeded")
)
