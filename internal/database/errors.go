package database

import "errors"

// Persistence error types.
var (
	ErrManagerClosed = errors.New("database manager is closed")
)
