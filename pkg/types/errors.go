package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidParticipantID = errors.New("participant ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName   = errors.New("display name must be 1-100 characters")
	ErrInvalidRole          = errors.New("invalid role: must be 'captain' or 'copilot'")
	ErrInvalidGameType      = errors.New("game type must be 1-50 characters")
	ErrInvalidDifficulty    = errors.New("invalid difficulty tier")
	ErrInvalidPhaseCount    = errors.New("total phases must be at least 1")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrEmptyMessageBody     = errors.New("message body cannot be empty")
	ErrMessageTooLarge      = errors.New("message body exceeds 4KB limit")
	ErrInvalidTransition    = errors.New("invalid session status transition")
)
