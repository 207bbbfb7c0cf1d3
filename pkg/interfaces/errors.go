package interfaces

import "errors"

// Shared error taxonomy. Every public method in the core returns one of
// these (possibly wrapped) instead of panicking across the session boundary.
var (
	// ErrUnauthorized: permission or session-binding check failed. Recovered
	// locally; no mutation is performed.
	ErrUnauthorized = errors.New("participant not authorized for this action")

	// ErrSessionNotFound: session id unknown. Surfaced, never retried.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSlotOccupied: the copilot slot is already taken.
	ErrSlotOccupied = errors.New("copilot slot already occupied")

	// ErrCallAlreadyActive: an unresolved emergency call occupies the slot.
	ErrCallAlreadyActive = errors.New("emergency call already active")

	// ErrTransientNetwork: a write or subscribe failed due to connectivity.
	// Only presence/heartbeat traffic retries; other callers surface it.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrReconnectExhausted: the reconnection loop gave up. Terminal for the
	// current session context until a manual retry.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
