package presence

import "errors"

// Cleanup action scopes. The global scope covers the participant's presence
// record; session scopes are one per entered session.
const (
	CleanupScopeGlobal  = "presence"
	CleanupScopeSession = "session:"
)

// Coordinator error types.
var (
	ErrAlreadyStarted = errors.New("presence coordinator already started")
	ErrNotTerminal    = errors.New("reconnect loop has not given up; manual retry not needed")
)
