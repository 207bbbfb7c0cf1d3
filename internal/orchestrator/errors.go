package orchestrator

import "errors"

// Orchestrator error types.
var (
	ErrMissingDependency = errors.New("orchestrator requires store, access, and escalation dependencies")
	ErrMissingIdentity   = errors.New("orchestrator requires an identity provider")
	ErrNoActiveSession   = errors.New("no active session")
	ErrDispatcherRunning = errors.New("dispatcher is already running")
)
