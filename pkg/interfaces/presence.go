package interfaces

import (
	"context"

	"cockpit/pkg/types"
)

// PresenceEventKind distinguishes coordinator notifications.
type PresenceEventKind string

const (
	PresenceStatusChanged     PresenceEventKind = "status_changed"
	PresenceReconnectAttempt  PresenceEventKind = "reconnect_attempt"
	PresenceReconnectFailed   PresenceEventKind = "reconnect_failed"
	PresenceReconnectExhaust  PresenceEventKind = "reconnect_exhausted"
	PresenceReconnectRestored PresenceEventKind = "reconnect_restored"
)

// PresenceEvent is delivered to registered presence observers.
type PresenceEvent struct {
	Kind    PresenceEventKind
	Status  types.ConnectionStatus
	Attempt int
	Err     error
}

// PresenceTracker keeps the local participant's connection status consistent
// with actual reachability.
type PresenceTracker interface {
	Start(ctx context.Context) error
	Stop()
	Status() types.ConnectionStatus
	HandleVisibility(hidden bool)
	HandleNetworkLoss()
	RetryNow() error
	EnterSession(ctx context.Context, sessionID string) error
	LeaveSession(ctx context.Context) error
	RegisterObserver(fn func(PresenceEvent)) int
	RemoveObserver(id int)
}

// PresenceLink is the transport the coordinator drives: dialing, heartbeat
// writes, and arming/disarming server-side cleanup actions. The production
// link speaks WebSocket to the gateway; tests substitute a fake.
type PresenceLink interface {
	Connect(ctx context.Context) error
	Heartbeat(ctx context.Context, status types.ConnectionStatus) error
	ArmCleanup(ctx context.Context, scope string) error
	DisarmCleanup(ctx context.Context, scope string) error
	Close() error
}
