package interfaces

import (
	"context"

	"cockpit/pkg/types"
)

// Topic partitions a session record into the four observable categories.
// A patch declares the topic it touches so subscribers only wake for
// changes they care about.
type Topic string

const (
	TopicSession   Topic = "session"
	TopicProgress  Topic = "progress"
	TopicEmergency Topic = "emergency"
	TopicMessages  Topic = "messages"
)

// Patch is a partial-field merge against a session record. Apply runs under
// the store's write lock against a working copy; returning an error aborts
// the whole update with no mutation committed. Two patches touching
// different fields never conflict; same-field writes resolve to whichever
// the store accepted last (server order, not client clock).
type Patch struct {
	Topic Topic
	Apply func(*types.Session) error
}

// Subscription identifies a live snapshot feed. Subscriptions are not
// cancelled implicitly; omitting Unsubscribe leaks the listener.
type Subscription uint64

// SessionStore provides CRUD plus subscription access to session records.
// Subscribe delivers the full current snapshot on each change, not a diff.
type SessionStore interface {
	Create(ctx context.Context, captain types.Participant, game types.GameState, settings types.Settings) (*types.Session, error)

	Get(ctx context.Context, sessionID string) (*types.Session, error)

	// Update applies the patches atomically. Returns ErrSessionNotFound for
	// unknown ids; there is no Conflict error.
	Update(ctx context.Context, sessionID string, patches ...Patch) (*types.Session, error)

	Subscribe(sessionID string, topic Topic, fn func(*types.Session)) (Subscription, error)

	Unsubscribe(sub Subscription)
}

// SessionPersistence is the durable layer beneath the live store.
type SessionPersistence interface {
	SaveSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListOpenSessions(ctx context.Context) ([]*types.Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg *types.Message) error
	HealthCheck(ctx context.Context) error
	Close() error
}
