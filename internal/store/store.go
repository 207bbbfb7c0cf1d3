package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Store is the live session store. It keeps the authoritative in-memory
// snapshot of every open session, applies partial-field merges under a
// single lock (which gives server-side write ordering), persists accepted
// writes, and fans the full snapshot out to topic subscribers on each
// change.
type Store struct {
	persistence interfaces.SessionPersistence

	mu       sync.RWMutex
	sessions map[string]*types.Session

	subMu       sync.RWMutex
	subscribers map[interfaces.Subscription]*subscriber
	nextSub     interfaces.Subscription

	// now is the server clock; overridable in tests.
	now func() time.Time
}

// subscriber delivers snapshots through a buffered channel so a slow
// callback never blocks the write path. The channel keeps only the most
// recent snapshots; intermediate ones may be dropped since every push is
// an authoritative full state.
type subscriber struct {
	sessionID string
	topic     interfaces.Topic
	ch        chan *types.Session
	done      chan struct{}
}

// NewStore creates a live store backed by the given persistence layer.
func NewStore(persistence interfaces.SessionPersistence) *Store {
	return &Store{
		persistence: persistence,
		sessions:    make(map[string]*types.Session),
		subscribers: make(map[interfaces.Subscription]*subscriber),
		now:         time.Now,
	}
}

// LoadOpenSessions warms the in-memory cache from persistence. Called once
// during application startup.
func (s *Store) LoadOpenSessions(ctx context.Context) error {
	sessions, err := s.persistence.ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		s.sessions[session.ID] = session
	}

	log.Printf("Loaded %d open sessions", len(sessions))
	return nil
}

// Create builds a new session in Waiting state with the captain bound and
// the copilot slot empty.
func (s *Store) Create(ctx context.Context, captain types.Participant, game types.GameState, settings types.Settings) (*types.Session, error) {
	if err := captain.Validate(); err != nil {
		return nil, err
	}
	if captain.Role != types.RoleCaptain {
		return nil, types.ErrInvalidRole
	}
	if err := game.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	captain.Connection = types.ConnOnline
	captain.LastActive = now

	session := &types.Session{
		ID:       uuid.New().String(),
		Status:   types.StatusWaiting,
		Captain:  captain,
		Game:     game,
		Settings: settings,
		Progress: types.Progress{
			Phase: game.Phase,
		},
		CreatedAt: now,
		UpdatedAt: now,
		Revision:  1,
	}

	if err := s.persistence.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Printf("Created session: id=%s captain=%s game=%s difficulty=%s",
		session.ID, captain.ID, game.Type, game.Difficulty)
	return session.Clone(), nil
}

// Get retrieves a session snapshot by ID, cache first.
func (s *Store) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	if session, exists := s.sessions[sessionID]; exists {
		s.mu.RUnlock()
		return session.Clone(), nil
	}
	s.mu.RUnlock()

	// Completed sessions fall out of the cache but remain durable.
	session, err := s.persistence.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Update applies the patches as one atomic partial-field merge. Patches run
// against a working copy; any patch error aborts the whole update with no
// mutation committed. The accepted write gets a server-assigned timestamp
// and revision, then fans out to subscribers of the touched topics.
func (s *Store) Update(ctx context.Context, sessionID string, patches ...interfaces.Patch) (*types.Session, error) {
	if len(patches) == 0 {
		return nil, ErrEmptyUpdate
	}

	s.mu.Lock()
	current, exists := s.sessions[sessionID]
	if !exists {
		s.mu.Unlock()
		return nil, interfaces.ErrSessionNotFound
	}

	working := current.Clone()
	topics := make(map[interfaces.Topic]bool, len(patches))
	for _, patch := range patches {
		if patch.Apply == nil {
			s.mu.Unlock()
			return nil, ErrNilPatch
		}
		if err := patch.Apply(working); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		topics[patch.Topic] = true
	}

	working.UpdatedAt = s.now()
	working.Revision = current.Revision + 1

	var newMessages []types.Message
	if n := len(current.Communication.Messages); len(working.Communication.Messages) > n {
		newMessages = working.Communication.Messages[n:]
	}

	s.sessions[sessionID] = working
	if working.Status == types.StatusCompleted {
		// Completed sessions leave the live cache; reads fall through to
		// persistence.
		delete(s.sessions, sessionID)
	}
	snapshot := working.Clone()
	// Publish before releasing the lock so subscribers observe accepted
	// writes in revision order. Channel sends in notify never block.
	s.notify(sessionID, topics, snapshot)
	s.mu.Unlock()

	if err := s.persistence.SaveSession(ctx, working); err != nil {
		// The in-memory state is already authoritative and has been
		// published; surface the persistence failure without rollback.
		log.Printf("Session persistence failed: id=%s err=%v", sessionID, err)
		return snapshot, fmt.Errorf("%w: %v", interfaces.ErrTransientNetwork, err)
	}
	for i := range newMessages {
		if err := s.persistence.AppendMessage(ctx, sessionID, &newMessages[i]); err != nil {
			log.Printf("Message log append failed: session=%s msg=%s err=%v",
				sessionID, newMessages[i].ID, err)
		}
	}

	return snapshot, nil
}

// Subscribe registers fn for full-snapshot delivery whenever a write
// touches the given topic. The returned handle must be unsubscribed
// explicitly; there is no implicit cancellation on teardown.
func (s *Store) Subscribe(sessionID string, topic interfaces.Topic, fn func(*types.Session)) (interfaces.Subscription, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}

	s.mu.RLock()
	_, exists := s.sessions[sessionID]
	s.mu.RUnlock()
	if !exists {
		return 0, interfaces.ErrSessionNotFound
	}

	sub := &subscriber{
		sessionID: sessionID,
		topic:     topic,
		ch:        make(chan *types.Session, 8),
		done:      make(chan struct{}),
	}

	s.subMu.Lock()
	s.nextSub++
	handle := s.nextSub
	s.subscribers[handle] = sub
	s.subMu.Unlock()

	go func() {
		for {
			select {
			case snapshot := <-sub.ch:
				fn(snapshot)
			case <-sub.done:
				return
			}
		}
	}()

	return handle, nil
}

// Unsubscribe removes a subscription. Idempotent.
func (s *Store) Unsubscribe(handle interfaces.Subscription) {
	s.subMu.Lock()
	sub, exists := s.subscribers[handle]
	if exists {
		delete(s.subscribers, handle)
	}
	s.subMu.Unlock()

	if exists {
		close(sub.done)
	}
}

// notify fans a snapshot out to every subscriber whose topic was touched.
// A full subscriber channel drops its oldest snapshot first: subscribers
// always converge on the latest full state.
func (s *Store) notify(sessionID string, topics map[interfaces.Topic]bool, snapshot *types.Session) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscribers {
		if sub.sessionID != sessionID || !topics[sub.topic] {
			continue
		}
		select {
		case sub.ch <- snapshot:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snapshot:
			default:
			}
		}
	}
}

// SubscriberCount reports live subscriptions for a session, used by tests
// and the stats endpoint to verify teardown.
func (s *Store) SubscriberCount(sessionID string) int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	count := 0
	for _, sub := range s.subscribers {
		if sub.sessionID == sessionID {
			count++
		}
	}
	return count
}

// IsNotFound reports whether err is the unknown-session error.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrSessionNotFound)
}
