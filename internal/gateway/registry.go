package gateway

import (
	"log"
	"sync"

	"cockpit/pkg/types"
)

// Registry tracks live connections: one global map per participant plus
// one captain slot and one copilot slot per session. It also holds the
// armed cleanup actions that fire when the server loses a client, which
// keeps presence correct on abrupt process termination or network loss
// without any further client code running.
type Registry struct {
	mu              sync.RWMutex
	global          map[string]*Connection            // participantID -> connection
	sessionCaptains map[string]*Connection            // sessionID -> captain connection
	sessionCoPilots map[string]*Connection            // sessionID -> copilot connection
	cleanups        map[*Connection]map[string]func() // connection -> scope -> action
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		global:          make(map[string]*Connection),
		sessionCaptains: make(map[string]*Connection),
		sessionCoPilots: make(map[string]*Connection),
		cleanups:        make(map[*Connection]map[string]func()),
	}
}

// Register adds an authenticated connection, replacing any previous
// connection for the same participant.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	participantID := conn.ParticipantID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.global[participantID]; exists {
		// Close asynchronously; Close never re-enters the registry.
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
		r.dropLocked(existing)
	}

	r.global[participantID] = conn
	r.indexSessionLocked(conn)
	return nil
}

// BindSession indexes the connection under its (possibly new) session.
func (r *Registry) BindSession(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexSessionLocked(conn)
}

// Unregister removes the connection and fires its armed cleanup actions.
// Idempotent; a stale connection never evicts a newer one.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	registered, exists := r.global[conn.ParticipantID()]
	if !exists || registered != conn {
		r.mu.Unlock()
		return
	}
	delete(r.global, conn.ParticipantID())
	r.dropLocked(conn)
	actions := r.cleanups[conn]
	delete(r.cleanups, conn)
	r.mu.Unlock()

	for scope, action := range actions {
		log.Printf("Firing cleanup action: participant=%s scope=%s", conn.ParticipantID(), scope)
		action()
	}
}

// ArmCleanup stores an action that runs if the server loses this
// connection. Re-arming a scope replaces its action.
func (r *Registry) ArmCleanup(conn *Connection, scope string, action func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cleanups[conn] == nil {
		r.cleanups[conn] = make(map[string]func())
	}
	r.cleanups[conn][scope] = action
}

// DisarmCleanup cancels an armed action, e.g. on explicit session leave.
func (r *Registry) DisarmCleanup(conn *Connection, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actions, exists := r.cleanups[conn]; exists {
		delete(actions, scope)
	}
}

// Get returns the current connection for a participant.
func (r *Registry) Get(participantID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.global[participantID]
	return conn, exists
}

// SessionConnections returns the up-to-two connections bound to a session.
func (r *Registry) SessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	if captain, exists := r.sessionCaptains[sessionID]; exists {
		conns = append(conns, captain)
	}
	if copilot, exists := r.sessionCoPilots[sessionID]; exists {
		conns = append(conns, copilot)
	}
	return conns
}

// Stats reports connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[string]bool)
	for sessionID := range r.sessionCaptains {
		sessions[sessionID] = true
	}
	for sessionID := range r.sessionCoPilots {
		sessions[sessionID] = true
	}

	return map[string]int{
		"total_connections": len(r.global),
		"active_sessions":   len(sessions),
	}
}

func (r *Registry) indexSessionLocked(conn *Connection) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}
	switch conn.Role() {
	case types.RoleCaptain:
		r.sessionCaptains[sessionID] = conn
	case types.RoleCoPilot:
		r.sessionCoPilots[sessionID] = conn
	}
}

func (r *Registry) dropLocked(conn *Connection) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}
	if r.sessionCaptains[sessionID] == conn {
		delete(r.sessionCaptains, sessionID)
	}
	if r.sessionCoPilots[sessionID] == conn {
		delete(r.sessionCoPilots, sessionID)
	}
}
