package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	dbconfig "cockpit/pkg/database"
	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Manager implements the SessionPersistence interface over SQLite.
// All writes funnel through a single goroutine; SQLite allows concurrent
// reads under WAL but only one writer.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a database write operation.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, and starts the
// single-writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := config.Open()
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				// One retry after a short delay covers transient busy errors.
				time.Sleep(100 * time.Millisecond)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			// Drain pending writes before exit.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- op.operation(m.db)
				default:
					return
				}
			}
		}
	}
}

// submitWrite queues an operation on the single writer and waits for it.
func (m *Manager) submitWrite(ctx context.Context, op func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: op, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveSession upserts the full session snapshot.
func (m *Manager) SaveSession(ctx context.Context, session *types.Session) error {
	snapshot, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	var copilotID *string
	if session.CoPilot != nil {
		copilotID = &session.CoPilot.ID
	}

	return m.submitWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO sessions (id, status, captain_id, copilot_id, snapshot, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				copilot_id = excluded.copilot_id,
				snapshot = excluded.snapshot,
				updated_at = excluded.updated_at`,
			session.ID, string(session.Status), session.Captain.ID, copilotID,
			string(snapshot), session.CreatedAt.UTC(), session.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save session %s: %w", session.ID, err)
		}
		return nil
	})
}

// GetSession retrieves a session snapshot by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var snapshot string
	err := m.db.QueryRowContext(ctx,
		"SELECT snapshot FROM sessions WHERE id = ?", sessionID,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}

	var session types.Session
	if err := json.Unmarshal([]byte(snapshot), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &session, nil
}

// ListOpenSessions returns all sessions that have not completed, used to
// warm the live store on startup.
func (m *Manager) ListOpenSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT snapshot FROM sessions WHERE status != ? ORDER BY created_at",
		string(types.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var session types.Session
		if err := json.Unmarshal([]byte(snapshot), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session row: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// AppendMessage persists one message to the append-only log. The message
// also lives inside the session snapshot; the log supports history queries
// without deserializing snapshots.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	return m.submitWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO messages (id, session_id, from_role, body, type, read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, sessionID, string(msg.From), msg.Body, string(msg.Type),
			boolToInt(msg.Read), msg.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to append message %s: %w", msg.ID, err)
		}
		return nil
	})
}

// GetSessionMessages returns the ordered message log for a session.
func (m *Manager) GetSessionMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, from_role, body, type, read, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		var read int
		if err := rows.Scan(&msg.ID, &msg.From, &msg.Body, &msg.Type, &read, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Read = read != 0
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close stops the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	log.Printf("Database manager closed: path=%s", m.config.DatabasePath)
	return m.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
