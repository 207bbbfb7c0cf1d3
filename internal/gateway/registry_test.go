package gateway

import (
	"testing"
	"time"

	"cockpit/pkg/types"
)

// testConn builds an authenticated connection wrapper without a socket.
// Registry tests never write, so the nil socket is never touched.
func testConn(participantID string, role types.Role, sessionID string) *Connection {
	conn := NewConnection(nil, 1, time.Second)
	conn.SetCredentials(participantID, role, sessionID)
	return conn
}

func TestRegistry_RegisterRequiresAuth(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	unauthenticated := NewConnection(nil, 1, time.Second)
	if err := registry.Register(unauthenticated); err != ErrNotAuthenticated {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	conn := testConn("captain-1", types.RoleCaptain, "session-1")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, exists := registry.Get("captain-1")
	if !exists || got != conn {
		t.Error("Registered connection should be retrievable")
	}

	conns := registry.SessionConnections("session-1")
	if len(conns) != 1 || conns[0] != conn {
		t.Error("Connection should be indexed under its session")
	}
}

func TestRegistry_ReplaceEvictsOldConnection(t *testing.T) {
	registry := NewRegistry()
	first := testConn("captain-1", types.RoleCaptain, "session-1")
	second := testConn("captain-1", types.RoleCaptain, "session-1")

	if err := registry.Register(first); err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	if err := registry.Register(second); err != nil {
		t.Fatalf("Second register failed: %v", err)
	}

	got, _ := registry.Get("captain-1")
	if got != second {
		t.Error("Newer connection should replace the old one")
	}

	stats := registry.Stats()
	if stats["total_connections"] != 1 {
		t.Errorf("Expected 1 connection after replacement, got %d", stats["total_connections"])
	}
}

func TestRegistry_UnregisterFiresCleanupActions(t *testing.T) {
	registry := NewRegistry()
	conn := testConn("copilot-1", types.RoleCoPilot, "session-1")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	fired := make(map[string]int)
	registry.ArmCleanup(conn, "presence", func() { fired["presence"]++ })
	registry.ArmCleanup(conn, "session:session-1", func() { fired["session:session-1"]++ })

	registry.Unregister(conn)

	if fired["presence"] != 1 || fired["session:session-1"] != 1 {
		t.Errorf("Both armed actions should fire exactly once, got %v", fired)
	}

	if _, exists := registry.Get("copilot-1"); exists {
		t.Error("Unregistered connection should be gone")
	}
	if len(registry.SessionConnections("session-1")) != 0 {
		t.Error("Session index should be cleared")
	}

	// Second unregister is a no-op: actions must not fire again.
	registry.Unregister(conn)
	if fired["presence"] != 1 {
		t.Error("Cleanup actions must not fire twice")
	}
}

func TestRegistry_DisarmCancelsAction(t *testing.T) {
	registry := NewRegistry()
	conn := testConn("copilot-1", types.RoleCoPilot, "session-1")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	fired := 0
	registry.ArmCleanup(conn, "session:session-1", func() { fired++ })
	registry.DisarmCleanup(conn, "session:session-1")

	registry.Unregister(conn)
	if fired != 0 {
		t.Error("Disarmed action must not fire")
	}
}

func TestRegistry_RearmReplacesAction(t *testing.T) {
	registry := NewRegistry()
	conn := testConn("captain-1", types.RoleCaptain, "")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var fired string
	registry.ArmCleanup(conn, "presence", func() { fired = "first" })
	registry.ArmCleanup(conn, "presence", func() { fired = "second" })

	registry.Unregister(conn)
	if fired != "second" {
		t.Errorf("Re-arming should replace the action, got %q", fired)
	}
}

func TestRegistry_StaleConnectionCannotEvict(t *testing.T) {
	registry := NewRegistry()
	first := testConn("captain-1", types.RoleCaptain, "session-1")
	second := testConn("captain-1", types.RoleCaptain, "session-1")

	if err := registry.Register(first); err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	if err := registry.Register(second); err != nil {
		t.Fatalf("Second register failed: %v", err)
	}

	// Unregistering the replaced connection must not evict the newer one,
	// and its cleanup actions must not fire against the live session.
	registry.Unregister(first)

	if _, exists := registry.Get("captain-1"); !exists {
		t.Error("Stale unregister must not evict the current connection")
	}
}

func TestRegistry_BindSessionIndexesBothRoles(t *testing.T) {
	registry := NewRegistry()
	captain := testConn("captain-1", types.RoleCaptain, "")
	copilot := testConn("copilot-1", types.RoleCoPilot, "")

	if err := registry.Register(captain); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(copilot); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// No session yet.
	if len(registry.SessionConnections("session-1")) != 0 {
		t.Error("Unbound connections should not appear under a session")
	}

	captain.SetSessionID("session-1")
	copilot.SetSessionID("session-1")
	registry.BindSession(captain)
	registry.BindSession(copilot)

	conns := registry.SessionConnections("session-1")
	if len(conns) != 2 {
		t.Errorf("Expected both roles indexed, got %d", len(conns))
	}

	stats := registry.Stats()
	if stats["active_sessions"] != 1 {
		t.Errorf("Expected 1 active session, got %d", stats["active_sessions"])
	}
}
