package presence

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// linkCommand is the wire format the gateway's presence endpoint accepts.
type linkCommand struct {
	Op     string `json:"op"`
	Status string `json:"status,omitempty"`
	Scope  string `json:"scope,omitempty"`
}

// WSLink is the production PresenceLink: a WebSocket connection to the
// gateway's presence endpoint. The server watches this socket; when it
// drops, armed cleanup actions fire server-side.
type WSLink struct {
	url          string
	header       http.Header
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSLink creates a link that dials the given gateway URL. The header
// carries the externally issued identity token.
func NewWSLink(url string, header http.Header, writeTimeout time.Duration) *WSLink {
	return &WSLink{
		url:          url,
		header:       header,
		writeTimeout: writeTimeout,
	}
}

// Connect dials the gateway, replacing any previous socket.
func (l *WSLink) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, l.header)
	if err != nil {
		return fmt.Errorf("%w: presence dial: %v", interfaces.ErrTransientNetwork, err)
	}

	l.mu.Lock()
	old := l.conn
	l.conn = conn
	l.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Heartbeat re-asserts the given status on the gateway.
func (l *WSLink) Heartbeat(ctx context.Context, status types.ConnectionStatus) error {
	return l.write(ctx, linkCommand{Op: "heartbeat", Status: string(status)})
}

// ArmCleanup registers a server-side disconnect action for the scope.
func (l *WSLink) ArmCleanup(ctx context.Context, scope string) error {
	return l.write(ctx, linkCommand{Op: "arm", Scope: scope})
}

// DisarmCleanup cancels a previously armed disconnect action.
func (l *WSLink) DisarmCleanup(ctx context.Context, scope string) error {
	return l.write(ctx, linkCommand{Op: "disarm", Scope: scope})
}

// Close shuts the socket down.
func (l *WSLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// write serializes one command onto the socket. Gorilla connections allow
// one concurrent writer, so writes hold the lock.
func (l *WSLink) write(ctx context.Context, cmd linkCommand) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return fmt.Errorf("%w: presence link not connected", interfaces.ErrTransientNetwork)
	}

	deadline := time.Now().Add(l.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: presence write deadline: %v", interfaces.ErrTransientNetwork, err)
	}

	if err := l.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: presence write: %v", interfaces.ErrTransientNetwork, err)
	}
	return nil
}
