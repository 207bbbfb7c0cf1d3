package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cockpit/internal/identity"
	"cockpit/internal/orchestrator"
	"cockpit/internal/presence"
	"cockpit/internal/store"
	"cockpit/pkg/types"
)

// command is the inbound wire format.
type command struct {
	Op        string            `json:"op"`
	SessionID string            `json:"session_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Scope     string            `json:"scope,omitempty"`
	Game      *types.GameState  `json:"game,omitempty"`
	Settings  *types.Settings   `json:"settings,omitempty"`
	Progress  *types.Progress   `json:"progress,omitempty"`
	Metrics   *metricsPayload   `json:"metrics,omitempty"`
	Role      types.Role        `json:"role,omitempty"`
	Score     int               `json:"score,omitempty"`
	Body      string            `json:"body,omitempty"`
	Type      types.MessageType `json:"type,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Note      string            `json:"note,omitempty"`
	Urgent    bool              `json:"urgent,omitempty"`
	Payload   map[string]any    `json:"payload,omitempty"`
}

// metricsPayload carries durations as milliseconds on the wire.
type metricsPayload struct {
	ConsecutiveFailures int     `json:"consecutive_failures"`
	TimeOnItemMS        int64   `json:"time_on_item_ms"`
	AccuracyDrop        float64 `json:"accuracy_drop"`
	InactivityMS        int64   `json:"inactivity_ms"`
}

func (m *metricsPayload) toMetrics() types.ProgressMetrics {
	return types.ProgressMetrics{
		ConsecutiveFailures: m.ConsecutiveFailures,
		TimeOnCurrentItem:   time.Duration(m.TimeOnItemMS) * time.Millisecond,
		AccuracyDrop:        m.AccuracyDrop,
		Inactivity:          time.Duration(m.InactivityMS) * time.Millisecond,
	}
}

// Options configures the websocket handler.
type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	RateLimit    int
	RateWindow   time.Duration
	TokenKey     []byte // empty disables token auth, falling back to params
}

// Handler upgrades client sockets and bridges them to per-connection
// orchestrators.
type Handler struct {
	registry *Registry
	deps     orchestrator.Deps
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	opts     Options
}

// NewHandler creates the websocket handler.
func NewHandler(registry *Registry, deps orchestrator.Deps, opts Options) *Handler {
	return &Handler{
		registry: registry,
		deps:     deps,
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

// HandleWebSocket is the /ws endpoint.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn, h.opts.BufferSize, h.opts.WriteTimeout)
	conn.SetCredentials(id.ParticipantID, id.Role, r.URL.Query().Get("session_id"))

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Connection registration failed: participant=%s err=%v", id.ParticipantID, err)
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	orch, err := orchestrator.New(ctx, h.deps, identity.NewStaticProvider(id))
	if err != nil {
		log.Printf("Orchestrator setup failed: participant=%s err=%v", id.ParticipantID, err)
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}

	h.wireObservers(orch, conn)

	// Re-attach when the client reconnects into a session it is bound to.
	if sessionID := conn.SessionID(); sessionID != "" {
		if session, err := orch.AttachSession(ctx, sessionID); err != nil {
			h.sendError(conn, "attach", err)
		} else {
			h.sendEvent(conn, "session_update", session)
		}
	}

	log.Printf("Client connected: participant=%s role=%s session=%s",
		id.ParticipantID, id.Role, conn.SessionID())

	h.readLoop(ctx, conn, orch)

	// Unregister fires the armed cleanup actions: presence flips Offline
	// server-side even when the client vanished without a word.
	orch.Close()
	h.registry.Unregister(conn)
	_ = conn.Close()
	log.Printf("Client disconnected: participant=%s", id.ParticipantID)
}

func (h *Handler) authenticate(r *http.Request) (identity.Identity, error) {
	query := r.URL.Query()

	if token := query.Get("token"); token != "" && len(h.opts.TokenKey) > 0 {
		return identity.FromToken(token, h.opts.TokenKey)
	}

	id := identity.Identity{
		ParticipantID: query.Get("participant_id"),
		DisplayName:   query.Get("display_name"),
		Role:          types.Role(query.Get("role")),
	}
	if err := id.Validate(); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}

func (h *Handler) wireObservers(orch *orchestrator.Orchestrator, conn *Connection) {
	orch.OnSessionUpdate(func(s *types.Session) { h.sendEvent(conn, "session_update", s) })
	orch.OnProgressUpdate(func(s *types.Session) { h.sendEvent(conn, "progress_update", s) })
	orch.OnEmergencyUpdate(func(s *types.Session) { h.sendEvent(conn, "emergency_update", s) })
	orch.OnMessagesUpdate(func(s *types.Session) { h.sendEvent(conn, "messages_update", s) })
}

func (h *Handler) readLoop(ctx context.Context, conn *Connection, orch *orchestrator.Orchestrator) {
	for {
		if h.opts.ReadTimeout > 0 {
			_ = conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		}

		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(conn, "", ErrInvalidJSON)
			continue
		}

		if !h.limiter.Allow(conn.ParticipantID()) {
			h.sendError(conn, cmd.Op, ErrRateLimited)
			continue
		}

		h.dispatch(ctx, conn, orch, cmd)
	}
}

// dispatch routes one client command to the orchestrator. Errors go back
// to the client as payloads, never as dropped connections.
func (h *Handler) dispatch(ctx context.Context, conn *Connection, orch *orchestrator.Orchestrator, cmd command) {
	switch cmd.Op {
	case "heartbeat":
		h.handleHeartbeat(ctx, conn, cmd)

	case "arm":
		h.handleArm(ctx, conn, cmd.Scope)

	case "disarm":
		h.registry.DisarmCleanup(conn, cmd.Scope)
		h.sendAck(conn, cmd.Op)

	case "create_session":
		if cmd.Game == nil {
			h.sendError(conn, cmd.Op, ErrMissingField)
			return
		}
		settings := types.Settings{}
		if cmd.Settings != nil {
			settings = *cmd.Settings
		}
		session, err := orch.CreateSession(ctx, *cmd.Game, settings)
		if err != nil {
			h.sendError(conn, cmd.Op, err)
			return
		}
		conn.SetSessionID(session.ID)
		h.registry.BindSession(conn)
		h.sendEvent(conn, "session_update", session)

	case "join_session":
		session, err := orch.JoinSession(ctx, cmd.SessionID)
		if err != nil {
			h.sendError(conn, cmd.Op, err)
			return
		}
		conn.SetSessionID(session.ID)
		h.registry.BindSession(conn)
		h.sendEvent(conn, "session_update", session)

	case "start":
		h.replyErr(conn, cmd.Op, orch.StartSession(ctx))
	case "pause":
		h.replyErr(conn, cmd.Op, orch.PauseSession(ctx))
	case "resume":
		h.replyErr(conn, cmd.Op, orch.ResumeSession(ctx))
	case "end":
		h.replyErr(conn, cmd.Op, orch.EndSession(ctx))

	case "update_progress":
		if cmd.Progress == nil {
			h.sendError(conn, cmd.Op, ErrMissingField)
			return
		}
		if err := orch.UpdateProgress(ctx, *cmd.Progress); err != nil {
			h.sendError(conn, cmd.Op, err)
			return
		}
		// Metrics ride along with progress so the escalation subsystem can
		// react without a separate round trip.
		if cmd.Metrics != nil {
			if triggered, err := orch.ReportMetrics(ctx, cmd.Metrics.toMetrics()); err != nil {
				h.sendError(conn, cmd.Op, err)
			} else if triggered {
				log.Printf("Auto-escalation triggered: participant=%s session=%s",
					conn.ParticipantID(), conn.SessionID())
			}
		}
		h.sendAck(conn, cmd.Op)

	case "report_metrics":
		if cmd.Metrics == nil {
			h.sendError(conn, cmd.Op, ErrMissingField)
			return
		}
		triggered, err := orch.ReportMetrics(ctx, cmd.Metrics.toMetrics())
		if err != nil {
			h.sendError(conn, cmd.Op, err)
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "ack", "op": cmd.Op, "triggered": triggered})

	case "next_phase":
		h.replyErr(conn, cmd.Op, orch.NextPhase(ctx))

	case "update_score":
		h.replyErr(conn, cmd.Op, orch.UpdateScore(ctx, cmd.Role, cmd.Score))

	case "send_message":
		h.replyErr(conn, cmd.Op, orch.SendMessage(ctx, cmd.Body, cmd.Type))

	case "mark_read":
		h.replyErr(conn, cmd.Op, orch.MarkMessageRead(ctx, cmd.MessageID))

	case "emergency_call":
		callID, err := orch.SendEmergencyCall(ctx, cmd.Reason, cmd.Note, cmd.Urgent)
		if err != nil {
			h.sendError(conn, cmd.Op, err)
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "ack", "op": cmd.Op, "call_id": callID})

	case "resolve_emergency":
		h.replyErr(conn, cmd.Op, orch.ResolveEmergencyCall(ctx))

	case "leave":
		sessionID := conn.SessionID()
		err := orch.LeaveSession(ctx)
		h.registry.DisarmCleanup(conn, presence.CleanupScopeSession+sessionID)
		conn.SetSessionID("")
		h.replyErr(conn, cmd.Op, err)

	default:
		h.sendError(conn, cmd.Op, ErrUnknownCommand)
	}
}

// handleHeartbeat re-asserts the participant's presence inside the bound
// session.
func (h *Handler) handleHeartbeat(ctx context.Context, conn *Connection, cmd command) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		h.sendAck(conn, cmd.Op)
		return
	}

	status := types.ConnectionStatus(cmd.Status)
	if status != types.ConnOnline && status != types.ConnAway {
		status = types.ConnOnline
	}

	_, err := h.deps.Store.Update(ctx, sessionID,
		store.SetConnection(conn.Role(), status, time.Now()))
	if err != nil && !store.IsNotFound(err) {
		h.sendError(conn, cmd.Op, err)
		return
	}
	h.sendAck(conn, cmd.Op)
}

// handleArm stores the server-side disconnect action for a scope. The
// action resolves its target session at fire time, so a cleanup armed
// before joining still covers the session the client ends up in.
func (h *Handler) handleArm(ctx context.Context, conn *Connection, scope string) {
	role := conn.Role()
	h.registry.ArmCleanup(conn, scope, func() {
		sessionID := conn.SessionID()
		if len(scope) > len(presence.CleanupScopeSession) && scope[:len(presence.CleanupScopeSession)] == presence.CleanupScopeSession {
			sessionID = scope[len(presence.CleanupScopeSession):]
		}
		if sessionID == "" {
			return
		}
		_, err := h.deps.Store.Update(context.Background(), sessionID,
			store.SetConnection(role, types.ConnOffline, time.Now()))
		if err != nil && !store.IsNotFound(err) {
			log.Printf("Cleanup action failed: session=%s err=%v", sessionID, err)
		}
	})
	h.sendAck(conn, "arm")
}

func (h *Handler) sendAck(conn *Connection, op string) {
	_ = conn.WriteJSON(map[string]any{"type": "ack", "op": op})
}

func (h *Handler) replyErr(conn *Connection, op string, err error) {
	if err != nil {
		h.sendError(conn, op, err)
		return
	}
	h.sendAck(conn, op)
}

func (h *Handler) sendError(conn *Connection, op string, err error) {
	payload := map[string]any{
		"type":  "error",
		"error": err.Error(),
	}
	if op != "" {
		payload["op"] = op
	}
	if writeErr := conn.WriteJSON(payload); writeErr != nil {
		log.Printf("Failed to send error to %s: %v", conn.ParticipantID(), writeErr)
	}
}

func (h *Handler) sendEvent(conn *Connection, eventType string, session *types.Session) {
	if err := conn.WriteJSON(map[string]any{
		"type":      eventType,
		"session":   session,
		"timestamp": time.Now(),
	}); err != nil {
		log.Printf("Failed to push %s to %s: %v", eventType, conn.ParticipantID(), err)
	}
}
