package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// APIServer is the small HTTP surface next to the websocket endpoint:
// health plus read access to session records for dashboards and tools.
// No coordination logic lives here.
type APIServer struct {
	store       interfaces.SessionStore
	persistence interfaces.SessionPersistence
	registry    *Registry
	router      *http.ServeMux
}

// NewAPIServer creates the HTTP API.
func NewAPIServer(sessionStore interfaces.SessionStore, persistence interfaces.SessionPersistence, registry *Registry) *APIServer {
	s := &APIServer{
		store:       sessionStore,
		persistence: persistence,
		registry:    registry,
		router:      http.NewServeMux(),
	}

	s.router.Handle("/api/sessions", s.jsonMiddleware(http.HandlerFunc(s.handleSessions)))
	s.router.Handle("/api/sessions/", s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID)))
	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))

	return s
}

// ServeHTTP implements http.Handler.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listOpenSessions(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *APIServer) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")[0]
	if sessionID == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSession(w, r, sessionID)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *APIServer) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to load session", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, session, http.StatusOK)
}

func (s *APIServer) listOpenSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.persistence.ListOpenSessions(r.Context())
	if err != nil {
		log.Printf("Session list failed: %v", err)
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	if sessions == nil {
		sessions = []*types.Session{}
	}
	s.sendJSON(w, map[string]any{"sessions": sessions}, http.StatusOK)
}

func (s *APIServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := s.persistence.HealthCheck(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		log.Printf("Health check failed: %v", err)
	}

	s.sendJSON(w, map[string]any{
		"status":      status,
		"connections": s.registry.Stats(),
		"timestamp":   time.Now(),
	}, code)
}

func (s *APIServer) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) sendJSON(w http.ResponseWriter, v any, code int) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *APIServer) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, map[string]string{"error": message}, code)
}
