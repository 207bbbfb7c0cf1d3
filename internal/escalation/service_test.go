package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cockpit/internal/access"
	"cockpit/internal/store"
	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Minimal in-memory persistence so the real store can back the service.
type memPersistence struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
}

func newMemPersistence() *memPersistence {
	return &memPersistence{sessions: make(map[string]*types.Session)}
}

func (m *memPersistence) SaveSession(ctx context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *memPersistence) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (m *memPersistence) ListOpenSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}

func (m *memPersistence) AppendMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	return nil
}

func (m *memPersistence) HealthCheck(ctx context.Context) error { return nil }
func (m *memPersistence) Close() error                          { return nil }

func newTestService(t *testing.T) (*Service, *store.Store, *types.Session) {
	t.Helper()

	sessions := store.NewStore(newMemPersistence())
	captain := types.Participant{ID: "captain-1", DisplayName: "Cap", Role: types.RoleCaptain}
	game := types.GameState{Type: "navigation", Difficulty: types.DifficultyIntermediate, TotalPhases: 3}

	session, err := sessions.Create(context.Background(), captain, game, types.Settings{})
	if err != nil {
		t.Fatalf("Session create failed: %v", err)
	}

	service := NewService(sessions, access.NewMatrix(), DefaultThresholds())
	return service, sessions, session
}

func countByType(session *types.Session, mt types.MessageType) int {
	count := 0
	for _, msg := range session.Communication.Messages {
		if msg.Type == mt {
			count++
		}
	}
	return count
}

func TestService_CreateCallWritesCallAndEncouragement(t *testing.T) {
	service, sessions, session := newTestService(t)
	ctx := context.Background()

	callID, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonNeedExplanation, "phase 2 grid", true, false, 0)
	if err != nil {
		t.Fatalf("CreateCall should succeed: %v", err)
	}
	if callID == "" {
		t.Error("CreateCall should return the call ID")
	}

	current, err := sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	call := current.Communication.EmergencyCall
	if call == nil || !call.Active || call.Resolved {
		t.Fatal("Call slot should hold an active unresolved call")
	}
	if call.From != types.RoleCoPilot || call.Reason != ReasonNeedExplanation {
		t.Errorf("Call should carry sender and reason, got %+v", call)
	}
	if !call.Urgent || call.AutoDetected {
		t.Error("Manual urgent call flags should be preserved")
	}
	if call.Note != "phase 2 grid" {
		t.Errorf("Call note should be preserved, got %q", call.Note)
	}

	if countByType(current, types.MessageEncouragement) != 1 {
		t.Error("Call creation should append one encouragement message")
	}
	if current.Game.Difficulty != types.DifficultyIntermediate {
		t.Error("Zero delta should leave difficulty untouched")
	}
}

func TestService_CreateCallStepsDifficulty(t *testing.T) {
	service, sessions, session := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonTooDifficult, "", false, true, -1); err != nil {
		t.Fatalf("CreateCall should succeed: %v", err)
	}

	current, _ := sessions.Get(ctx, session.ID)
	if current.Game.Difficulty != types.DifficultyBeginner {
		t.Errorf("Difficulty should step down one tier, got %s", current.Game.Difficulty)
	}
}

func TestService_CreateCallRejectedWhileActive(t *testing.T) {
	service, _, session := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonTooDifficult, "", false, false, 0); err != nil {
		t.Fatalf("First call should succeed: %v", err)
	}

	_, err := service.CreateCall(ctx, session.ID, types.RoleCaptain, ReasonTooFast, "", false, false, 0)
	if !errors.Is(err, interfaces.ErrCallAlreadyActive) {
		t.Errorf("Second call while active should be rejected, got %v", err)
	}
}

func TestService_CreateCallRequiresSendPermission(t *testing.T) {
	service, _, session := newTestService(t)

	_, err := service.CreateCall(context.Background(), session.ID, "navigator", ReasonTooDifficult, "", false, false, 0)
	if !errors.Is(err, interfaces.ErrUnauthorized) {
		t.Errorf("Unknown role should be unauthorized, got %v", err)
	}
}

func TestService_ResolveCallAppendsConfirmation(t *testing.T) {
	service, sessions, session := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonDontUnderstand, "", false, false, 0); err != nil {
		t.Fatalf("Call create failed: %v", err)
	}

	if err := service.ResolveCall(ctx, session.ID, types.RoleCaptain); err != nil {
		t.Fatalf("ResolveCall should succeed: %v", err)
	}

	current, _ := sessions.Get(ctx, session.ID)
	call := current.Communication.EmergencyCall
	if call == nil || !call.Resolved || call.Active {
		t.Fatal("Call should be resolved")
	}
	if call.ResolvedAt == nil {
		t.Error("Resolution time should be stamped")
	}
	if countByType(current, types.MessageEncouragement) != 2 {
		t.Error("Resolution should append a confirmation message")
	}
}

func TestService_ResolveCallCoPilotDenied(t *testing.T) {
	service, _, session := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonTooDifficult, "", false, false, 0); err != nil {
		t.Fatalf("Call create failed: %v", err)
	}

	err := service.ResolveCall(ctx, session.ID, types.RoleCoPilot)
	if !errors.Is(err, interfaces.ErrUnauthorized) {
		t.Errorf("CoPilot resolve should be unauthorized, got %v", err)
	}
}

func TestService_ResolveCallWithoutCallIsNoOp(t *testing.T) {
	service, _, session := newTestService(t)
	if err := service.ResolveCall(context.Background(), session.ID, types.RoleCaptain); err != nil {
		t.Errorf("Resolving with no active call should be a no-op, got %v", err)
	}
}

func TestService_DetectionPriorityOrder(t *testing.T) {
	cases := []struct {
		name       string
		metrics    types.ProgressMetrics
		reason     string
		difficulty types.Difficulty
	}{
		{
			name:       "consecutive failures win over everything",
			metrics:    types.ProgressMetrics{ConsecutiveFailures: 5, TimeOnCurrentItem: 10 * time.Minute, AccuracyDrop: 0.5, Inactivity: 5 * time.Minute},
			reason:     ReasonTooDifficult,
			difficulty: types.DifficultyBeginner,
		},
		{
			name:       "stuck time beats accuracy and inactivity",
			metrics:    types.ProgressMetrics{TimeOnCurrentItem: 6 * time.Minute, AccuracyDrop: 0.5, Inactivity: 5 * time.Minute},
			reason:     ReasonNeedExplanation,
			difficulty: types.DifficultyIntermediate,
		},
		{
			name:       "accuracy drop beats inactivity",
			metrics:    types.ProgressMetrics{AccuracyDrop: 0.30, Inactivity: 5 * time.Minute},
			reason:     ReasonTooFast,
			difficulty: types.DifficultyBeginner,
		},
		{
			name:       "inactivity alone",
			metrics:    types.ProgressMetrics{Inactivity: 3 * time.Minute},
			reason:     ReasonDontUnderstand,
			difficulty: types.DifficultyIntermediate,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service, sessions, session := newTestService(t)
			ctx := context.Background()

			triggered, err := service.DetectEmergencyConditions(ctx, session.ID, tc.metrics)
			if err != nil {
				t.Fatalf("Detection failed: %v", err)
			}
			if !triggered {
				t.Fatal("Expected a call to be triggered")
			}

			current, _ := sessions.Get(ctx, session.ID)
			call := current.Communication.EmergencyCall
			if call == nil {
				t.Fatal("Call slot should be occupied")
			}
			if call.Reason != tc.reason {
				t.Errorf("Expected reason %s, got %s", tc.reason, call.Reason)
			}
			if !call.AutoDetected {
				t.Error("Detected call should be flagged auto-detected")
			}
			if current.Game.Difficulty != tc.difficulty {
				t.Errorf("Expected difficulty %s, got %s", tc.difficulty, current.Game.Difficulty)
			}
		})
	}
}

func TestService_DetectionBelowThresholds(t *testing.T) {
	service, _, session := newTestService(t)

	metrics := types.ProgressMetrics{
		ConsecutiveFailures: 4,
		TimeOnCurrentItem:   5 * time.Minute, // not strictly greater
		AccuracyDrop:        0.29,
		Inactivity:          2 * time.Minute, // not strictly greater
	}
	triggered, err := service.DetectEmergencyConditions(context.Background(), session.ID, metrics)
	if err != nil {
		t.Fatalf("Detection failed: %v", err)
	}
	if triggered {
		t.Error("Metrics below every threshold should not trigger")
	}
}

func TestService_DetectionSkipsActiveCall(t *testing.T) {
	service, sessions, session := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonTooDifficult, "", false, false, 0); err != nil {
		t.Fatalf("Call create failed: %v", err)
	}

	triggered, err := service.DetectEmergencyConditions(ctx, session.ID, types.ProgressMetrics{ConsecutiveFailures: 10})
	if err != nil {
		t.Fatalf("Detection should not error with an active call: %v", err)
	}
	if triggered {
		t.Error("Detection must not raise a second call while one is active")
	}

	current, _ := sessions.Get(ctx, session.ID)
	if current.Communication.EmergencyCall.Reason != ReasonTooDifficult {
		t.Error("Existing call should be untouched")
	}
}

func TestService_ApplyDifficultyAdjustment(t *testing.T) {
	service, sessions, session := newTestService(t)
	ctx := context.Background()

	if err := service.ApplyDifficultyAdjustment(ctx, session.ID, 2); err != nil {
		t.Fatalf("Adjustment failed: %v", err)
	}
	current, _ := sessions.Get(ctx, session.ID)
	if current.Game.Difficulty != types.DifficultyExpert {
		t.Errorf("Expected expert, got %s", current.Game.Difficulty)
	}

	before := current.Revision
	if err := service.ApplyDifficultyAdjustment(ctx, session.ID, 0); err != nil {
		t.Fatalf("Zero adjustment failed: %v", err)
	}
	current, _ = sessions.Get(ctx, session.ID)
	if current.Revision != before {
		t.Error("Zero delta should not write")
	}
}

func TestEncouragementFor(t *testing.T) {
	for _, reason := range []string{ReasonTooDifficult, ReasonNeedExplanation, ReasonTooFast, ReasonDontUnderstand} {
		if EncouragementFor(reason) == genericEncouragement {
			t.Errorf("Reason %s should have its own template", reason)
		}
	}
	if EncouragementFor("unknown") != genericEncouragement {
		t.Error("Unknown reason should fall back to the generic template")
	}
}

// staleReadStore makes reads miss the active call so the detection
// pre-check passes while the write path still rejects, the same window two
// concurrent detections race through.
type staleReadStore struct {
	interfaces.SessionStore
}

func (s *staleReadStore) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := s.SessionStore.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Communication.EmergencyCall = nil
	return session, nil
}

func TestService_DetectLosingRaceIsQuietNoOp(t *testing.T) {
	service, sessions, session := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateCall(ctx, session.ID, types.RoleCoPilot, ReasonTooDifficult, "", false, true, 0); err != nil {
		t.Fatalf("CreateCall should succeed: %v", err)
	}

	racing := NewService(&staleReadStore{SessionStore: sessions}, access.NewMatrix(), DefaultThresholds())
	triggered, err := racing.DetectEmergencyConditions(ctx, session.ID, types.ProgressMetrics{ConsecutiveFailures: 5})
	if err != nil {
		t.Fatalf("Losing the create race should be a no-op, got %v", err)
	}
	if triggered {
		t.Error("A rejected create should not report a trigger")
	}
}
