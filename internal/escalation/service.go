package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"cockpit/internal/store"
	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Service implements manual help requests, metric-driven auto-detection,
// the resolution workflow, and automatic difficulty-tier adjustment.
type Service struct {
	store      interfaces.SessionStore
	access     interfaces.AccessController
	thresholds Thresholds
	now        func() time.Time
}

// NewService creates the escalation service. Pass DefaultThresholds unless
// product tuning says otherwise.
func NewService(sessionStore interfaces.SessionStore, access interfaces.AccessController, thresholds Thresholds) *Service {
	return &Service{
		store:      sessionStore,
		access:     access,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// CreateCall writes the emergency call, steps difficulty by the delta if
// nonzero (clamped to the tier list), and appends the automatic
// encouragement message - all as one atomic store update. A second create
// while a call is unresolved is rejected, not merged.
func (s *Service) CreateCall(ctx context.Context, sessionID string, from types.Role, reason, note string, urgent, autoDetected bool, difficultyDelta int) (string, error) {
	if !s.access.HasPermission(from, interfaces.PermEmergencySend) {
		return "", interfaces.ErrUnauthorized
	}

	call := types.EmergencyCall{
		ID:           uuid.New().String(),
		From:         from,
		Reason:       reason,
		Note:         note,
		Urgent:       urgent,
		AutoDetected: autoDetected,
		CreatedAt:    s.now(),
	}

	patches := []interfaces.Patch{store.SetEmergencyCall(call)}
	if difficultyDelta != 0 {
		patches = append(patches, store.StepDifficulty(difficultyDelta))
	}
	patches = append(patches, store.AppendMessage(types.Message{
		From: from,
		Body: EncouragementFor(reason),
		Type: types.MessageEncouragement,
	}))

	if _, err := s.store.Update(ctx, sessionID, patches...); err != nil {
		return "", err
	}

	log.Printf("Emergency call created: session=%s reason=%s urgent=%t auto=%t delta=%d",
		sessionID, reason, urgent, autoDetected, difficultyDelta)
	return call.ID, nil
}

// ResolveCall marks the active call resolved and appends the resolution
// confirmation message. Restricted to the captain role. Resolving an
// absent or already-resolved call is a no-op.
func (s *Service) ResolveCall(ctx context.Context, sessionID string, by types.Role) error {
	if !s.access.HasPermission(by, interfaces.PermEmergencyReceive) {
		return interfaces.ErrUnauthorized
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.HasActiveCall() {
		return nil
	}

	_, err = s.store.Update(ctx, sessionID,
		store.ResolveEmergencyCall(s.now()),
		store.AppendMessage(types.Message{
			From: by,
			Body: resolutionConfirmation,
			Type: types.MessageEncouragement,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve call: %w", err)
	}

	log.Printf("Emergency call resolved: session=%s by=%s", sessionID, by)
	return nil
}

// SendEncouragement appends an encouragement message outside the call flow.
func (s *Service) SendEncouragement(ctx context.Context, sessionID string, from types.Role, body string, mt types.MessageType) error {
	_, err := s.store.Update(ctx, sessionID, store.AppendMessage(types.Message{
		From: from,
		Body: body,
		Type: mt,
	}))
	return err
}

// ApplyDifficultyAdjustment steps the session difficulty by delta, clamped
// to the six-tier list.
func (s *Service) ApplyDifficultyAdjustment(ctx context.Context, sessionID string, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := s.store.Update(ctx, sessionID, store.StepDifficulty(delta))
	return err
}

// DetectEmergencyConditions evaluates the four metrics against their
// thresholds in fixed priority order. The first exceeded threshold raises
// exactly one auto-detected call; a session with an active call never
// escalates again.
func (s *Service) DetectEmergencyConditions(ctx context.Context, sessionID string, metrics types.ProgressMetrics) (bool, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.HasActiveCall() {
		return false, nil
	}

	for _, r := range rules {
		if !r.exceeded(s.thresholds, metrics) {
			continue
		}
		_, err := s.CreateCall(ctx, sessionID, types.RoleCoPilot, r.reason, "", false, true, r.delta)
		if err != nil {
			// A concurrent caller raised a call between the pre-check and
			// the write; the session is escalated either way.
			if errors.Is(err, interfaces.ErrCallAlreadyActive) {
				return false, nil
			}
			return false, fmt.Errorf("auto-escalation failed: %w", err)
		}
		return true, nil
	}
	return false, nil
}
