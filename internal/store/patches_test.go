package store

import (
	"testing"
	"time"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

func baseSession() *types.Session {
	return &types.Session{
		ID:      "session-1",
		Status:  types.StatusWaiting,
		Captain: types.Participant{ID: "captain-1", DisplayName: "Cap", Role: types.RoleCaptain},
		Game:    types.GameState{Type: "navigation", Difficulty: types.DifficultyBeginner, Phase: 0, TotalPhases: 3},
	}
}

func TestSetStatus_SameStatusIsNoOp(t *testing.T) {
	session := baseSession()
	if err := SetStatus(types.StatusWaiting).Apply(session); err != nil {
		t.Errorf("Same-status transition should be a no-op, got %v", err)
	}
}

func TestSetStatus_RejectsForbiddenTransition(t *testing.T) {
	session := baseSession()
	if err := SetStatus(types.StatusPaused).Apply(session); err != types.ErrInvalidTransition {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if session.Status != types.StatusWaiting {
		t.Error("Rejected transition should not mutate the session")
	}
}

func TestBindCoPilot_SlotOccupancy(t *testing.T) {
	session := baseSession()
	first := types.Participant{ID: "copilot-1", DisplayName: "Co", Role: types.RoleCoPilot}
	second := types.Participant{ID: "copilot-2", DisplayName: "Other", Role: types.RoleCoPilot}

	if err := BindCoPilot(first).Apply(session); err != nil {
		t.Fatalf("First bind should succeed: %v", err)
	}
	if err := BindCoPilot(second).Apply(session); err != interfaces.ErrSlotOccupied {
		t.Errorf("Second bind should fail with ErrSlotOccupied, got %v", err)
	}

	// Rebinding the same participant refreshes the record.
	first.DisplayName = "Co Updated"
	if err := BindCoPilot(first).Apply(session); err != nil {
		t.Errorf("Rebinding the same participant should succeed: %v", err)
	}
	if session.CoPilot.DisplayName != "Co Updated" {
		t.Error("Rebind should refresh the participant record")
	}
}

func TestBindCoPilot_RejectsCaptainRole(t *testing.T) {
	session := baseSession()
	captain := types.Participant{ID: "captain-2", DisplayName: "Cap", Role: types.RoleCaptain}
	if err := BindCoPilot(captain).Apply(session); err != types.ErrInvalidRole {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestVacateCoPilot(t *testing.T) {
	session := baseSession()
	session.CoPilot = &types.Participant{ID: "copilot-1", Role: types.RoleCoPilot}

	if err := VacateCoPilot().Apply(session); err != nil {
		t.Fatalf("Vacate should succeed: %v", err)
	}
	if session.CoPilot != nil {
		t.Error("CoPilot slot should be empty after vacate")
	}
}

func TestSetConnection_ToleratesVacatedCoPilot(t *testing.T) {
	session := baseSession()
	at := time.Now()

	if err := SetConnection(types.RoleCoPilot, types.ConnOffline, at).Apply(session); err != nil {
		t.Errorf("Marking a vacated copilot should be a no-op, got %v", err)
	}

	if err := SetConnection(types.RoleCaptain, types.ConnAway, at).Apply(session); err != nil {
		t.Fatalf("Captain connection update should succeed: %v", err)
	}
	if session.Captain.Connection != types.ConnAway {
		t.Error("Captain connection should be updated")
	}
	if !session.Captain.LastActive.Equal(at) {
		t.Error("LastActive should be refreshed")
	}
}

func TestNextPhase_CapsAtFinalPhase(t *testing.T) {
	session := baseSession()

	for i := 0; i < 5; i++ {
		if err := NextPhase().Apply(session); err != nil {
			t.Fatalf("NextPhase should succeed: %v", err)
		}
	}
	if session.Game.Phase != session.Game.TotalPhases-1 {
		t.Errorf("Phase should cap at %d, got %d", session.Game.TotalPhases-1, session.Game.Phase)
	}
	if session.Progress.Phase != session.Game.Phase {
		t.Error("Progress phase should track game phase")
	}
}

func TestStepDifficulty_Clamps(t *testing.T) {
	session := baseSession()
	session.Game.Difficulty = types.DifficultyVeryEasy

	if err := StepDifficulty(-1).Apply(session); err != nil {
		t.Fatalf("StepDifficulty should succeed: %v", err)
	}
	if session.Game.Difficulty != types.DifficultyVeryEasy {
		t.Errorf("Stepping below the easiest tier should clamp, got %s", session.Game.Difficulty)
	}
}

func TestAppendMessage_AssignsIDAndTimestamp(t *testing.T) {
	session := baseSession()

	if err := AppendMessage(types.Message{From: types.RoleCaptain, Body: "hello", Type: types.MessageText}).Apply(session); err != nil {
		t.Fatalf("Append should succeed: %v", err)
	}

	if len(session.Communication.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(session.Communication.Messages))
	}
	msg := session.Communication.Messages[0]
	if msg.ID == "" {
		t.Error("Message ID should be assigned")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Message timestamp should be assigned")
	}
}

func TestAppendMessage_RejectsInvalid(t *testing.T) {
	session := baseSession()
	if err := AppendMessage(types.Message{From: types.RoleCaptain, Body: "", Type: types.MessageText}).Apply(session); err != types.ErrEmptyMessageBody {
		t.Errorf("Expected ErrEmptyMessageBody, got %v", err)
	}
}

func TestMarkMessageRead_UnknownIDIsNoOp(t *testing.T) {
	session := baseSession()
	if err := MarkMessageRead("missing").Apply(session); err != nil {
		t.Errorf("Unknown message ID should be a no-op, got %v", err)
	}
}

func TestSetEmergencyCall_RejectsWhileActive(t *testing.T) {
	session := baseSession()

	if err := SetEmergencyCall(types.EmergencyCall{From: types.RoleCoPilot, Reason: "too_difficult"}).Apply(session); err != nil {
		t.Fatalf("First call should succeed: %v", err)
	}
	if !session.HasActiveCall() {
		t.Fatal("Call slot should be occupied")
	}

	err := SetEmergencyCall(types.EmergencyCall{From: types.RoleCoPilot, Reason: "too_fast"}).Apply(session)
	if err != interfaces.ErrCallAlreadyActive {
		t.Errorf("Second call while active should fail with ErrCallAlreadyActive, got %v", err)
	}
	if session.Communication.EmergencyCall.Reason != "too_difficult" {
		t.Error("Rejected call must not merge into the active one")
	}
}

func TestSetEmergencyCall_OverwritesResolvedCall(t *testing.T) {
	session := baseSession()

	if err := SetEmergencyCall(types.EmergencyCall{From: types.RoleCoPilot, Reason: "too_difficult"}).Apply(session); err != nil {
		t.Fatalf("First call should succeed: %v", err)
	}
	if err := ResolveEmergencyCall(time.Now()).Apply(session); err != nil {
		t.Fatalf("Resolve should succeed: %v", err)
	}

	if err := SetEmergencyCall(types.EmergencyCall{From: types.RoleCoPilot, Reason: "too_fast"}).Apply(session); err != nil {
		t.Errorf("A resolved slot should accept a fresh call, got %v", err)
	}
	if session.Communication.EmergencyCall.Reason != "too_fast" {
		t.Error("Fresh call should occupy the slot")
	}
	if session.Communication.EmergencyCall.Resolved {
		t.Error("Fresh call should start unresolved")
	}
}

func TestResolveEmergencyCall_NoOpCases(t *testing.T) {
	session := baseSession()
	at := time.Now()

	if err := ResolveEmergencyCall(at).Apply(session); err != nil {
		t.Errorf("Resolving with no call should be a no-op, got %v", err)
	}

	if err := SetEmergencyCall(types.EmergencyCall{From: types.RoleCoPilot, Reason: "too_difficult"}).Apply(session); err != nil {
		t.Fatalf("Call create failed: %v", err)
	}
	if err := ResolveEmergencyCall(at).Apply(session); err != nil {
		t.Fatalf("Resolve should succeed: %v", err)
	}
	firstResolvedAt := *session.Communication.EmergencyCall.ResolvedAt

	later := at.Add(time.Minute)
	if err := ResolveEmergencyCall(later).Apply(session); err != nil {
		t.Errorf("Double resolve should be a no-op, got %v", err)
	}
	if !session.Communication.EmergencyCall.ResolvedAt.Equal(firstResolvedAt) {
		t.Error("Double resolve should not restamp the resolution time")
	}
}
