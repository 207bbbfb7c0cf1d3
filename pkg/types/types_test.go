package types

import (
	"testing"
	"time"
)

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{StatusWaiting, StatusActive, true},
		{StatusWaiting, StatusCompleted, true},
		{StatusWaiting, StatusPaused, false},
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusWaiting, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCompleted, true},
		{StatusPaused, StatusWaiting, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusWaiting, false},
		{StatusCompleted, StatusPaused, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %t, got %t", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	resolvedAt := time.Now()
	original := &Session{
		ID:     "session-1",
		Status: StatusActive,
		Captain: Participant{
			ID: "captain-1", DisplayName: "Cap", Role: RoleCaptain,
		},
		CoPilot: &Participant{
			ID: "copilot-1", DisplayName: "Co", Role: RoleCoPilot,
		},
		Communication: Communication{
			EmergencyCall: &EmergencyCall{
				ID: "call-1", Resolved: true, ResolvedAt: &resolvedAt,
			},
			Messages: []Message{
				{ID: "msg-1", Body: "hello", Type: MessageText},
			},
		},
		Progress: Progress{
			Payload: map[string]any{"item": "q1"},
		},
	}

	clone := original.Clone()

	clone.CoPilot.DisplayName = "Changed"
	if original.CoPilot.DisplayName != "Co" {
		t.Error("Clone should not share copilot pointer")
	}

	clone.Communication.EmergencyCall.Resolved = false
	if !original.Communication.EmergencyCall.Resolved {
		t.Error("Clone should not share emergency call pointer")
	}

	clone.Communication.Messages[0].Body = "changed"
	if original.Communication.Messages[0].Body != "hello" {
		t.Error("Clone should not share message slice backing array")
	}

	clone.Progress.Payload["item"] = "q2"
	if original.Progress.Payload["item"] != "q1" {
		t.Error("Clone should not share progress payload map")
	}
}

func TestSession_CloneNil(t *testing.T) {
	var s *Session
	if s.Clone() != nil {
		t.Error("Clone of nil session should be nil")
	}
}

func TestSession_ParticipantByID(t *testing.T) {
	session := &Session{
		Captain: Participant{ID: "captain-1", Role: RoleCaptain},
		CoPilot: &Participant{ID: "copilot-1", Role: RoleCoPilot},
	}

	if p, ok := session.ParticipantByID("captain-1"); !ok || p.Role != RoleCaptain {
		t.Error("Expected captain lookup to succeed")
	}
	if p, ok := session.ParticipantByID("copilot-1"); !ok || p.Role != RoleCoPilot {
		t.Error("Expected copilot lookup to succeed")
	}
	if _, ok := session.ParticipantByID("stranger"); ok {
		t.Error("Unknown participant should not be found")
	}

	session.CoPilot = nil
	if _, ok := session.ParticipantByID("copilot-1"); ok {
		t.Error("Vacated copilot should not be found")
	}
}

func TestSession_HasActiveCall(t *testing.T) {
	session := &Session{}
	if session.HasActiveCall() {
		t.Error("Empty call slot should not be active")
	}

	session.Communication.EmergencyCall = &EmergencyCall{Active: true}
	if !session.HasActiveCall() {
		t.Error("Active unresolved call should be reported")
	}

	session.Communication.EmergencyCall.Resolved = true
	session.Communication.EmergencyCall.Active = false
	if session.HasActiveCall() {
		t.Error("Resolved call should not be active")
	}
}

func TestParticipant_Validate(t *testing.T) {
	valid := Participant{ID: "captain-1", DisplayName: "Cap", Role: RoleCaptain}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid participant should pass: %v", err)
	}

	cases := []struct {
		name string
		p    Participant
		want error
	}{
		{"empty id", Participant{ID: "", DisplayName: "Cap", Role: RoleCaptain}, ErrInvalidParticipantID},
		{"bad characters", Participant{ID: "cap tain!", DisplayName: "Cap", Role: RoleCaptain}, ErrInvalidParticipantID},
		{"empty display name", Participant{ID: "captain-1", DisplayName: "", Role: RoleCaptain}, ErrInvalidDisplayName},
		{"unknown role", Participant{ID: "captain-1", DisplayName: "Cap", Role: "navigator"}, ErrInvalidRole},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.p.Validate(); err != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestGameState_Validate(t *testing.T) {
	valid := GameState{Type: "navigation", Difficulty: DifficultyBeginner, TotalPhases: 3}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid game state should pass: %v", err)
	}

	if err := (&GameState{Type: "", Difficulty: DifficultyBeginner, TotalPhases: 3}).Validate(); err != ErrInvalidGameType {
		t.Errorf("Expected ErrInvalidGameType, got %v", err)
	}
	if err := (&GameState{Type: "navigation", Difficulty: "nightmare", TotalPhases: 3}).Validate(); err != ErrInvalidDifficulty {
		t.Errorf("Expected ErrInvalidDifficulty, got %v", err)
	}
	if err := (&GameState{Type: "navigation", Difficulty: DifficultyBeginner, TotalPhases: 0}).Validate(); err != ErrInvalidPhaseCount {
		t.Errorf("Expected ErrInvalidPhaseCount, got %v", err)
	}
}

func TestMessage_Validate(t *testing.T) {
	valid := Message{Body: "hello", Type: MessageText}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid message should pass: %v", err)
	}

	if err := (&Message{Body: "", Type: MessageText}).Validate(); err != ErrEmptyMessageBody {
		t.Errorf("Expected ErrEmptyMessageBody, got %v", err)
	}
	if err := (&Message{Body: "hi", Type: "carrier-pigeon"}).Validate(); err != ErrInvalidMessageType {
		t.Errorf("Expected ErrInvalidMessageType, got %v", err)
	}

	long := make([]byte, 4097)
	for i := range long {
		long[i] = 'a'
	}
	if err := (&Message{Body: string(long), Type: MessageText}).Validate(); err != ErrMessageTooLarge {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
}
