package types

import (
	"time"
)

// Participant roles. A session binds at most one of each.
const (
	RoleCaptain Role = "captain"
	RoleCoPilot Role = "copilot"
)

type Role string

// Session lifecycle states. Transitions are monotonic except Active<->Paused.
const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
)

type SessionStatus string

// CanTransitionTo reports whether the status change is allowed by the
// session state machine.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusWaiting:
		return next == StatusActive || next == StatusCompleted
	case StatusActive:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusActive || next == StatusCompleted
	default:
		return false
	}
}

// Participant connection states. Away is a soft state: the participant keeps
// its session binding while backgrounded.
const (
	ConnOnline  ConnectionStatus = "online"
	ConnAway    ConnectionStatus = "away"
	ConnOffline ConnectionStatus = "offline"
)

type ConnectionStatus string

// Message types appearing in the session's ordered message list.
const (
	MessageText          MessageType = "text"
	MessageEncouragement MessageType = "encouragement"
	MessageSystem        MessageType = "system"
)

type MessageType string

// Participant is one of the two bound members of a session. Identity fields
// come from the external identity collaborator and are read-only here.
type Participant struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	Role        Role             `json:"role"`
	Connection  ConnectionStatus `json:"connection"`
	LastActive  time.Time        `json:"last_active"`
}

// GameState describes the current game the pair is working through.
type GameState struct {
	Type        string     `json:"type"`
	Difficulty  Difficulty `json:"difficulty"`
	Phase       int        `json:"phase"`
	TotalPhases int        `json:"total_phases"`
}

// Scores holds per-role scores plus the combined total the UI displays.
type Scores struct {
	Captain  int `json:"captain"`
	CoPilot  int `json:"copilot"`
	Combined int `json:"combined"`
}

// Settings are fixed at session creation.
type Settings struct {
	MaxDuration  time.Duration `json:"max_duration"`
	HintsAllowed bool          `json:"hints_allowed"`
}

// EmergencyCall is the single help-request slot of a session. At most one
// unresolved active call exists at a time; the write path rejects a second
// create while one is active.
type EmergencyCall struct {
	ID           string     `json:"id"`
	Active       bool       `json:"active"`
	From         Role       `json:"from"`
	Reason       string     `json:"reason"`
	Note         string     `json:"note,omitempty"`
	Urgent       bool       `json:"urgent"`
	AutoDetected bool       `json:"auto_detected"`
	Resolved     bool       `json:"resolved"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Message is one entry in a session's append-only message list.
type Message struct {
	ID        string      `json:"id"`
	From      Role        `json:"from"`
	Body      string      `json:"body"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Read      bool        `json:"read"`
}

// Communication groups the emergency-call slot and the message list.
type Communication struct {
	EmergencyCall *EmergencyCall `json:"emergency_call,omitempty"`
	Messages      []Message      `json:"messages"`
}

// Session is the shared aggregate both clients mutate. All contained
// entities are owned by the session; participants are identified by
// externally issued IDs.
type Session struct {
	ID            string        `json:"id"`
	Status        SessionStatus `json:"status"`
	Captain       Participant   `json:"captain"`
	CoPilot       *Participant  `json:"copilot,omitempty"`
	Game          GameState     `json:"game"`
	Scores        Scores        `json:"scores"`
	Settings      Settings      `json:"settings"`
	Communication Communication `json:"communication"`
	Progress      Progress      `json:"progress"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Revision      uint64        `json:"revision"`
}

// Progress is the game-specific progress snapshot, mutated on behalf of
// either role through the orchestrator.
type Progress struct {
	Phase   int            `json:"phase"`
	Role    Role           `json:"role,omitempty"`
	Score   int            `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ProgressMetrics feed emergency auto-detection. All four signals are
// independent; thresholds live in configuration.
type ProgressMetrics struct {
	ConsecutiveFailures int
	TimeOnCurrentItem   time.Duration
	AccuracyDrop        float64
	Inactivity          time.Duration
}

// Clone returns a deep copy safe to hand to subscribers while the store
// keeps mutating the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s

	if s.CoPilot != nil {
		cp := *s.CoPilot
		out.CoPilot = &cp
	}

	if s.Communication.EmergencyCall != nil {
		call := *s.Communication.EmergencyCall
		if s.Communication.EmergencyCall.ResolvedAt != nil {
			at := *s.Communication.EmergencyCall.ResolvedAt
			call.ResolvedAt = &at
		}
		out.Communication.EmergencyCall = &call
	}

	if s.Communication.Messages != nil {
		out.Communication.Messages = make([]Message, len(s.Communication.Messages))
		copy(out.Communication.Messages, s.Communication.Messages)
	}

	if s.Progress.Payload != nil {
		out.Progress.Payload = make(map[string]any, len(s.Progress.Payload))
		for k, v := range s.Progress.Payload {
			out.Progress.Payload[k] = v
		}
	}

	return &out
}

// ParticipantByID returns the bound participant with the given ID, if any.
func (s *Session) ParticipantByID(id string) (*Participant, bool) {
	if s.Captain.ID == id {
		return &s.Captain, true
	}
	if s.CoPilot != nil && s.CoPilot.ID == id {
		return s.CoPilot, true
	}
	return nil, false
}

// HasActiveCall reports whether an unresolved emergency call occupies the
// session's call slot.
func (s *Session) HasActiveCall() bool {
	call := s.Communication.EmergencyCall
	return call != nil && call.Active && !call.Resolved
}
