package types

import (
	"regexp"
)

var participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidParticipantID checks if a participant ID meets format requirements.
func IsValidParticipantID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return participantIDRegex.MatchString(id)
}

// IsValidRole checks if the role is one of the two session roles.
func IsValidRole(role Role) bool {
	return role == RoleCaptain || role == RoleCoPilot
}

// IsValidMessageType checks if the message type is one of the allowed types.
func IsValidMessageType(mt MessageType) bool {
	switch mt {
	case MessageText, MessageEncouragement, MessageSystem:
		return true
	default:
		return false
	}
}

// Validate ensures the participant identity fields meet requirements.
func (p *Participant) Validate() error {
	if !IsValidParticipantID(p.ID) {
		return ErrInvalidParticipantID
	}
	if len(p.DisplayName) < 1 || len(p.DisplayName) > 100 {
		return ErrInvalidDisplayName
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Validate ensures a game descriptor is usable as session config.
func (g *GameState) Validate() error {
	if len(g.Type) < 1 || len(g.Type) > 50 {
		return ErrInvalidGameType
	}
	if !g.Difficulty.IsValid() {
		return ErrInvalidDifficulty
	}
	if g.TotalPhases < 1 {
		return ErrInvalidPhaseCount
	}
	return nil
}

// Validate ensures the message meets all requirements. Body limit keeps
// snapshot fan-out payloads bounded.
func (m *Message) Validate() error {
	if !IsValidMessageType(m.Type) {
		return ErrInvalidMessageType
	}
	if m.Body == "" {
		return ErrEmptyMessageBody
	}
	if len(m.Body) > 4096 {
		return ErrMessageTooLarge
	}
	return nil
}
