package store

import (
	"time"

	"github.com/google/uuid"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Patch constructors. Each touches only its own fields so concurrent writes
// from the two clients merge instead of clobbering each other. Invariants
// (status transitions, slot occupancy, single active call) are enforced
// here, on the write path, under the store lock.

// SetStatus transitions the session status, rejecting transitions the
// state machine forbids.
func SetStatus(next types.SessionStatus) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicSession,
		Apply: func(s *types.Session) error {
			if s.Status == next {
				return nil
			}
			if !s.Status.CanTransitionTo(next) {
				return types.ErrInvalidTransition
			}
			s.Status = next
			return nil
		},
	}
}

// BindCoPilot fills the copilot slot. Rejected while another copilot is
// bound; rebinding the same participant refreshes their record.
func BindCoPilot(copilot types.Participant) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicSession,
		Apply: func(s *types.Session) error {
			if err := copilot.Validate(); err != nil {
				return err
			}
			if copilot.Role != types.RoleCoPilot {
				return types.ErrInvalidRole
			}
			if s.CoPilot != nil && s.CoPilot.ID != copilot.ID {
				return interfaces.ErrSlotOccupied
			}
			s.CoPilot = &copilot
			return nil
		},
	}
}

// VacateCoPilot clears the copilot slot without destroying the session.
func VacateCoPilot() interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicSession,
		Apply: func(s *types.Session) error {
			s.CoPilot = nil
			return nil
		},
	}
}

// SetConnection updates one participant's presence within the session and
// refreshes their last-active timestamp.
func SetConnection(role types.Role, status types.ConnectionStatus, at time.Time) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicSession,
		Apply: func(s *types.Session) error {
			switch role {
			case types.RoleCaptain:
				s.Captain.Connection = status
				s.Captain.LastActive = at
			case types.RoleCoPilot:
				if s.CoPilot == nil {
					return nil // copilot already vacated; nothing to mark
				}
				s.CoPilot.Connection = status
				s.CoPilot.LastActive = at
			default:
				return types.ErrInvalidRole
			}
			return nil
		},
	}
}

// SetProgress replaces the progress snapshot and keeps the game phase in
// step with it.
func SetProgress(progress types.Progress) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicProgress,
		Apply: func(s *types.Session) error {
			s.Progress = progress
			s.Game.Phase = progress.Phase
			return nil
		},
	}
}

// NextPhase advances the game one phase, capped at the final phase.
func NextPhase() interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicProgress,
		Apply: func(s *types.Session) error {
			if s.Game.Phase < s.Game.TotalPhases-1 {
				s.Game.Phase++
				s.Progress.Phase = s.Game.Phase
			}
			return nil
		},
	}
}

// SetScore writes one role's score and recomputes the combined total.
func SetScore(role types.Role, score int) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicProgress,
		Apply: func(s *types.Session) error {
			switch role {
			case types.RoleCaptain:
				s.Scores.Captain = score
			case types.RoleCoPilot:
				s.Scores.CoPilot = score
			default:
				return types.ErrInvalidRole
			}
			s.Scores.Combined = s.Scores.Captain + s.Scores.CoPilot
			return nil
		},
	}
}

// StepDifficulty steps the difficulty tier by delta, clamped to the
// ordered tier list.
func StepDifficulty(delta int) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicSession,
		Apply: func(s *types.Session) error {
			s.Game.Difficulty = s.Game.Difficulty.Step(delta)
			return nil
		},
	}
}

// AppendMessage appends to the session's ordered message list, assigning
// the message ID and timestamp if unset.
func AppendMessage(msg types.Message) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicMessages,
		Apply: func(s *types.Session) error {
			if err := msg.Validate(); err != nil {
				return err
			}
			if msg.ID == "" {
				msg.ID = uuid.New().String()
			}
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			s.Communication.Messages = append(s.Communication.Messages, msg)
			return nil
		},
	}
}

// MarkMessageRead flags one message as read. Unknown IDs are a no-op.
func MarkMessageRead(messageID string) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicMessages,
		Apply: func(s *types.Session) error {
			for i := range s.Communication.Messages {
				if s.Communication.Messages[i].ID == messageID {
					s.Communication.Messages[i].Read = true
					return nil
				}
			}
			return nil
		},
	}
}

// SetEmergencyCall occupies the call slot. Rejected while an unresolved
// active call exists; a resolved call may be overwritten.
func SetEmergencyCall(call types.EmergencyCall) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicEmergency,
		Apply: func(s *types.Session) error {
			if s.HasActiveCall() {
				return interfaces.ErrCallAlreadyActive
			}
			if call.ID == "" {
				call.ID = uuid.New().String()
			}
			if call.CreatedAt.IsZero() {
				call.CreatedAt = time.Now()
			}
			call.Active = true
			call.Resolved = false
			call.ResolvedAt = nil
			s.Communication.EmergencyCall = &call
			return nil
		},
	}
}

// ResolveEmergencyCall marks the active call resolved and stamps the
// resolution time. Resolving an absent or already-resolved call is a
// no-op, not an error.
func ResolveEmergencyCall(at time.Time) interfaces.Patch {
	return interfaces.Patch{
		Topic: interfaces.TopicEmergency,
		Apply: func(s *types.Session) error {
			call := s.Communication.EmergencyCall
			if call == nil || call.Resolved || !call.Active {
				return nil
			}
			call.Active = false
			call.Resolved = true
			call.ResolvedAt = &at
			return nil
		},
	}
}
