package interfaces

import "cockpit/pkg/types"

// Permission names one grantable capability in the role matrix.
type Permission string

const (
	PermSessionCreate    Permission = "session_create"
	PermSessionManage    Permission = "session_manage"
	PermSessionDelete    Permission = "session_delete"
	PermGameStart        Permission = "game_start"
	PermGamePause        Permission = "game_pause"
	PermGameEnd          Permission = "game_end"
	PermNextPhase        Permission = "next_phase"
	PermViewParticipants Permission = "view_participants"
	PermSubmitAnswer     Permission = "submit_answer"
	PermEmergencySend    Permission = "emergency_send"
	PermEmergencyReceive Permission = "emergency_receive"
	PermAnalytics        Permission = "analytics"
	PermDashboard        Permission = "dashboard"
)

// SessionAction names one mutating operation checked against a session.
type SessionAction string

const (
	ActionStart          SessionAction = "start"
	ActionPause          SessionAction = "pause"
	ActionEnd            SessionAction = "end"
	ActionNextPhase      SessionAction = "next_phase"
	ActionUpdateProgress SessionAction = "update_progress"
	ActionUpdateScore    SessionAction = "update_score"
	ActionSendMessage    SessionAction = "send_message"
	ActionSendEmergency  SessionAction = "send_emergency"
	ActionResolveCall    SessionAction = "resolve_call"
	ActionLeave          SessionAction = "leave"
)

// AccessController answers role and session-scoped authorization questions.
// Role possession alone is not sufficient for session actions: the
// participant must be the session's bound captain or copilot.
type AccessController interface {
	HasPermission(role types.Role, perm Permission) bool
	CanPerformSessionAction(action SessionAction, session *types.Session, participantID string) bool
}
