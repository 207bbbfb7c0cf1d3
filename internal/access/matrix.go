package access

import (
	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Matrix is the static role->permission lookup plus session-scoped
// authorization checks. It holds no mutable state; construct once per
// process and pass by reference.
type Matrix struct {
	grants      map[types.Role]map[interfaces.Permission]bool
	actionPerms map[interfaces.SessionAction][]interfaces.Permission
}

// NewMatrix creates the access control matrix with the fixed role grants.
func NewMatrix() *Matrix {
	return &Matrix{
		grants: map[types.Role]map[interfaces.Permission]bool{
			types.RoleCaptain: permSet(
				interfaces.PermSessionCreate,
				interfaces.PermSessionManage,
				interfaces.PermSessionDelete,
				interfaces.PermGameStart,
				interfaces.PermGamePause,
				interfaces.PermGameEnd,
				interfaces.PermNextPhase,
				interfaces.PermViewParticipants,
				interfaces.PermEmergencySend,
				interfaces.PermEmergencyReceive,
				interfaces.PermAnalytics,
				interfaces.PermDashboard,
			),
			types.RoleCoPilot: permSet(
				interfaces.PermViewParticipants,
				interfaces.PermSubmitAnswer,
				interfaces.PermEmergencySend,
			),
		},
		// Any listed permission authorizes the action. Progress and score
		// writes are open to both roles: the copilot through answer
		// submission, the captain through session management.
		actionPerms: map[interfaces.SessionAction][]interfaces.Permission{
			interfaces.ActionStart:          {interfaces.PermGameStart},
			interfaces.ActionPause:          {interfaces.PermGamePause},
			interfaces.ActionEnd:            {interfaces.PermGameEnd},
			interfaces.ActionNextPhase:      {interfaces.PermNextPhase},
			interfaces.ActionUpdateProgress: {interfaces.PermSubmitAnswer, interfaces.PermSessionManage},
			interfaces.ActionUpdateScore:    {interfaces.PermSubmitAnswer, interfaces.PermSessionManage},
			interfaces.ActionSendMessage:    {interfaces.PermEmergencySend, interfaces.PermEmergencyReceive},
			interfaces.ActionSendEmergency:  {interfaces.PermEmergencySend},
			interfaces.ActionResolveCall:    {interfaces.PermEmergencyReceive},
			interfaces.ActionLeave:          {interfaces.PermViewParticipants},
		},
	}
}

// HasPermission reports whether the role holds the permission.
func (m *Matrix) HasPermission(role types.Role, perm interfaces.Permission) bool {
	return m.grants[role][perm]
}

// CanPerformSessionAction checks role permission plus binding: the
// participant must be the session's bound captain or copilot. Role
// possession alone is not sufficient.
func (m *Matrix) CanPerformSessionAction(action interfaces.SessionAction, session *types.Session, participantID string) bool {
	if session == nil {
		return false
	}

	participant, bound := session.ParticipantByID(participantID)
	if !bound {
		return false
	}

	perms, known := m.actionPerms[action]
	if !known {
		return false
	}

	for _, perm := range perms {
		if m.grants[participant.Role][perm] {
			return true
		}
	}
	return false
}

func permSet(perms ...interfaces.Permission) map[interfaces.Permission]bool {
	set := make(map[interfaces.Permission]bool, len(perms))
	for _, perm := range perms {
		set[perm] = true
	}
	return set
}
