package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"cockpit/internal/escalation"
	"cockpit/internal/identity"
	"cockpit/internal/store"
	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Orchestrator is the facade one client uses against the coordination
// core. Every lifecycle call validates permission and session binding,
// delegates the mutation to the store, and keeps presence registrations in
// step. One orchestrator serves one participant context; construct per
// connection, never as a shared global.
type Orchestrator struct {
	store      interfaces.SessionStore
	access     interfaces.AccessController
	escalation *escalation.Service
	presence   interfaces.PresenceTracker
	provider   identity.Provider
	dispatcher *Dispatcher

	mu        sync.RWMutex
	sessionID string
	current   *types.Session
	subs      []interfaces.Subscription
}

// Deps bundles the process-wide services an orchestrator composes.
// Presence may be nil for server-side contexts that track connectivity
// through the gateway instead.
type Deps struct {
	Store      interfaces.SessionStore
	Access     interfaces.AccessController
	Escalation *escalation.Service
	Presence   interfaces.PresenceTracker
}

// New creates an orchestrator for the given participant and starts its
// event dispatcher.
func New(ctx context.Context, deps Deps, provider identity.Provider) (*Orchestrator, error) {
	if deps.Store == nil || deps.Access == nil || deps.Escalation == nil {
		return nil, ErrMissingDependency
	}
	if provider == nil {
		return nil, ErrMissingIdentity
	}

	o := &Orchestrator{
		store:      deps.Store,
		access:     deps.Access,
		escalation: deps.Escalation,
		presence:   deps.Presence,
		provider:   provider,
		dispatcher: NewDispatcher(),
	}
	if err := o.dispatcher.Start(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateSession creates a new session with the local participant as
// captain and attaches to it.
func (o *Orchestrator) CreateSession(ctx context.Context, game types.GameState, settings types.Settings) (*types.Session, error) {
	id, err := o.authenticatedIdentity()
	if err != nil {
		return nil, err
	}
	if !o.access.HasPermission(id.Role, interfaces.PermSessionCreate) {
		return nil, interfaces.ErrUnauthorized
	}

	session, err := o.store.Create(ctx, id.Participant(), game, settings)
	if err != nil {
		return nil, err
	}

	if err := o.attach(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// JoinSession binds the local participant into the copilot slot of an
// existing session and attaches to it. Rejected when the slot is taken by
// someone else or the session has completed.
func (o *Orchestrator) JoinSession(ctx context.Context, sessionID string) (*types.Session, error) {
	id, err := o.authenticatedIdentity()
	if err != nil {
		return nil, err
	}
	if id.Role != types.RoleCoPilot {
		return nil, interfaces.ErrUnauthorized
	}

	copilot := id.Participant()
	copilot.Connection = types.ConnOnline

	session, err := o.store.Update(ctx, sessionID, store.BindCoPilot(copilot))
	if err != nil {
		return nil, err
	}

	if err := o.attach(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// AttachSession re-attaches to a session the local participant is already
// bound to, e.g. after a reconnect. It rebuilds the four subscriptions
// without mutating the session.
func (o *Orchestrator) AttachSession(ctx context.Context, sessionID string) (*types.Session, error) {
	id, err := o.authenticatedIdentity()
	if err != nil {
		return nil, err
	}

	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, bound := session.ParticipantByID(id.ParticipantID); !bound {
		return nil, interfaces.ErrUnauthorized
	}

	if err := o.attach(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// StartSession transitions Waiting -> Active. Captain only.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	return o.transition(ctx, interfaces.ActionStart, types.StatusActive)
}

// PauseSession transitions Active -> Paused. Captain only.
func (o *Orchestrator) PauseSession(ctx context.Context) error {
	return o.transition(ctx, interfaces.ActionPause, types.StatusPaused)
}

// ResumeSession transitions Paused -> Active. Captain only.
func (o *Orchestrator) ResumeSession(ctx context.Context) error {
	return o.transition(ctx, interfaces.ActionStart, types.StatusActive)
}

// EndSession transitions to Completed. Captain only.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	return o.transition(ctx, interfaces.ActionEnd, types.StatusCompleted)
}

// UpdateProgress writes the progress snapshot on behalf of the local role.
func (o *Orchestrator) UpdateProgress(ctx context.Context, progress types.Progress) error {
	sessionID, err := o.authorize(ctx, interfaces.ActionUpdateProgress)
	if err != nil {
		return err
	}
	progress.Role = o.provider.Identity().Role
	_, err = o.store.Update(ctx, sessionID, store.SetProgress(progress))
	return err
}

// ReportMetrics feeds progress metrics to the escalation subsystem, which
// may raise an emergency call and adjust difficulty on its own. Returns
// whether a call was triggered.
func (o *Orchestrator) ReportMetrics(ctx context.Context, metrics types.ProgressMetrics) (bool, error) {
	sessionID, err := o.authorize(ctx, interfaces.ActionUpdateProgress)
	if err != nil {
		return false, err
	}
	return o.escalation.DetectEmergencyConditions(ctx, sessionID, metrics)
}

// NextPhase advances the game one phase. Captain only.
func (o *Orchestrator) NextPhase(ctx context.Context) error {
	sessionID, err := o.authorize(ctx, interfaces.ActionNextPhase)
	if err != nil {
		return err
	}
	_, err = o.store.Update(ctx, sessionID, store.NextPhase())
	return err
}

// UpdateScore writes one role's score.
func (o *Orchestrator) UpdateScore(ctx context.Context, role types.Role, score int) error {
	sessionID, err := o.authorize(ctx, interfaces.ActionUpdateScore)
	if err != nil {
		return err
	}
	_, err = o.store.Update(ctx, sessionID, store.SetScore(role, score))
	return err
}

// SendMessage appends a message from the local role.
func (o *Orchestrator) SendMessage(ctx context.Context, body string, mt types.MessageType) error {
	sessionID, err := o.authorize(ctx, interfaces.ActionSendMessage)
	if err != nil {
		return err
	}
	_, err = o.store.Update(ctx, sessionID, store.AppendMessage(types.Message{
		From: o.provider.Identity().Role,
		Body: body,
		Type: mt,
	}))
	return err
}

// MarkMessageRead flags a message as read.
func (o *Orchestrator) MarkMessageRead(ctx context.Context, messageID string) error {
	sessionID, err := o.authorize(ctx, interfaces.ActionSendMessage)
	if err != nil {
		return err
	}
	_, err = o.store.Update(ctx, sessionID, store.MarkMessageRead(messageID))
	return err
}

// SendEmergencyCall raises a manual help request from the local role.
func (o *Orchestrator) SendEmergencyCall(ctx context.Context, reason, note string, urgent bool) (string, error) {
	sessionID, err := o.authorize(ctx, interfaces.ActionSendEmergency)
	if err != nil {
		return "", err
	}
	return o.escalation.CreateCall(ctx, sessionID, o.provider.Identity().Role, reason, note, urgent, false, 0)
}

// ResolveEmergencyCall resolves the active call. Captain only.
func (o *Orchestrator) ResolveEmergencyCall(ctx context.Context) error {
	sessionID, err := o.authorize(ctx, interfaces.ActionResolveCall)
	if err != nil {
		return err
	}
	return o.escalation.ResolveCall(ctx, sessionID, o.provider.Identity().Role)
}

// LeaveSession tears down all four subscriptions unconditionally, then
// completes the session (captain) or vacates the copilot slot (copilot),
// leaving the session open for re-join.
func (o *Orchestrator) LeaveSession(ctx context.Context) error {
	o.mu.Lock()
	sessionID := o.sessionID
	subs := o.subs
	o.sessionID = ""
	o.current = nil
	o.subs = nil
	o.mu.Unlock()

	for _, sub := range subs {
		o.store.Unsubscribe(sub)
	}

	if sessionID == "" {
		return ErrNoActiveSession
	}

	if o.presence != nil {
		if err := o.presence.LeaveSession(ctx); err != nil {
			log.Printf("Presence leave failed: %v", err)
		}
	}

	id := o.provider.Identity()
	var err error
	switch id.Role {
	case types.RoleCaptain:
		_, err = o.store.Update(ctx, sessionID, store.SetStatus(types.StatusCompleted))
	case types.RoleCoPilot:
		_, err = o.store.Update(ctx, sessionID, store.VacateCoPilot())
	}
	if err != nil {
		// Completed sessions drop from the live cache; leaving one is
		// already done, not a failure.
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			log.Printf("Left session already completed: id=%s role=%s", sessionID, id.Role)
			return nil
		}
		return fmt.Errorf("leave cleanup failed: %w", err)
	}

	log.Printf("Left session: id=%s role=%s", sessionID, id.Role)
	return nil
}

// Close releases the orchestrator: subscriptions torn down, dispatcher
// stopped. The session itself is untouched.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	subs := o.subs
	o.subs = nil
	o.sessionID = ""
	o.current = nil
	o.mu.Unlock()

	for _, sub := range subs {
		o.store.Unsubscribe(sub)
	}
	o.dispatcher.Stop()
}

// SessionID returns the currently attached session id, empty if none.
func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionID
}

// Role returns the local participant's role.
func (o *Orchestrator) Role() types.Role {
	return o.provider.Identity().Role
}

// State returns the latest aggregated session snapshot, nil when detached.
func (o *Orchestrator) State() *types.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current.Clone()
}

// ConnectionStatus reports the local connection status.
func (o *Orchestrator) ConnectionStatus() types.ConnectionStatus {
	if o.presence == nil {
		return types.ConnOnline
	}
	return o.presence.Status()
}

// OnSessionUpdate registers a listener for session-record pushes.
func (o *Orchestrator) OnSessionUpdate(fn func(*types.Session)) int {
	return o.dispatcher.Register(interfaces.TopicSession, fn)
}

// OnProgressUpdate registers a listener for progress pushes.
func (o *Orchestrator) OnProgressUpdate(fn func(*types.Session)) int {
	return o.dispatcher.Register(interfaces.TopicProgress, fn)
}

// OnEmergencyUpdate registers a listener for emergency-call pushes.
func (o *Orchestrator) OnEmergencyUpdate(fn func(*types.Session)) int {
	return o.dispatcher.Register(interfaces.TopicEmergency, fn)
}

// OnMessagesUpdate registers a listener for message-list pushes.
func (o *Orchestrator) OnMessagesUpdate(fn func(*types.Session)) int {
	return o.dispatcher.Register(interfaces.TopicMessages, fn)
}

// RemoveObserver drops a listener registered through any On* method.
func (o *Orchestrator) RemoveObserver(id int) {
	o.dispatcher.Remove(id)
}

// attach subscribes to the four event categories and arms session-scoped
// presence.
func (o *Orchestrator) attach(ctx context.Context, session *types.Session) error {
	topics := []interfaces.Topic{
		interfaces.TopicSession,
		interfaces.TopicProgress,
		interfaces.TopicEmergency,
		interfaces.TopicMessages,
	}

	subs := make([]interfaces.Subscription, 0, len(topics))
	for _, topic := range topics {
		topic := topic
		sub, err := o.store.Subscribe(session.ID, topic, func(snapshot *types.Session) {
			o.mu.Lock()
			// A push carrying an older revision than the view we already
			// hold must not regress State().
			stale := o.current != nil && o.current.ID == snapshot.ID &&
				snapshot.Revision < o.current.Revision
			if !stale {
				o.current = snapshot
			}
			o.mu.Unlock()
			if stale {
				return
			}
			o.dispatcher.Publish(topic, snapshot)
		})
		if err != nil {
			for _, s := range subs {
				o.store.Unsubscribe(s)
			}
			return err
		}
		subs = append(subs, sub)
	}

	o.mu.Lock()
	previous := o.subs
	o.sessionID = session.ID
	o.current = session
	o.subs = subs
	o.mu.Unlock()

	// Re-attach replaces the subscription set; drop the old one.
	for _, sub := range previous {
		o.store.Unsubscribe(sub)
	}

	if o.presence != nil {
		if err := o.presence.EnterSession(ctx, session.ID); err != nil {
			log.Printf("Presence enter failed: %v", err)
		}
	}

	return nil
}

// transition runs an authorized status change.
func (o *Orchestrator) transition(ctx context.Context, action interfaces.SessionAction, next types.SessionStatus) error {
	sessionID, err := o.authorize(ctx, action)
	if err != nil {
		return err
	}
	_, err = o.store.Update(ctx, sessionID, store.SetStatus(next))
	return err
}

// authorize checks authentication, attachment, permission, and binding.
// Failure is a local, non-fatal Unauthorized result; no mutation happens.
func (o *Orchestrator) authorize(ctx context.Context, action interfaces.SessionAction) (string, error) {
	id, err := o.authenticatedIdentity()
	if err != nil {
		return "", err
	}

	o.mu.RLock()
	sessionID := o.sessionID
	o.mu.RUnlock()
	if sessionID == "" {
		return "", ErrNoActiveSession
	}

	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if !o.access.CanPerformSessionAction(action, session, id.ParticipantID) {
		return "", interfaces.ErrUnauthorized
	}
	return sessionID, nil
}

func (o *Orchestrator) authenticatedIdentity() (identity.Identity, error) {
	if !o.provider.IsAuthenticated() {
		return identity.Identity{}, interfaces.ErrUnauthorized
	}
	return o.provider.Identity(), nil
}
