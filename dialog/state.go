package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/botflow/session"
	"github.com/BaSui01/botflow/types"
)

// SessionIDFromEvent derives the conversation's session id from the
// event's addressing fields.
func SessionIDFromEvent(event *types.IncomingEvent) string {
	parts := []string{event.BotID, event.Channel, event.Target}
	if event.ThreadID != "" {
		parts = append(parts, event.ThreadID)
	}
	return strings.Join(parts, "::")
}

// StateManager moves conversation state between events and the session
// store, stamping the expiry horizons the janitor sweeps against.
type StateManager struct {
	store      session.Store
	contextTTL time.Duration
	sessionTTL time.Duration
	logger     *zap.Logger
}

// NewStateManager creates a state manager. contextTTL bounds how long a
// dialog context may sit idle before the janitor drives it through
// timeout handling; sessionTTL bounds the whole session's lifetime.
func NewStateManager(store session.Store, contextTTL, sessionTTL time.Duration, logger *zap.Logger) *StateManager {
	return &StateManager{
		store:      store,
		contextTTL: contextTTL,
		sessionTTL: sessionTTL,
		logger:     logger.With(zap.String("component", "state_manager")),
	}
}

// Restore loads the persisted session state onto the event. A missing
// session leaves the event's state empty.
func (m *StateManager) Restore(ctx context.Context, sessionID string, event *types.IncomingEvent) error {
	sess, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	event.State.Context = sess.Context
	event.State.Session = sess.SessionData
	event.State.Temp = sess.TempData

	if wf := sess.SessionData.CurrentWorkflow; wf != "" {
		event.State.Workflow = sess.SessionData.Workflows[wf]
	}
	return nil
}

// Persist writes the event's state back to the session store.
// ignoreContext persists only the session-level data, leaving the
// stored dialog context and its expiry untouched; sending a reply does
// this so a mid-flow wait is not clobbered by history bookkeeping.
func (m *StateManager) Persist(ctx context.Context, sessionID string, event *types.IncomingEvent, ignoreContext bool) error {
	sess, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		sess = session.NewSession(sessionID, event.BotID)
	} else if err != nil {
		return err
	}

	sess.SessionData = event.State.Session
	sess.TempData = event.State.Temp

	now := time.Now()
	if m.sessionTTL > 0 {
		exp := now.Add(m.sessionTTL)
		sess.SessionExpiry = &exp
	}

	if !ignoreContext {
		sess.Context = event.State.Context
		if !event.State.Context.IsEmpty() && m.contextTTL > 0 {
			exp := now.Add(m.contextTTL)
			sess.ContextExpiry = &exp
		} else {
			sess.ContextExpiry = nil
		}
	}

	if err := m.store.Upsert(ctx, sess); err != nil {
		m.logger.Error("could not persist session",
			zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes the session outright.
func (m *StateManager) Delete(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}
