package dialog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/botflow/internal/lock"
	"github.com/BaSui01/botflow/internal/metrics"
	"github.com/BaSui01/botflow/session"
	"github.com/BaSui01/botflow/types"
)

// janitorLockPrefix namespaces the per-session janitor locks.
const janitorLockPrefix = "dialog:janitor:"

// Janitor is the periodic sweep reconciling expired sessions and stale
// contexts. Sessions past their expiry are deleted; a session whose
// context alone went stale is driven through the engine's timeout path,
// under a distributed lock so only one node processes it.
type Janitor struct {
	store    session.Store
	engine   *Engine
	locks    lock.Manager
	interval time.Duration
	batch    int
	metrics  *metrics.Collector
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewJanitor creates a janitor sweeping every interval, handling at
// most batch stale contexts per sweep.
func NewJanitor(store session.Store, engine *Engine, locks lock.Manager, interval time.Duration, batch int, collector *metrics.Collector, logger *zap.Logger) *Janitor {
	if batch <= 0 {
		batch = 250
	}
	return &Janitor{
		store:    store,
		engine:   engine,
		locks:    locks,
		interval: interval,
		batch:    batch,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "janitor")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stop:
				return
			case <-ticker.C:
				if err := j.Sweep(ctx); err != nil {
					j.logger.Error("sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop stops the sweep loop and waits for the in-flight sweep.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// Sweep runs one pass: delete expired sessions, then drive each stale
// context through timeout handling.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := time.Now()

	expired, err := j.store.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	if expired > 0 {
		j.logger.Info("deleted expired sessions", zap.Int("count", expired))
	}

	ids, err := j.store.ListStaleContextIDs(ctx, now, j.batch)
	if err != nil {
		j.metrics.RecordSweep(expired, 0, 0)
		return err
	}

	timeouts, lockSkipped := 0, 0
	for _, id := range ids {
		switch handled, err := j.processStale(ctx, id); {
		case errors.Is(err, lock.ErrNotAcquired):
			lockSkipped++
		case err != nil:
			j.logger.Warn("could not process stale session",
				zap.String("session_id", id), zap.Error(err))
		case handled:
			timeouts++
		}
	}

	j.metrics.RecordSweep(expired, timeouts, lockSkipped)
	return nil
}

// processStale handles one stale context under its distributed lock.
// When the lock is already held elsewhere the session is left untouched.
func (j *Janitor) processStale(ctx context.Context, sessionID string) (bool, error) {
	l, err := j.locks.Acquire(ctx, janitorLockPrefix+sessionID, j.interval)
	if err != nil {
		return false, err
	}
	defer func() {
		if uerr := l.Unlock(ctx); uerr != nil && !errors.Is(uerr, lock.ErrNotHeld) {
			j.logger.Warn("could not release janitor lock",
				zap.String("session_id", sessionID), zap.Error(uerr))
		}
	}()

	sess, err := j.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// A corrupt jump stack would loop forever in timeout handling; bail
	// out and reset instead.
	if err := detectStoredLoop(sess); err != nil {
		j.logger.Warn("stored context loops, resetting session state",
			zap.String("session_id", sessionID), zap.Error(err))
		sess.Context = &types.DialogContext{}
		sess.TempData = map[string]any{}
		sess.ContextExpiry = nil
		return false, j.store.Upsert(ctx, sess)
	}

	event := &types.IncomingEvent{
		ID:      uuid.New().String(),
		BotID:   sess.BotID,
		Target:  sessionID,
		Type:    types.EventTimeout,
		Payload: map[string]any{"type": "timeout"},
		State: types.EventState{
			Context: sess.Context,
			Session: sess.SessionData,
			Temp:    sess.TempData,
		},
	}

	if err := l.Extend(ctx, j.interval); err != nil && !errors.Is(err, lock.ErrNotHeld) {
		j.logger.Warn("could not extend janitor lock",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	processed, perr := j.engine.ProcessTimeout(ctx, sessionID, event)

	var notFound *types.TimeoutNodeNotFoundError
	switch {
	case errors.As(perr, &notFound):
		// No timeout handling anywhere; just clear the stale context.
		processed.State.Context = &types.DialogContext{}
		processed.State.Temp = map[string]any{}
	case perr != nil:
		j.logger.Warn("timeout processing failed",
			zap.String("session_id", sessionID), zap.String("bot_id", sess.BotID), zap.Error(perr))
	}

	return true, j.persistAfterTimeout(ctx, sess, processed)
}

// persistAfterTimeout writes back the state the timeout traversal left.
// A context with pending instructions keeps waiting; anything else
// collapses to empty.
func (j *Janitor) persistAfterTimeout(ctx context.Context, sess *session.Session, event *types.IncomingEvent) error {
	dc := event.State.Context
	workRemains := dc != nil && len(dc.Queue) > 0

	if workRemains {
		sess.Context = dc
	} else {
		sess.Context = &types.DialogContext{}
		event.State.Temp = map[string]any{}
	}
	sess.SessionData = event.State.Session
	sess.TempData = event.State.Temp
	sess.ContextExpiry = nil

	return j.store.Upsert(ctx, sess)
}

// detectStoredLoop runs loop detection over the persisted jump stack.
func detectStoredLoop(sess *session.Session) error {
	if sess.Context == nil {
		return nil
	}
	frames := make([]types.Frame, 0, len(sess.Context.JumpPoints))
	for _, jp := range sess.Context.JumpPoints {
		frames = append(frames, types.Frame{Flow: jp.Flow, Node: jp.Node})
	}
	return detectInfiniteLoop(frames, sess.BotID)
}
