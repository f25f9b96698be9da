// Package botflow wires the conversational flow execution engine into
// a single runtime: flow cache, dialog engine, decision engine, session
// store and janitor.
//
// Usage:
//
//	cfg := config.MustLoad("config.yaml")
//	logger, _ := zap.NewProduction()
//	rt, err := botflow.New(cfg, logger, botflow.Collaborators{})
//	if err != nil { ... }
//	defer rt.Close()
//
//	rt.Start(ctx)
//	rt.ProcessEvent(ctx, event)
package botflow

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/botflow/config"
	"github.com/BaSui01/botflow/dialog"
	"github.com/BaSui01/botflow/flow"
	"github.com/BaSui01/botflow/internal/lock"
	"github.com/BaSui01/botflow/internal/metrics"
	"github.com/BaSui01/botflow/session"
	"github.com/BaSui01/botflow/types"
)

// Collaborators are the external systems the engine consumes through
// narrow interfaces. Zero-value fields fall back to in-process
// defaults, which is enough for development and tests.
type Collaborators struct {
	// Renderer expands say directives into channel payloads.
	Renderer dialog.Renderer
	// Transport delivers payloads to the conversation's channel.
	Transport dialog.ReplyTransport
	// Actions runs named action code.
	Actions dialog.ActionRunner
	// Hooks are the protocol extension points.
	Hooks dialog.Hooks
}

// Runtime is the assembled engine.
type Runtime struct {
	Config   *config.Config
	Flows    *flow.Manager
	Sessions session.Store
	State    *dialog.StateManager
	Dialog   *dialog.Engine
	Decision *dialog.DecisionEngine
	Janitor  *dialog.Janitor
	Metrics  *metrics.Collector

	redis  *redis.Client
	logger *zap.Logger
}

// New assembles a runtime from configuration. When Redis is enabled it
// backs the invalidation broadcast and the janitor's locks; otherwise
// both stay in-process (single-node deployments).
func New(cfg *config.Config, logger *zap.Logger, collab Collaborators) (*Runtime, error) {
	if collab.Renderer == nil {
		collab.Renderer = dialog.TextRenderer{}
	}
	if collab.Transport == nil {
		collab.Transport = dialog.NopTransport{}
	}
	if collab.Actions == nil {
		collab.Actions = dialog.NopActionRunner{}
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)

	var (
		client    *redis.Client
		broadcast flow.Broadcaster = flow.NopBroadcaster{}
		locks     lock.Manager     = lock.NewMemoryManager()
	)
	if cfg.Redis.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		broadcast = flow.NewRedisBroadcaster(client, logger)
		locks = lock.NewRedisManager(client, "")
	}

	sessions, err := session.NewStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	flows := flow.NewManager(cfg.Flows.Root, cfg.OneFlowFunc(), broadcast, logger)

	evaluator := dialog.NewEvaluator(cfg.Dialog.GuardTimeout, collector, logger)
	processor := dialog.NewProcessor(evaluator, collab.Renderer, collab.Transport, collab.Actions, logger)
	engine := dialog.NewEngine(flows, processor, collab.Hooks, collector, logger)

	state := dialog.NewStateManager(sessions, cfg.Dialog.ContextTTL, cfg.Dialog.SessionTTL, logger)
	decision := dialog.NewDecisionEngine(dialog.Policy{
		MinConfidence:    cfg.Decision.MinConfidence,
		NoRepeatCooldown: cfg.Decision.NoRepeatCooldown,
		NoRepeatEnabled:  cfg.Decision.NoRepeatEnabled,
	}, engine, state, collab.Transport, collector, logger)

	janitor := dialog.NewJanitor(sessions, engine, locks, cfg.Janitor.Interval, cfg.Janitor.BatchSize, collector, logger)

	return &Runtime{
		Config:   cfg,
		Flows:    flows,
		Sessions: sessions,
		State:    state,
		Dialog:   engine,
		Decision: decision,
		Janitor:  janitor,
		Metrics:  collector,
		redis:    client,
		logger:   logger,
	}, nil
}

// Start subscribes to cluster-wide flow invalidations and launches the
// janitor.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Flows.Start(ctx); err != nil {
		return fmt.Errorf("subscribing to flow invalidations: %w", err)
	}
	r.Janitor.Start(ctx)
	return nil
}

// ProcessEvent restores the conversation's state onto the event and
// runs one full turn: election, traversal, persistence.
func (r *Runtime) ProcessEvent(ctx context.Context, event *types.IncomingEvent) error {
	sessionID := dialog.SessionIDFromEvent(event)
	if err := r.State.Restore(ctx, sessionID, event); err != nil {
		return fmt.Errorf("restoring session %s: %w", sessionID, err)
	}
	return r.Decision.ProcessEvent(ctx, sessionID, event)
}

// Close stops the janitor and releases resources.
func (r *Runtime) Close() error {
	r.Janitor.Stop()
	if err := r.Sessions.Close(); err != nil {
		return err
	}
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}
