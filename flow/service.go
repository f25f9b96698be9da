package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/botflow/types"
)

// Service loads and caches the flows of a single bot. The cache is
// read-mostly: it is filled on the first LoadAll and mutated only by
// the invalidation protocol, which every node of the cluster applies
// through the shared Broadcaster.
type Service struct {
	botID     string
	store     Store
	loader    *Loader
	cache     *ArrayCache
	oneFlow   bool
	broadcast Broadcaster
	logger    *zap.Logger
	mutexes   *mutexTable
	group     singleflight.Group
	now       func() time.Time
}

// NewService returns a flow service for one bot.
func NewService(botID string, store Store, oneFlow bool, broadcast Broadcaster, logger *zap.Logger) *Service {
	return &Service{
		botID:     botID,
		store:     store,
		loader:    NewLoader(store, oneFlow),
		cache:     NewArrayCache(),
		oneFlow:   oneFlow,
		broadcast: broadcast,
		logger:    logger.With(zap.String("component", "flow_service"), zap.String("bot_id", botID)),
		mutexes:   newMutexTable(),
		now:       time.Now,
	}
}

// LoadAll returns every flow of the bot, filling the cache on first
// call. A bot whose flows fail to parse has an empty flow list until
// corrected; callers must treat zero flows as an unusable bot rather
// than silently proceeding.
func (s *Service) LoadAll(ctx context.Context) ([]*Flow, error) {
	if s.cache.Len() > 0 {
		return s.cache.Values(), nil
	}

	_, err, _ := s.group.Do("load", func() (any, error) {
		return nil, s.fill(ctx)
	})
	if err != nil {
		s.logger.Error("could not load flows", zap.Error(err))
		return nil, nil
	}
	return s.cache.Values(), nil
}

func (s *Service) fill(ctx context.Context) error {
	paths, err := s.store.ListFlowPaths(ctx)
	if err != nil {
		return err
	}

	flows := make([]*Flow, 0, len(paths))
	for _, p := range paths {
		f, err := s.loader.Load(ctx, p)
		if err != nil {
			return err
		}
		flows = append(flows, f)
	}

	if s.oneFlow {
		ComputeParents(flows)
	}
	s.cache.Initialize(flows)
	s.logger.Debug("flow cache filled", zap.Int("flows", len(flows)))
	return nil
}

// FindFlow resolves a flow by name, accepting names with or without the
// storage suffix, case-insensitively.
func (s *Service) FindFlow(ctx context.Context, name string) (*Flow, error) {
	if name == "" {
		return nil, types.NewFlowError("could not find any flow", s.botID, name, "")
	}
	flows, _ := s.LoadAll(ctx)

	want := strings.ToLower(NormalizeName(name))
	for _, f := range flows {
		if strings.ToLower(f.Name) == want {
			return f, nil
		}
	}
	return nil, types.NewFlowError(fmt.Sprintf("flow not found: %s", name), s.botID, name, "")
}

// FindNode resolves a node inside a flow.
func (s *Service) FindNode(f *Flow, nodeName string) (*Node, error) {
	if n := f.FindNode(nodeName); n != nil {
		return n, nil
	}
	return nil, types.NewFlowError(fmt.Sprintf("node not found: %s", nodeName), s.botID, f.Name, nodeName)
}

// Invalidate applies a cache change locally and rebroadcasts it so
// every node stays consistent with storage. Supplying a flow replaces
// the entry in place; a rename key re-keys it; neither removes it.
func (s *Service) Invalidate(ctx context.Context, key string, f *Flow, renameTo string) error {
	s.applyInvalidation(key, f, renameTo)

	inv := Invalidation{BotID: s.botID, Key: key, RenameTo: renameTo}
	if f != nil {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshaling flow for invalidation: %w", err)
		}
		inv.Flow = data
	}
	if err := s.broadcast.Publish(ctx, inv); err != nil {
		s.logger.Error("failed to broadcast flow invalidation", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// applyInvalidation mutates only the local cache. Remote invalidations
// arrive here through the Manager's subscription.
func (s *Service) applyInvalidation(key string, f *Flow, renameTo string) {
	if s.cache.Len() == 0 {
		// Nothing cached yet; the next LoadAll reads fresh state.
		return
	}

	switch {
	case f != nil:
		s.cache.Update(key, f)
	case renameTo != "":
		s.cache.Rename(key, renameTo)
	default:
		s.cache.Remove(key)
	}

	if s.oneFlow {
		flows := s.cache.Values()
		ComputeParents(flows)
		s.cache.Initialize(flows)
	}
}

// UpsertFlow validates and persists a flow under an editing lease, then
// invalidates cluster-wide.
func (s *Service) UpsertFlow(ctx context.Context, f *Flow, editor string) error {
	if err := Validate(f, s.oneFlow); err != nil {
		return err
	}

	lease, err := s.mutexes.lock(f.Name, editor, s.now())
	if err != nil {
		return err
	}
	f.Mutex = lease

	flowData, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling flow %s: %w", f.Name, err)
	}
	layout := layoutFile{Nodes: make([]layoutNode, 0, len(f.Nodes))}
	for _, n := range f.Nodes {
		ln := layoutNode{ID: n.ID}
		ln.Position = &struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}{X: n.X, Y: n.Y}
		layout.Nodes = append(layout.Nodes, ln)
	}
	layoutData, err := json.MarshalIndent(&layout, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling layout for %s: %w", f.Name, err)
	}

	if err := s.store.WriteFlow(ctx, f.Name, flowData, layoutData); err != nil {
		return fmt.Errorf("writing flow %s: %w", f.Name, err)
	}
	return s.Invalidate(ctx, f.Name, f, "")
}

// checkLease fails with MutexError when another editor holds an active
// lease on the flow.
func (s *Service) checkLease(name, editor string) error {
	lease := s.mutexes.peek(name, s.now())
	if lease != nil && lease.LastModifiedBy != editor && lease.RemainingSeconds > 0 {
		return &types.MutexError{Flow: name, Owner: lease.LastModifiedBy}
	}
	return nil
}

// DeleteFlow removes a flow from storage and invalidates cluster-wide.
// A flow under another editor's lease cannot be deleted.
func (s *Service) DeleteFlow(ctx context.Context, name, editor string) error {
	name = NormalizeName(name)
	if err := s.checkLease(name, editor); err != nil {
		return err
	}
	if err := s.store.DeleteFlow(ctx, name); err != nil {
		return fmt.Errorf("deleting flow %s: %w", name, err)
	}
	return s.Invalidate(ctx, name, nil, "")
}

// RenameFlow renames a flow in storage without reordering the cache.
// A flow under another editor's lease cannot be renamed.
func (s *Service) RenameFlow(ctx context.Context, oldName, newName, editor string) error {
	oldName, newName = NormalizeName(oldName), NormalizeName(newName)
	if err := s.checkLease(oldName, editor); err != nil {
		return err
	}
	if err := s.store.RenameFlow(ctx, oldName, newName); err != nil {
		return fmt.Errorf("renaming flow %s to %s: %w", oldName, newName, err)
	}
	return s.Invalidate(ctx, oldName, nil, newName)
}

// Manager hands out per-bot flow services and routes cluster-wide
// invalidations to them.
type Manager struct {
	mu        sync.Mutex
	scopes    map[string]*Service
	root      string
	oneFlow   func(botID string) bool
	broadcast Broadcaster
	logger    *zap.Logger
}

// NewManager returns a manager reading each bot's flows from
// <root>/<botID>/.
func NewManager(root string, oneFlow func(botID string) bool, broadcast Broadcaster, logger *zap.Logger) *Manager {
	if oneFlow == nil {
		oneFlow = func(string) bool { return false }
	}
	if broadcast == nil {
		broadcast = NopBroadcaster{}
	}
	return &Manager{
		scopes:    map[string]*Service{},
		root:      root,
		oneFlow:   oneFlow,
		broadcast: broadcast,
		logger:    logger,
	}
}

// Start subscribes the manager to cluster-wide invalidations.
func (m *Manager) Start(ctx context.Context) error {
	return m.broadcast.Subscribe(ctx, m.handleRemoteInvalidation)
}

// ForBot returns (creating on first use) the bot's flow service.
func (m *Manager) ForBot(botID string) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()

	if svc, ok := m.scopes[botID]; ok {
		return svc
	}
	store := NewDiskStore(filepath.Join(m.root, botID))
	svc := NewService(botID, store, m.oneFlow(botID), m.broadcast, m.logger)
	m.scopes[botID] = svc
	return svc
}

func (m *Manager) handleRemoteInvalidation(inv Invalidation) {
	svc := m.ForBot(inv.BotID)

	var f *Flow
	if len(inv.Flow) > 0 {
		f = &Flow{}
		if err := json.Unmarshal(inv.Flow, f); err != nil {
			m.logger.Error("dropping invalidation with malformed flow",
				zap.String("bot_id", inv.BotID), zap.String("key", inv.Key), zap.Error(err))
			return
		}
		for _, n := range f.Nodes {
			for i := range n.Next {
				n.Next[i].Dest = ParseDestination(n.Next[i].Node)
			}
		}
	}
	svc.applyInvalidation(inv.Key, f, inv.RenameTo)
}
