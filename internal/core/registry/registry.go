package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/spawner"
	"github.com/zeusync/smartspawner/internal/core/storage/interfaces"
)

// RemoveHook runs while a spawner is being removed, before it disappears from
// the indexes. Hooks run outside the registry lock.
type RemoveHook func(s *spawner.Spawner)

// Registry owns every placed spawner and keeps three views over them: by id,
// by block location and by world. All three are updated under one write lock
// so a reader never sees a spawner in one index but not another.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*spawner.Spawner
	byLoc   map[spawner.Location]*spawner.Spawner
	byWorld map[string]map[string]*spawner.Spawner

	hooksMu sync.RWMutex
	hooks   []RemoveHook

	store  interfaces.Store
	events bus.EventBus
	logger log.Log
}

var _ interfaces.Source = (*Registry)(nil)

func New(store interfaces.Store, events bus.EventBus, logger log.Log) *Registry {
	if store == nil {
		store = interfaces.NopStore{}
	}
	if events == nil {
		events = bus.Nop()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		byID:    make(map[string]*spawner.Spawner),
		byLoc:   make(map[spawner.Location]*spawner.Spawner),
		byWorld: make(map[string]map[string]*spawner.Spawner),
		store:   store,
		events:  events,
		logger:  logger.Named("registry"),
	}
}

// OnRemove registers a hook run for every removed spawner.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, hook)
	r.hooksMu.Unlock()
}

// Add indexes s under id. It fails without touching any index when the id is
// taken or another spawner occupies the same block.
func (r *Registry) Add(id string, s *spawner.Spawner) error {
	if id == "" || s == nil || s.ID() != id || s.World() == "" {
		return ErrInvalidSpawner
	}

	r.mu.Lock()
	if err := r.insertLocked(s); err != nil {
		r.mu.Unlock()
		r.logger.Warn("Spawner rejected",
			log.String("spawner_id", id),
			log.String("location", s.Location().String()),
			log.Error(err))
		return err
	}
	r.mu.Unlock()

	r.store.QueueSave(id)
	_ = r.events.Publish(bus.NewSpawnerEvent(bus.TypeSpawnerAdded, "registry", s))
	return nil
}

// Remove forgets the spawner. Removing an unknown id is a no-op. The spawner
// is marked destroyed first so nothing new can start for it, then the hooks
// run, then it leaves all indexes at once.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	s.Destroy()
	r.runHooks(s)

	r.mu.Lock()
	// someone else may have removed it while the hooks ran
	if cur, still := r.byID[id]; !still || cur != s {
		r.mu.Unlock()
		return false
	}
	r.deleteLocked(s)
	r.mu.Unlock()

	if err := r.store.DeleteByID(ctx, id); err != nil {
		r.logger.Error("Failed to delete spawner from store", log.String("spawner_id", id), log.Error(err))
	}
	_ = r.events.Publish(bus.NewSpawnerEvent(bus.TypeSpawnerRemoved, "registry", s))
	return true
}

func (r *Registry) GetByID(id string) (*spawner.Spawner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) GetByLocation(loc spawner.Location) (*spawner.Spawner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byLoc[loc]
	return s, ok
}

// All returns a copy of the current spawner set ordered by id. The slice is
// owned by the caller.
func (r *Registry) All() []*spawner.Spawner {
	r.mu.RLock()
	out := make([]*spawner.Spawner, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountInWorld counts distinct spawners.
func (r *Registry) CountInWorld(world string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byWorld[world])
}

// CountWithStacksInWorld sums stack sizes.
func (r *Registry) CountWithStacksInWorld(world string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, s := range r.byWorld[world] {
		total += s.StackSize()
	}
	return total
}

// Worlds lists the worlds that currently hold at least one spawner.
func (r *Registry) Worlds() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byWorld))
	for w := range r.byWorld {
		out = append(out, w)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ReindexWorlds rebuilds the world index from the identity index. Readers
// block for the duration and see either the old or the rebuilt index.
func (r *Registry) ReindexWorlds() {
	r.mu.Lock()
	rebuilt := make(map[string]map[string]*spawner.Spawner)
	for id, s := range r.byID {
		set := rebuilt[s.World()]
		if set == nil {
			set = make(map[string]*spawner.Spawner)
			rebuilt[s.World()] = set
		}
		set[id] = s
	}
	r.byWorld = rebuilt
	r.mu.Unlock()

	r.logger.Debug("World index rebuilt", log.Int("worlds", len(rebuilt)))
}

// Load replaces the registry contents with what the store holds. Entries
// that collide with an already loaded id or location are skipped.
func (r *Registry) Load(ctx context.Context) error {
	loaded, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load spawners: %w", err)
	}

	ids := make([]string, 0, len(loaded))
	for id := range loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.mu.Lock()
	r.byID = make(map[string]*spawner.Spawner, len(loaded))
	r.byLoc = make(map[spawner.Location]*spawner.Spawner, len(loaded))
	r.byWorld = make(map[string]map[string]*spawner.Spawner)

	var skipped []string
	for _, id := range ids {
		s := loaded[id]
		if s == nil || s.ID() != id || s.World() == "" {
			skipped = append(skipped, id)
			continue
		}
		if err := r.insertLocked(s); err != nil {
			skipped = append(skipped, id)
		}
	}
	count := len(r.byID)
	r.mu.Unlock()

	if len(skipped) > 0 {
		r.logger.Warn("Skipped invalid or colliding spawners", log.Strings("spawner_ids", skipped))
	}
	r.logger.Info("Spawners loaded", log.Int("count", count))
	return nil
}

// MarkModified flags the spawner for the next batched save.
func (r *Registry) MarkModified(id string) {
	r.store.MarkModified(id)
}

// QueueSave asks the store to persist the spawner soon.
func (r *Registry) QueueSave(id string) {
	r.store.QueueSave(id)
}

// SaveAll hands a full snapshot to the store.
func (r *Registry) SaveAll(ctx context.Context) error {
	return r.store.SaveAll(ctx, r.All())
}

// Cleanup drops every spawner without touching the store, running the
// remove hooks for each.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	all := make([]*spawner.Spawner, 0, len(r.byID))
	for _, s := range r.byID {
		all = append(all, s)
	}
	r.byID = make(map[string]*spawner.Spawner)
	r.byLoc = make(map[spawner.Location]*spawner.Spawner)
	r.byWorld = make(map[string]map[string]*spawner.Spawner)
	r.mu.Unlock()

	for _, s := range all {
		s.Destroy()
		r.runHooks(s)
	}
}

func (r *Registry) runHooks(s *spawner.Spawner) {
	r.hooksMu.RLock()
	hooks := append([]RemoveHook(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(s)
	}
}

func (r *Registry) insertLocked(s *spawner.Spawner) error {
	if _, taken := r.byID[s.ID()]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, s.ID())
	}
	if other, taken := r.byLoc[s.Location()]; taken {
		return fmt.Errorf("%w: %s held by %s", ErrLocationCollision, s.Location(), other.ID())
	}

	r.byID[s.ID()] = s
	r.byLoc[s.Location()] = s
	set := r.byWorld[s.World()]
	if set == nil {
		set = make(map[string]*spawner.Spawner)
		r.byWorld[s.World()] = set
	}
	set[s.ID()] = s
	return nil
}

func (r *Registry) deleteLocked(s *spawner.Spawner) {
	delete(r.byID, s.ID())
	if cur, ok := r.byLoc[s.Location()]; ok && cur == s {
		delete(r.byLoc, s.Location())
	}
	if set := r.byWorld[s.World()]; set != nil {
		delete(set, s.ID())
		if len(set) == 0 {
			delete(r.byWorld, s.World())
		}
	}
}
