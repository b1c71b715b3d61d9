package registry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/spawner"
)

type fakeStore struct {
	mu       sync.Mutex
	loaded   map[string]*spawner.Spawner
	queued   []string
	modified []string
	deleted  []string
	saved    int
}

func (f *fakeStore) LoadAll(context.Context) (map[string]*spawner.Spawner, error) {
	return f.loaded, nil
}

func (f *fakeStore) QueueSave(id string) {
	f.mu.Lock()
	f.queued = append(f.queued, id)
	f.mu.Unlock()
}

func (f *fakeStore) MarkModified(id string) {
	f.mu.Lock()
	f.modified = append(f.modified, id)
	f.mu.Unlock()
}

func (f *fakeStore) SaveAll(_ context.Context, all []*spawner.Spawner) error {
	f.mu.Lock()
	f.saved = len(all)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func newSpawner(id, world string, x, y, z int) *spawner.Spawner {
	return spawner.New(id, spawner.Location{World: world, X: x, Y: y, Z: z}, spawner.Config{})
}

// assertConsistent checks that the three indexes describe the same set.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	require.Equal(t, len(r.byID), len(r.byLoc))
	worldTotal := 0
	for world, set := range r.byWorld {
		require.NotEmpty(t, set, "empty world set %s left behind", world)
		for id, s := range set {
			require.Equal(t, world, s.World())
			require.Same(t, r.byID[id], s)
		}
		worldTotal += len(set)
	}
	require.Equal(t, len(r.byID), worldTotal)
	for _, s := range r.byID {
		require.Same(t, s, r.byLoc[s.Location()])
	}
}

func TestAddAndLookup(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil, log.NewNop())

	s := newSpawner("a", "world", 1, 64, 1)
	require.NoError(t, r.Add("a", s))

	got, ok := r.GetByID("a")
	require.True(t, ok)
	assert.Same(t, s, got)

	got, ok = r.GetByLocation(spawner.Location{World: "world", X: 1, Y: 64, Z: 1})
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.GetByLocation(spawner.Location{World: "nether", X: 1, Y: 64, Z: 1})
	assert.False(t, ok)
	_, ok = r.GetByID("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a"}, store.queued)
	assertConsistent(t, r)
}

func TestAddRejectsWithoutPartialInsert(t *testing.T) {
	r := New(nil, nil, nil)
	require.NoError(t, r.Add("a", newSpawner("a", "world", 0, 0, 0)))

	t.Run("duplicate identity", func(t *testing.T) {
		err := r.Add("a", newSpawner("a", "world", 5, 5, 5))
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
		_, ok := r.GetByLocation(spawner.Location{World: "world", X: 5, Y: 5, Z: 5})
		assert.False(t, ok)
	})

	t.Run("location collision", func(t *testing.T) {
		err := r.Add("b", newSpawner("b", "world", 0, 0, 0))
		assert.ErrorIs(t, err, ErrLocationCollision)
		_, ok := r.GetByID("b")
		assert.False(t, ok)
		assert.Equal(t, 1, r.CountInWorld("world"))
	})

	t.Run("invalid", func(t *testing.T) {
		assert.ErrorIs(t, r.Add("", newSpawner("", "world", 9, 9, 9)), ErrInvalidSpawner)
		assert.ErrorIs(t, r.Add("x", newSpawner("y", "world", 9, 9, 9)), ErrInvalidSpawner)
		assert.ErrorIs(t, r.Add("z", newSpawner("z", "", 9, 9, 9)), ErrInvalidSpawner)
		assert.ErrorIs(t, r.Add("n", nil), ErrInvalidSpawner)
	})

	assert.Equal(t, 1, r.Len())
	assertConsistent(t, r)
}

func TestRemove(t *testing.T) {
	store := &fakeStore{}
	events := bus.New()
	var removedEvents int
	_, _ = events.Subscribe(bus.TypeSpawnerRemoved, func(bus.Event) error { removedEvents++; return nil })

	r := New(store, events, nil)
	s := newSpawner("a", "world", 0, 0, 0)
	require.NoError(t, r.Add("a", s))

	var hookSawIndexed bool
	r.OnRemove(func(sp *spawner.Spawner) {
		_, hookSawIndexed = r.GetByID(sp.ID())
		assert.True(t, sp.Destroyed(), "destroyed before hooks so nothing restarts")
	})

	assert.True(t, r.Remove(context.Background(), "a"))
	assert.True(t, hookSawIndexed, "hooks run before the spawner leaves the indexes")
	assert.True(t, s.Destroyed())
	assert.False(t, r.Remove(context.Background(), "a"), "second remove is a no-op")
	assert.Equal(t, []string{"a"}, store.deleted)
	assert.Equal(t, 1, removedEvents)
	assert.Equal(t, 0, r.CountInWorld("world"))
	assert.Empty(t, r.Worlds())
	assertConsistent(t, r)

	// the freed location can be reused
	require.NoError(t, r.Add("b", newSpawner("b", "world", 0, 0, 0)))
}

func TestWorldCounts(t *testing.T) {
	r := New(nil, nil, nil)
	a := newSpawner("a", "world", 0, 0, 0)
	a.SetStackSize(5)
	require.NoError(t, r.Add("a", a))
	require.NoError(t, r.Add("b", newSpawner("b", "world", 1, 0, 0)))
	require.NoError(t, r.Add("c", newSpawner("c", "nether", 0, 0, 0)))

	assert.Equal(t, 2, r.CountInWorld("world"))
	assert.Equal(t, 6, r.CountWithStacksInWorld("world"))
	assert.Equal(t, 1, r.CountWithStacksInWorld("nether"))
	assert.Equal(t, 0, r.CountInWorld("end"))
	assert.Equal(t, []string{"nether", "world"}, r.Worlds())
}

func TestIndexesAgreeUnderRandomOps(t *testing.T) {
	r := New(nil, nil, nil)
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("s%d", rng.IntN(50))
		world := []string{"w1", "w2", "w3"}[rng.IntN(3)]
		if rng.IntN(3) == 0 {
			r.Remove(context.Background(), id)
		} else {
			_ = r.Add(id, newSpawner(id, world, rng.IntN(6), 0, rng.IntN(6)))
		}
		if i%100 == 0 {
			r.ReindexWorlds()
		}
		assertConsistent(t, r)
	}
}

func TestAllIsASnapshot(t *testing.T) {
	r := New(nil, nil, nil)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("s%02d", i)
		require.NoError(t, r.Add(id, newSpawner(id, "w", i, 0, 0)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 20; i < 200; i++ {
			id := fmt.Sprintf("s%03d", i)
			_ = r.Add(id, newSpawner(id, "w", i, 0, 0))
			r.Remove(context.Background(), id)
		}
	}()

	for i := 0; i < 50; i++ {
		for _, s := range r.All() {
			assert.NotNil(t, s)
		}
		r.ReindexWorlds()
	}
	wg.Wait()

	all := r.All()
	require.Len(t, all, 20)
	assert.Equal(t, "s00", all[0].ID())
	assertConsistent(t, r)
}

func TestLoadSkipsCollisions(t *testing.T) {
	store := &fakeStore{loaded: map[string]*spawner.Spawner{
		"a":   newSpawner("a", "world", 0, 0, 0),
		"b":   newSpawner("b", "world", 0, 0, 0), // same block as a
		"c":   newSpawner("c", "nether", 0, 0, 0),
		"bad": newSpawner("other", "world", 3, 3, 3),
	}}
	r := New(store, nil, nil)
	require.NoError(t, r.Add("old", newSpawner("old", "world", 9, 9, 9)))

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, 2, r.Len())
	_, ok := r.GetByID("old")
	assert.False(t, ok, "load replaces the previous contents")
	_, ok = r.GetByID("a")
	assert.True(t, ok)
	assertConsistent(t, r)

	require.NoError(t, r.SaveAll(context.Background()))
	assert.Equal(t, 2, store.saved)

	r.MarkModified("a")
	assert.Equal(t, []string{"a"}, store.modified)
}

func TestCleanupRunsHooks(t *testing.T) {
	r := New(nil, nil, nil)
	s := newSpawner("a", "w", 0, 0, 0)
	require.NoError(t, r.Add("a", s))

	var hooked []string
	r.OnRemove(func(sp *spawner.Spawner) { hooked = append(hooked, sp.ID()) })
	r.Cleanup()

	assert.Equal(t, []string{"a"}, hooked)
	assert.True(t, s.Destroyed())
	assert.Zero(t, r.Len())
	assertConsistent(t, r)
}
