package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/observer"
	"github.com/zeusync/smartspawner/internal/core/spawner"
)

type staticSource struct {
	mu   sync.Mutex
	list []*spawner.Spawner
}

func (s *staticSource) All() []*spawner.Spawner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*spawner.Spawner(nil), s.list...)
}

func loadAround(x *observer.Index, world string, radius int) {
	for cx := -radius; cx <= radius; cx++ {
		for cz := -radius; cz <= radius; cz++ {
			x.LoadChunk(world, cx, cz)
		}
	}
}

func newFixture(t *testing.T, interval time.Duration, opts ...Option) (*Scheduler, *observer.Index, *spawner.Spawner, bus.EventBus) {
	t.Helper()
	sp := spawner.New("sp-1", spawner.Location{World: "w", X: 0, Y: 64, Z: 0}, spawner.Config{
		Radius:   16,
		Interval: interval,
	})
	index := observer.NewIndex()
	loadAround(index, "w", 3)
	events := bus.New()
	sc := New(&staticSource{list: []*spawner.Spawner{sp}}, index, events, log.NewNop(), Config{Period: 5 * time.Millisecond, Workers: 2}, opts...)
	t.Cleanup(sc.Cleanup)
	return sc, index, sp, events
}

func TestObserverInRangeBoundary(t *testing.T) {
	sc, index, sp, _ := newFixture(t, time.Hour)

	index.Move(observer.Position{ID: "p", World: "w", X: 16, Y: 64, Z: 0})
	assert.True(t, sc.ObserverInRange(sp), "exactly on the radius counts")

	index.Move(observer.Position{ID: "p", World: "w", X: 16.01, Y: 64, Z: 0})
	assert.False(t, sc.ObserverInRange(sp))

	index.Move(observer.Position{ID: "p", World: "w", X: 9, Y: 76, Z: 9})
	assert.False(t, sc.ObserverInRange(sp), "81+144+81 is outside 16 squared")
}

func TestObserverInRangeDiagonalOutside(t *testing.T) {
	sc, index, sp, _ := newFixture(t, time.Hour)

	// inside the box but outside the sphere
	index.Move(observer.Position{ID: "p", World: "w", X: 12, Y: 64, Z: 12})
	assert.False(t, sc.ObserverInRange(sp))
}

func TestObserverInUnloadedChunkIsIgnored(t *testing.T) {
	sc, index, sp, _ := newFixture(t, time.Hour)

	index.Move(observer.Position{ID: "p", World: "w", X: 10, Y: 64, Z: 0})
	require.True(t, sc.ObserverInRange(sp))

	index.UnloadChunk("w", 0, 0)
	assert.False(t, sc.ObserverInRange(sp))
}

func TestObserverInOtherWorldIsIgnored(t *testing.T) {
	sc, index, sp, _ := newFixture(t, time.Hour)
	loadAround(index, "nether", 1)

	index.Move(observer.Position{ID: "p", World: "nether", X: 0, Y: 64, Z: 0})
	assert.False(t, sc.ObserverInRange(sp))
}

func TestTransitionsAreEdgeTriggered(t *testing.T) {
	sc, index, sp, events := newFixture(t, time.Hour)

	var transitions []bool
	var mu sync.Mutex
	_, err := events.Subscribe(bus.TypeSpawnerActivity, func(e bus.Event) error {
		mu.Lock()
		transitions = append(transitions, e.Data().(bus.SpawnerEvent).Active)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	index.Move(observer.Position{ID: "p", World: "w", X: 2, Y: 64, Z: 2})
	for i := 0; i < 3; i++ {
		sc.Tick()
	}
	assert.True(t, sp.Active())
	assert.Equal(t, 1, sc.TaskCount())

	index.Leave("p")
	sc.Tick()
	sc.Tick()
	assert.False(t, sp.Active())
	assert.Equal(t, 0, sc.TaskCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestProductionRunsOnlyWhileActive(t *testing.T) {
	var runs atomic.Int32
	sc, index, _, _ := newFixture(t, 5*time.Millisecond, WithProducer(func(context.Context, *spawner.Spawner) {
		runs.Add(1)
	}))

	index.Move(observer.Position{ID: "p", World: "w", X: 0, Y: 64, Z: 0})
	sc.Tick()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)

	index.Leave("p")
	sc.Tick()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestFirstProductionWaitsOneInterval(t *testing.T) {
	var runs atomic.Int32
	sc, index, _, _ := newFixture(t, 200*time.Millisecond, WithProducer(func(context.Context, *spawner.Spawner) {
		runs.Add(1)
	}))

	index.Move(observer.Position{ID: "p", World: "w", X: 0, Y: 64, Z: 0})
	sc.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestDefaultProducerFillsInventory(t *testing.T) {
	index := observer.NewIndex()
	loadAround(index, "w", 2)
	sig := item.NewSignature("BONE")
	sp := spawner.New("sp-1", spawner.Location{World: "w", Y: 64}, spawner.Config{
		Interval: 5 * time.Millisecond,
		Loot:     spawner.LootTable{{Signature: sig, Min: 1, Max: 1, Chance: 1}},
	})
	events := bus.New()
	changed := make(chan struct{}, 16)
	_, err := events.Subscribe(bus.TypeInventoryChanged, func(bus.Event) error {
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	sc := New(&staticSource{list: []*spawner.Spawner{sp}}, index, events, log.NewNop(), Config{})
	t.Cleanup(sc.Cleanup)

	index.Move(observer.Position{ID: "p", World: "w", X: 1, Y: 64, Z: 1})
	sc.Tick()

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("no inventory event")
	}
	assert.Positive(t, sp.Inventory().Count(sig))
	assert.False(t, sp.LastProduced().IsZero())
}

func TestResumesPersistedActiveSpawner(t *testing.T) {
	sc, index, sp, events := newFixture(t, time.Hour)
	sp.SetActive(true)

	var notified atomic.Int32
	_, err := events.Subscribe(bus.TypeSpawnerActivity, func(bus.Event) error {
		notified.Add(1)
		return nil
	})
	require.NoError(t, err)

	index.Move(observer.Position{ID: "p", World: "w", X: 0, Y: 64, Z: 0})
	sc.Tick()

	assert.True(t, sc.HasTask(sp.ID()))
	assert.Zero(t, notified.Load(), "no transition happened")
}

func TestRemovedSpawnerNeverRestarts(t *testing.T) {
	sc, index, sp, _ := newFixture(t, time.Hour)
	index.Move(observer.Position{ID: "p", World: "w", X: 0, Y: 64, Z: 0})
	sc.Tick()
	require.True(t, sc.HasTask(sp.ID()))

	sp.Destroy()
	sc.OnSpawnerRemoved(sp)
	assert.False(t, sc.HasTask(sp.ID()))

	sc.Tick()
	assert.False(t, sc.HasTask(sp.ID()))
	assert.False(t, sp.Active())

	sc.Stop(sp.ID())
}

func TestStartLoopAndCleanup(t *testing.T) {
	sc, index, sp, _ := newFixture(t, time.Hour)
	index.Move(observer.Position{ID: "p", World: "w", X: 0, Y: 64, Z: 0})

	require.NoError(t, sc.Start(context.Background()))
	assert.ErrorIs(t, sc.Start(context.Background()), ErrAlreadyRunning)

	assert.Eventually(t, sp.Active, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return sc.HasTask(sp.ID()) }, time.Second, time.Millisecond)

	sc.Cleanup()
	assert.Equal(t, 0, sc.TaskCount())

	// the loop is gone, nothing restarts the task
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sc.TaskCount())
	require.NoError(t, sc.Start(context.Background()), "restart after cleanup")
}
