package spawner

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/smartspawner/internal/core/item"
)

var bone = item.NewSignature("BONE")

func TestPermitReleaseIsIdempotent(t *testing.T) {
	l := NewLock()

	p, ok := l.TryAcquire()
	require.True(t, ok)
	assert.True(t, l.Held())

	_, ok = l.TryAcquire()
	assert.False(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Release()
		}()
	}
	wg.Wait()
	assert.False(t, l.Held())

	p2, ok := l.TryAcquire()
	require.True(t, ok)
	// a stale permit must not free someone else's hold
	p.Release()
	assert.True(t, l.Held())
	p2.Release()
}

func TestLockAcquireHonoursContext(t *testing.T) {
	l := NewLock()
	p, _ := l.TryAcquire()
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProduceRespectsCapacityAndStack(t *testing.T) {
	s := New("a", Location{World: "world"}, Config{
		StackSize: 3,
		MaxStored: 10,
		Loot:      LootTable{{Signature: bone, Min: 2, Max: 2, Chance: 1}},
	})

	added, err := s.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []item.Stack{{Signature: bone, Quantity: 6}}, added)

	for i := 0; i < 10; i++ {
		_, err = s.Produce(context.Background())
		require.NoError(t, err)
	}
	// capacity scales with the stack size
	assert.Equal(t, int64(30), s.Inventory().Total())
	assert.False(t, s.LastProduced().IsZero())
}

func TestProduceCapacitySaturates(t *testing.T) {
	// 1<<62+1 times 4 wraps to 4 without the clamp
	s := New("a", Location{World: "world"}, Config{
		StackSize: 4,
		MaxStored: 1<<62 + 1,
		Loot:      LootTable{{Signature: bone, Min: 2, Max: 2, Chance: 1}},
	})

	added, err := s.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []item.Stack{{Signature: bone, Quantity: 8}}, added)
	assert.Equal(t, int64(math.MaxInt64), capacity(math.MaxInt64, 2))
	assert.Equal(t, int64(30), capacity(10, 3))
}

func TestProduceWaitsForPermit(t *testing.T) {
	s := New("a", Location{World: "world"}, Config{
		Loot: LootTable{{Signature: bone, Min: 1, Max: 1, Chance: 1}},
	})
	p, ok := s.Lock().TryAcquire()
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Produce(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("production ran while the permit was held")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, int64(0), s.Inventory().Total())

	p.Release()
	<-done
	assert.Equal(t, int64(1), s.Inventory().Total())
}

func TestDestroyedSpawnerDropsWrites(t *testing.T) {
	s := New("a", Location{World: "world"}, Config{
		Loot: LootTable{{Signature: bone, Min: 1, Max: 1, Chance: 1}},
	})
	s.SetActive(true)
	require.True(t, s.Destroy())
	assert.False(t, s.Destroy())
	assert.False(t, s.Active())

	_, err := s.Produce(context.Background())
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, s.Restore([]item.Stack{{Signature: bone, Quantity: 1}}), ErrDestroyed)
}

func TestLootRollMergesDuplicates(t *testing.T) {
	table := LootTable{
		{Signature: bone, Min: 1, Max: 1, Chance: 1},
		{Signature: item.NewSignature("ARROW"), Min: 0, Max: 0, Chance: 1},
		{Signature: bone, Min: 2, Max: 2, Chance: 1},
		{Signature: item.NewSignature("SKULL"), Min: 1, Max: 1, Chance: 0},
	}
	out := table.Roll(rand.New(rand.NewPCG(1, 2)), 2)
	assert.Equal(t, []item.Stack{{Signature: bone, Quantity: 6}}, out)
}

func TestSetActiveReportsEdges(t *testing.T) {
	s := New("a", Location{World: "w"}, Config{})
	assert.True(t, s.SetActive(true))
	assert.False(t, s.SetActive(true))
	assert.True(t, s.SetActive(false))
	assert.Equal(t, DefaultRadius, s.Radius())
	assert.Equal(t, DefaultInterval, s.Interval())
}

func TestLocationChunks(t *testing.T) {
	l := Location{World: "w", X: -1, Y: 64, Z: 31}
	assert.Equal(t, -1, l.ChunkX())
	assert.Equal(t, 1, l.ChunkZ())
	assert.InDelta(t, 9.0, l.DistanceSquared(2, 64, 31), 1e-9)
	assert.InDelta(t, 0.0, l.DistanceSquared(-1, 64, 31), 1e-9)
}
