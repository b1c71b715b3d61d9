package spawner

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/smartspawner/internal/core/item"
)

const (
	DefaultRadius    = 16
	DefaultInterval  = 25 * time.Second
	DefaultMaxStored = 45 * 64
)

// Config holds the mutable production parameters of a spawner.
type Config struct {
	Radius    int
	Interval  time.Duration
	StackSize int
	MaxStored int64
	Loot      LootTable
}

func (c Config) withDefaults() Config {
	if c.Radius <= 0 {
		c.Radius = DefaultRadius
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StackSize <= 0 {
		c.StackSize = 1
	}
	if c.MaxStored < 0 {
		c.MaxStored = 0
	}
	return c
}

// Spawner is a placed producer. Its identity and location never change; the
// production parameters and activity flag may be changed concurrently.
type Spawner struct {
	id       string
	location Location

	mu  sync.RWMutex
	cfg Config
	rng *rand.Rand

	active    atomic.Bool
	destroyed atomic.Bool
	produced  atomic.Int64 // unix nanos of the last production

	lock      *Lock
	inventory *item.Aggregate
}

func New(id string, loc Location, cfg Config) *Spawner {
	s := &Spawner{
		id:        id,
		location:  loc,
		cfg:       cfg.withDefaults(),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(len(id))+1)),
		lock:      NewLock(),
		inventory: item.NewAggregate(),
	}
	return s
}

func (s *Spawner) ID() string { return s.id }

func (s *Spawner) Location() Location { return s.location }

func (s *Spawner) World() string { return s.location.World }

// Inventory is the spawner's stored items. Mutations that must not
// interleave with production are made while holding a Permit.
func (s *Spawner) Inventory() *item.Aggregate { return s.inventory }

func (s *Spawner) Lock() *Lock { return s.lock }

func (s *Spawner) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Loot = append(LootTable(nil), s.cfg.Loot...)
	return cfg
}

func (s *Spawner) Radius() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Radius
}

func (s *Spawner) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Interval
}

func (s *Spawner) StackSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.StackSize
}

// SetStackSize changes how many logical producers this spawner stands for.
func (s *Spawner) SetStackSize(n int) {
	if n <= 0 {
		n = 1
	}
	s.mu.Lock()
	s.cfg.StackSize = n
	s.mu.Unlock()
}

func (s *Spawner) SetRadius(r int) {
	if r <= 0 {
		r = DefaultRadius
	}
	s.mu.Lock()
	s.cfg.Radius = r
	s.mu.Unlock()
}

func (s *Spawner) Active() bool { return s.active.Load() }

// SetActive stores the flag and reports whether it changed.
func (s *Spawner) SetActive(active bool) bool {
	return s.active.Swap(active) != active
}

func (s *Spawner) Destroyed() bool { return s.destroyed.Load() }

// Destroy marks the spawner as gone. Later production and restores are
// dropped. It reports false if the spawner was already destroyed.
func (s *Spawner) Destroy() bool {
	if !s.destroyed.CompareAndSwap(false, true) {
		return false
	}
	s.active.Store(false)
	return true
}

func (s *Spawner) LastProduced() time.Time {
	n := s.produced.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Produce runs one production cycle: it waits for the spawner lock, rolls
// the loot table once per stacked producer and stores what fits. It returns
// the stacks added.
func (s *Spawner) Produce(ctx context.Context) ([]item.Stack, error) {
	if s.Destroyed() {
		return nil, ErrDestroyed
	}

	permit, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	if s.Destroyed() {
		return nil, ErrDestroyed
	}

	s.mu.Lock()
	drops := s.cfg.Loot.Roll(s.rng, s.cfg.StackSize)
	limit := capacity(s.cfg.MaxStored, s.cfg.StackSize)
	s.mu.Unlock()

	s.produced.Store(time.Now().UnixNano())
	if len(drops) == 0 {
		return nil, nil
	}
	return s.inventory.AddUpTo(drops, limit), nil
}

// capacity is MaxStored scaled by the stack size, saturating at MaxInt64.
func capacity(maxStored int64, stackSize int) int64 {
	if maxStored > math.MaxInt64/int64(stackSize) {
		return math.MaxInt64
	}
	return maxStored * int64(stackSize)
}

// Restore puts stacks back after a failed sale. Restoring into a destroyed
// spawner is refused with ErrDestroyed so the caller can report the loss.
func (s *Spawner) Restore(stacks []item.Stack) error {
	if s.Destroyed() {
		return ErrDestroyed
	}
	return s.inventory.AddAll(stacks)
}
