package observer

import (
	"math"
	"sync"

	"github.com/zeusync/smartspawner/internal/core/spawner"
)

// Position is where an observer (a player) currently stands.
type Position struct {
	ID    string  `json:"id"`
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

func (p Position) ChunkX() int { return int(math.Floor(p.X)) >> spawner.ChunkShift }

func (p Position) ChunkZ() int { return int(math.Floor(p.Z)) >> spawner.ChunkShift }

// Query answers the two questions the activity scheduler asks about a world.
type Query interface {
	// ChunkLoaded must not load the chunk as a side effect.
	ChunkLoaded(world string, chunkX, chunkZ int) bool
	// ObserversInChunk lists observers standing in a loaded chunk.
	ObserversInChunk(world string, chunkX, chunkZ int) []Position
}

type chunkKey struct {
	world string
	x, z  int
}

// Index tracks loaded chunks and observer positions bucketed by chunk.
type Index struct {
	mu        sync.RWMutex
	loaded    map[chunkKey]struct{}
	byChunk   map[chunkKey]map[string]Position
	positions map[string]Position
}

var _ Query = (*Index)(nil)

func NewIndex() *Index {
	return &Index{
		loaded:    make(map[chunkKey]struct{}),
		byChunk:   make(map[chunkKey]map[string]Position),
		positions: make(map[string]Position),
	}
}

func (x *Index) LoadChunk(world string, chunkX, chunkZ int) {
	x.mu.Lock()
	x.loaded[chunkKey{world, chunkX, chunkZ}] = struct{}{}
	x.mu.Unlock()
}

func (x *Index) UnloadChunk(world string, chunkX, chunkZ int) {
	x.mu.Lock()
	delete(x.loaded, chunkKey{world, chunkX, chunkZ})
	x.mu.Unlock()
}

// UnloadWorld drops every loaded chunk of a world.
func (x *Index) UnloadWorld(world string) {
	x.mu.Lock()
	for k := range x.loaded {
		if k.world == world {
			delete(x.loaded, k)
		}
	}
	x.mu.Unlock()
}

// Move places or moves an observer.
func (x *Index) Move(p Position) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.positions[p.ID]; ok {
		x.unbucketLocked(old)
	}
	x.positions[p.ID] = p
	key := chunkKey{p.World, p.ChunkX(), p.ChunkZ()}
	set := x.byChunk[key]
	if set == nil {
		set = make(map[string]Position)
		x.byChunk[key] = set
	}
	set[p.ID] = p
}

// Leave forgets an observer.
func (x *Index) Leave(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.positions[id]; ok {
		x.unbucketLocked(old)
		delete(x.positions, id)
	}
}

func (x *Index) Position(id string) (Position, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.positions[id]
	return p, ok
}

func (x *Index) ChunkLoaded(world string, chunkX, chunkZ int) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.loaded[chunkKey{world, chunkX, chunkZ}]
	return ok
}

func (x *Index) ObserversInChunk(world string, chunkX, chunkZ int) []Position {
	x.mu.RLock()
	defer x.mu.RUnlock()
	set := x.byChunk[chunkKey{world, chunkX, chunkZ}]
	if len(set) == 0 {
		return nil
	}
	out := make([]Position, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out
}

func (x *Index) unbucketLocked(p Position) {
	key := chunkKey{p.World, p.ChunkX(), p.ChunkZ()}
	if set := x.byChunk[key]; set != nil {
		delete(set, p.ID)
		if len(set) == 0 {
			delete(x.byChunk, key)
		}
	}
}
