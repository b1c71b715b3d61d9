package settlement

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const cooldownShards = 32

// pendingSet marks actors with a settlement in flight.
type pendingSet struct {
	m sync.Map
}

// mark reports false if the actor already had a marker.
func (p *pendingSet) mark(actorID string) bool {
	_, loaded := p.m.LoadOrStore(actorID, struct{}{})
	return !loaded
}

func (p *pendingSet) clear(actorID string) { p.m.Delete(actorID) }

func (p *pendingSet) has(actorID string) bool {
	_, ok := p.m.Load(actorID)
	return ok
}

// cooldownTable remembers when each actor last finished a settlement.
// Entries are sharded by actor hash to keep lock contention low.
type cooldownTable struct {
	shards [cooldownShards]cooldownShard
}

type cooldownShard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newCooldownTable() *cooldownTable {
	t := &cooldownTable{}
	for i := range t.shards {
		t.shards[i].last = make(map[string]time.Time)
	}
	return t
}

func (t *cooldownTable) shard(actorID string) *cooldownShard {
	return &t.shards[xxhash.Sum64String(actorID)%cooldownShards]
}

func (t *cooldownTable) within(actorID string, now time.Time, window time.Duration) bool {
	s := t.shard(actorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[actorID]
	return ok && now.Sub(last) < window
}

func (t *cooldownTable) record(actorID string, now time.Time) {
	s := t.shard(actorID)
	s.mu.Lock()
	s.last[actorID] = now
	s.mu.Unlock()
}

// prune drops entries older than maxAge and returns how many were removed.
func (t *cooldownTable) prune(now time.Time, maxAge time.Duration) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, last := range s.last {
			if now.Sub(last) > maxAge {
				delete(s.last, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *cooldownTable) len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.last)
		s.mu.Unlock()
	}
	return n
}
