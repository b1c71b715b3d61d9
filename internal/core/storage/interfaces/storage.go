package interfaces

import (
	"context"

	"github.com/zeusync/smartspawner/internal/core/spawner"
)

// Store persists spawners. The registry drives it on add and remove; how and
// when rows reach disk is up to the implementation.
type Store interface {
	LoadAll(ctx context.Context) (map[string]*spawner.Spawner, error)
	QueueSave(id string)
	MarkModified(id string)
	SaveAll(ctx context.Context, spawners []*spawner.Spawner) error
	DeleteByID(ctx context.Context, id string) error
}

// Source resolves ids to live spawners for stores that save lazily.
type Source interface {
	GetByID(id string) (*spawner.Spawner, bool)
}

// NopStore keeps nothing.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) LoadAll(context.Context) (map[string]*spawner.Spawner, error) {
	return map[string]*spawner.Spawner{}, nil
}
func (NopStore) QueueSave(string)                                  {}
func (NopStore) MarkModified(string)                               {}
func (NopStore) SaveAll(context.Context, []*spawner.Spawner) error { return nil }
func (NopStore) DeleteByID(context.Context, string) error          { return nil }
