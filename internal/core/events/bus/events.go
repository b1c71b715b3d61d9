package bus

import "github.com/zeusync/smartspawner/internal/core/spawner"

// Event types published by the core.
const (
	TypeSpawnerAdded       = "spawner.added"
	TypeSpawnerRemoved     = "spawner.removed"
	TypeSpawnerActivity    = "spawner.activity"
	TypeInventoryChanged   = "spawner.inventory"
	TypeInventoryClosed    = "spawner.inventory_closed"
	TypeSettlementComplete = "settlement.completed"
	TypeSettlementFailed   = "settlement.failed"
)

// SpawnerEvent is the payload of every spawner.* event.
type SpawnerEvent struct {
	SpawnerID string           `json:"spawner_id"`
	Location  spawner.Location `json:"location"`
	Active    bool             `json:"active"`
	Items     int64            `json:"items"`
}

func NewSpawnerEvent(typ, src string, s *spawner.Spawner) Event {
	return NewEvent(typ, src, SpawnerEvent{
		SpawnerID: s.ID(),
		Location:  s.Location(),
		Active:    s.Active(),
		Items:     s.Inventory().Total(),
	})
}

// Nop is a bus that drops everything, for components built without one.
func Nop() EventBus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) error { return nil }
func (nopBus) PublishAsync(Event) <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}
func (nopBus) Subscribe(string, EventHandler) (Subscription, error) {
	return nopSubscription{}, nil
}
func (nopBus) Unsubscribe(Subscription) error  { return nil }
func (nopBus) AddObserver(EventBusObserver)    {}
func (nopBus) RemoveObserver(EventBusObserver) {}
func (nopBus) GetMetrics() (m EventBusMetrics) { return m }

type nopSubscription struct{}

func (nopSubscription) ID() string        { return "" }
func (nopSubscription) EventType() string { return "" }
func (nopSubscription) IsActive() bool    { return false }
func (nopSubscription) Cancel() error     { return nil }
