package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus. Handlers subscribe by
// event type and are called synchronously in the publisher goroutine; their
// errors are joined and returned from Publish.
//
// The core publishes spawner lifecycle and sale events here. Anything that
// renders spawner state (screens, holograms, the websocket feed) subscribes
// instead of being called directly.
type EventBus interface {
	// Publish delivers the event to all active subscribers of event.Type().
	Publish(event Event) error
	// PublishAsync publishes in a separate goroutine. The returned channel
	// receives the joined handler error and is then closed.
	PublishAsync(event Event) <-chan error
	// Subscribe registers a handler for one event type. The wildcard type
	// AnyEvent receives everything.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the subscription. Nil is allowed.
	Unsubscribe(Subscription) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics is only updated while at least one observer is registered.
	GetMetrics() EventBusMetrics
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type EventHandler func(event Event) error

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers should return
// quickly.
type EventBusObserver interface {
	OnPublish(eventType string, event Event)
	OnDelivered(eventType string, handlers int, err error, durationMicros int64)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
