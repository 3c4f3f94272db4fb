package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus carrying events of type E.
//
// Key characteristics:
// - Key-based fan-out: handlers subscribe to a key within a topic. AnyKey receives every key.
// - Synchronous delivery: Publish calls handlers in the caller goroutine, in subscription order.
// - Isolation: a handler that fails or panics does not stop delivery to the others.
// - Error aggregation: handler errors (and recovered panics) are joined and returned from Publish.
// - Optional observability: metrics are produced only when observers are registered.
//
// Handlers should be quick or offload heavy work to avoid blocking publishers.
type EventBus[E any] interface {
	// Publish delivers event to every active subscriber of key in topic, plus
	// the topic's AnyKey subscribers.
	Publish(topic, key string, event E) error
	// Subscribe registers a handler and returns a Subscription handle that can be used to cancel later.
	Subscribe(topic, key string, handler Handler[E]) Subscription
	// Unsubscribe cancels the given Subscription. It is safe to call with nil; does nothing.
	Unsubscribe(Subscription) error
	// SubscriberCount reports active subscribers for an exact topic/key pair.
	SubscriberCount(topic, key string) int

	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	// GetMetrics returns a best-effort snapshot of accumulated metrics. Metrics are only
	// collected when at least one observer is registered.
	GetMetrics() Metrics
	// GetTopics returns a snapshot list of known topics sorted by name.
	GetTopics() []TopicInfo
}

// AnyKey subscribes a handler to every key published within a topic.
const AnyKey = "*"

// Handler is a user callback invoked per delivered event. If it returns an
// error, Publish aggregates and returns it.
type Handler[E any] func(event E) error

// Subscription represents a registered handler bound to a topic and key.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	Topic() string
	Key() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel() error
}

// Observer is notified about deliveries and errors. Observers should return quickly.
type Observer interface {
	OnPublish(topic, key string)
	OnDelivered(topic, key string, handlers int, err error, elapsed time.Duration)
}

// Metrics represents a minimal set of counters; it is updated only when
// at least one observer is registered.
type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	Panics            uint64
	SubscribersActive uint64
	Topics            uint64
}

// TopicInfo provides a minimal snapshot about a topic.
type TopicInfo struct {
	Name string
	Keys int
	Subs int
}
