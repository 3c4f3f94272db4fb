package bus

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	SubscriptionID string
	Value          any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bus: handler %s panicked: %v", e.SubscriptionID, e.Value)
}

type subscription[E any] struct {
	id      string
	topic   string
	key     string
	handler Handler[E]
	active  atomic.Bool
	cancel  func()
}

func (s *subscription[E]) ID() string     { return s.id }
func (s *subscription[E]) Topic() string  { return s.topic }
func (s *subscription[E]) Key() string    { return s.key }
func (s *subscription[E]) IsActive() bool { return s.active.Load() }
func (s *subscription[E]) Cancel() error {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// inMemoryBus keeps subscriptions in registration order so delivery is deterministic.
type inMemoryBus[E any] struct {
	mu sync.RWMutex
	// handlers: topic -> key -> subscriptions
	handlers  map[string]map[string][]*subscription[E]
	metrics   Metrics
	observers map[Observer]struct{}
}

// New creates a new EventBus instance.
func New[E any]() EventBus[E] {
	return &inMemoryBus[E]{
		handlers:  make(map[string]map[string][]*subscription[E]),
		observers: make(map[Observer]struct{}),
	}
}

func (b *inMemoryBus[E]) Subscribe(topic, key string, handler Handler[E]) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string][]*subscription[E])
	}
	s := &subscription[E]{id: uuid.NewString(), topic: topic, key: key, handler: handler}
	s.active.Store(true)
	s.cancel = func() { b.remove(s) }
	b.handlers[topic][key] = append(b.handlers[topic][key], s)
	return s
}

func (b *inMemoryBus[E]) remove(s *subscription[E]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := b.handlers[s.topic]
	if keys == nil {
		return
	}
	keys[s.key] = slices.DeleteFunc(keys[s.key], func(x *subscription[E]) bool { return x.id == s.id })
	if len(keys[s.key]) == 0 {
		delete(keys, s.key)
	}
	if len(keys) == 0 {
		delete(b.handlers, s.topic)
	}
}

func (b *inMemoryBus[E]) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus[E]) SubscriberCount(topic, key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic][key])
}

func (b *inMemoryBus[E]) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *inMemoryBus[E]) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *inMemoryBus[E]) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *inMemoryBus[E]) GetTopics() []TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]TopicInfo, 0, len(b.handlers))
	for name, keys := range b.handlers {
		info := TopicInfo{Name: name, Keys: len(keys)}
		for _, subs := range keys {
			info.Subs += len(subs)
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, c TopicInfo) int { return strings.Compare(a.Name, c.Name) })
	return out
}

func (b *inMemoryBus[E]) Publish(topic, key string, event E) error {
	start := time.Now()
	b.mu.RLock()
	var subs []*subscription[E]
	if keys := b.handlers[topic]; keys != nil {
		subs = append(subs, keys[key]...)
		if key != AnyKey {
			subs = append(subs, keys[AnyKey]...)
		}
	}
	observers := make([]Observer, 0, len(b.observers))
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(topic, key)
	}

	var errs []error
	panics := 0
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		if err := invoke(s, event); err != nil {
			var pe *PanicError
			if errors.As(err, &pe) {
				panics++
			}
			errs = append(errs, err)
		}
	}
	all := errors.Join(errs...)

	if len(observers) > 0 {
		elapsed := time.Since(start)
		for _, obs := range observers {
			obs.OnDelivered(topic, key, len(subs), all, elapsed)
		}
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.DeliveredHandlers += uint64(len(subs))
		if all != nil {
			b.metrics.Errors++
		}
		b.metrics.Panics += uint64(panics)
		b.metrics.Topics = uint64(len(b.handlers))
		var active uint64
		for _, keys := range b.handlers {
			for _, m := range keys {
				active += uint64(len(m))
			}
		}
		b.metrics.SubscribersActive = active
		b.mu.Unlock()
	}
	return all
}

func invoke[E any](s *subscription[E], event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{SubscriptionID: s.id, Value: r}
		}
	}()
	return s.handler(event)
}
