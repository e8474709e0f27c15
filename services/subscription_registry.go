package services

import (
	"sync"

	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

// OrderListener receives every decoded order update.
type OrderListener func(models.OrderRecord)

// SubscriptionHandle identifies one registered listener.
type SubscriptionHandle uint64

type subscriber struct {
	handle   SubscriptionHandle
	listener OrderListener
}

// SubscriptionRegistry fans decoded orders out to listeners. A panicking
// listener is logged and does not affect the others.
type SubscriptionRegistry struct {
	mu      sync.RWMutex
	nextID  SubscriptionHandle
	subs    []subscriber
	metrics *SyncMetrics
}

// NewSubscriptionRegistry counts listener panics in metrics, which may be nil.
func NewSubscriptionRegistry(metrics *SyncMetrics) *SubscriptionRegistry {
	return &SubscriptionRegistry{metrics: metrics}
}

func (sr *SubscriptionRegistry) Subscribe(listener OrderListener) SubscriptionHandle {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.nextID++
	handle := sr.nextID
	sr.subs = append(sr.subs, subscriber{handle: handle, listener: listener})
	return handle
}

// Unsubscribe removes the listener; unknown or already removed handles are
// ignored. Removing the last listener leaves the stream connected.
func (sr *SubscriptionRegistry) Unsubscribe(handle SubscriptionHandle) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	for i, s := range sr.subs {
		if s.handle == handle {
			sr.subs = append(sr.subs[:i:i], sr.subs[i+1:]...)
			return
		}
	}
}

func (sr *SubscriptionRegistry) Len() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.subs)
}

// Dispatch delivers order to every listener in registration order.
// Listeners may subscribe or unsubscribe while being called.
func (sr *SubscriptionRegistry) Dispatch(order models.OrderRecord) {
	sr.mu.RLock()
	subs := make([]subscriber, len(sr.subs))
	copy(subs, sr.subs)
	sr.mu.RUnlock()

	for _, s := range subs {
		sr.invoke(s, order)
	}
}

func (sr *SubscriptionRegistry) invoke(s subscriber, order models.OrderRecord) {
	defer func() {
		if r := recover(); r != nil {
			sr.metrics.ListenerPanic()
			utils.ErrorLogger.WithField("component", "registry").
				Errorf("Order listener %d panicked on order %s: %v", s.handle, order.ID, r)
		}
	}()
	s.listener(order.Clone())
}
