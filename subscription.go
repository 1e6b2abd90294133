package hypo

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// subscription is one registered clipboard callback.
type subscription struct {
	id       string
	filter   ContentType // "" matches every content type
	callback func(*Message)
	active   atomic.Bool
}

// subscriptionManager handles clipboard subscriptions with safe lifecycle
// management. Callbacks are never invoked after unsubscribe returns.
type subscriptionManager struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	nextID atomic.Uint64
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{
		subs: make(map[string]*subscription),
	}
}

// subscribe registers callback for messages of type filter, or all
// messages when filter is empty. The returned function unsubscribes.
func (m *subscriptionManager) subscribe(filter ContentType, callback func(*Message)) func() {
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &subscription{
		id:       id,
		filter:   filter,
		callback: callback,
	}
	sub.active.Store(true)

	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()

	return func() {
		m.unsubscribe(id)
	}
}

// unsubscribe removes a subscription. Safe to call multiple times.
func (m *subscriptionManager) unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[id]; ok {
		sub.active.Store(false)
		delete(m.subs, id)
	}
}

// notify calls every matching callback synchronously, outside the lock.
func (m *subscriptionManager) notify(msg *Message) int {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.filter == "" || sub.filter == msg.Payload.ContentType {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	called := 0
	for _, sub := range subs {
		if sub.active.Load() {
			sub.callback(msg)
			called++
		}
	}
	return called
}

func (m *subscriptionManager) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// clear removes all subscriptions. Called from Client.Close.
func (m *subscriptionManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		sub.active.Store(false)
	}
	m.subs = make(map[string]*subscription)
}
