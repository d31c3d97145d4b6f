// Package subscription multiplexes native change listeners into callbacks.
//
// Every subscription owns an unbounded queue fed by the driver's listener
// and one goroutine that drains it, decrypts payloads and invokes the
// callback. Callbacks of one subscription never run concurrently.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/redbco/redb-storage/internal/metrics"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/encryption"
	"github.com/redbco/redb-storage/pkg/logger"
	"github.com/redbco/redb-storage/pkg/query"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("subscription manager is closed")

// Callback receives notifications for one subscription. It must not call
// Unsubscribe for its own subscription synchronously; doing so deadlocks.
type Callback func(adapter.Notification)

// Manager owns the subscriptions of one driver.
type Manager struct {
	driver adapter.Driver
	codec  *encryption.Codec
	log    *logger.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	info     adapter.Subscription
	listener adapter.Listener
	queue    *queue
	callback Callback
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager for driver. codec may be nil when payloads
// are not encrypted.
func NewManager(driver adapter.Driver, codec *encryption.Codec, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		driver: driver,
		codec:  codec,
		log:    log,
		subs:   make(map[string]*subscription),
	}
}

// Subscribe starts a native listener on collection. Drivers without push
// support yield an *adapter.UnsupportedOperationError and nothing is
// registered.
func (m *Manager) Subscribe(ctx context.Context, collection string, filter query.FilterSet, callback Callback) (adapter.Subscription, error) {
	if callback == nil {
		return adapter.Subscription{}, adapter.NewValidationError("callback", "is required")
	}
	if collection == "" {
		return adapter.Subscription{}, adapter.NewValidationError("collection", "is required")
	}
	if adapter.IsUnsupportedSubscriber(m.driver) {
		return adapter.Subscription{}, adapter.NewUnsupportedOperationError(m.driver.Type(), "subscribe", "backend has no native change notifications")
	}
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.Subscription{}, err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return adapter.Subscription{}, ErrClosed
	}

	s := &subscription{
		info: adapter.Subscription{
			ID:         uuid.NewString(),
			Collection: collection,
			Filter:     filter,
		},
		queue:    newQueue(),
		callback: callback,
		done:     make(chan struct{}),
	}
	go m.deliver(s)

	listener, err := m.driver.Subscribe(ctx, collection, filter, s.queue.push)
	if err != nil {
		s.queue.close()
		<-s.done
		return adapter.Subscription{}, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}
	s.listener = listener

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.stop(s)
		return adapter.Subscription{}, ErrClosed
	}
	m.subs[s.info.ID] = s
	m.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues(string(m.driver.Type())).Inc()
	m.log.Infof("Subscription %s started on %s", s.info.ID, collection)
	return s.info, nil
}

// Unsubscribe stops the subscription and waits for an in-flight callback
// to return. No callback runs after Unsubscribe returns. Unknown ids
// return false.
func (m *Manager) Unsubscribe(id string) bool {
	m.mu.Lock()
	s, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.stop(s)
	metrics.ActiveSubscriptions.WithLabelValues(string(m.driver.Type())).Dec()
	m.log.Infof("Subscription %s on %s stopped", id, s.info.Collection)
	return true
}

// Active returns the registered subscriptions.
func (m *Manager) Active() []adapter.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.info)
	}
	return out
}

// Close stops every subscription. Later Subscribe calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Unsubscribe(id)
	}
}

func (m *Manager) stop(s *subscription) {
	s.stopOnce.Do(func() {
		if s.listener != nil {
			s.listener.Stop()
		}
		s.queue.close()
		<-s.done
	})
}

func (m *Manager) deliver(s *subscription) {
	defer close(s.done)
	backend := string(m.driver.Type())
	for {
		n, ok := s.queue.pop()
		if !ok {
			return
		}
		n = m.decrypt(n)
		metrics.NotificationsTotal.WithLabelValues(backend, string(n.Type)).Inc()
		m.invoke(s, n)
	}
}

func (m *Manager) decrypt(n adapter.Notification) adapter.Notification {
	if n.Payload == nil || n.Type == adapter.ChangeError {
		return n
	}
	payload, err := m.codec.DecryptRecord(n.Collection, n.Payload)
	if err != nil {
		return adapter.Notification{
			Type:       adapter.ChangeError,
			Collection: n.Collection,
			DocumentID: n.DocumentID,
			Timestamp:  n.Timestamp,
			Err:        err,
		}
	}
	n.Payload = payload
	return n
}

func (m *Manager) invoke(s *subscription, n adapter.Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("Subscription %s callback panicked: %v", s.info.ID, r)
		}
	}()
	s.callback(n)
}
