package chat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/message"
)

// View is an immutable snapshot of the inbox handed to subscribers.
type View struct {
	Conversations []message.Conversation
	Messages      []message.Message
	SyncedAt      time.Time // zero until the first successful fetch
	Pending       int       // local sends not yet listed by the server
}

// Subscriber receives views. Ch holds at most one view: the newest one not
// yet consumed.
type Subscriber struct {
	Name string
	Ch   chan View
}

// Broker fans views out to subscribers without ever blocking the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	dropped     uint64
	logger      *zap.Logger
}

// NewBroker creates a new view broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With(zap.String("component", "broker")),
	}
}

// Subscribe registers a named subscriber, replacing any previous one with
// the same name.
func (b *Broker) Subscribe(name string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[name]; ok {
		close(old.Ch)
	}
	sub := &Subscriber{Name: name, Ch: make(chan View, 1)}
	b.subscribers[name] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[name]; ok {
		close(sub.Ch)
		delete(b.subscribers, name)
	}
}

// Publish offers v to every subscriber. A subscriber that has not consumed
// its previous view gets it replaced by v. Returns the number of views
// replaced this way.
func (b *Broker) Publish(v View) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, sub := range b.subscribers {
		select {
		case sub.Ch <- v:
			continue
		default:
		}
		select {
		case <-sub.Ch:
			dropped++
		default:
		}
		sub.Ch <- v
	}
	if dropped > 0 {
		b.dropped += uint64(dropped)
		b.logger.Debug("replaced unconsumed views", zap.Int("dropped", dropped), zap.Uint64("total", b.dropped))
	}
	return dropped
}

// Dropped returns how many views were replaced before being consumed.
func (b *Broker) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close unsubscribes everyone.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, name)
	}
}
