package ledger

import (
	"context"
	"sync"
)

// Bus wraps a Store with in-process fan-out notification.
// When Append succeeds, every subscriber of that scope receives the new event.
type Bus struct {
	Store
	mu   sync.RWMutex
	subs map[chan *Event]string
}

// NewBus creates a Bus wrapping the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		Store: store,
		subs:  make(map[chan *Event]string),
	}
}

// Append delegates to the underlying store, then fans out to the scope's subscribers.
func (b *Bus) Append(ctx context.Context, scope string, d Draft) (*Event, error) {
	e, err := b.Store.Append(ctx, scope, d)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	for ch, s := range b.subs {
		if s != scope {
			continue
		}
		select {
		case ch <- copyEvent(e):
		default:
			// subscriber is behind; drop to avoid blocking Append
		}
	}
	b.mu.RUnlock()

	return e, nil
}

// Subscribe returns a buffered channel that receives new events of scope.
func (b *Bus) Subscribe(scope string) chan *Event {
	ch := make(chan *Event, 64)
	b.mu.Lock()
	b.subs[ch] = scope
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
