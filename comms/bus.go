package comms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// DefaultHistorySize bounds the messages an InMemoryBus retains.
const DefaultHistorySize = 1000

// InMemoryBus delivers messages synchronously to in-process subscribers and
// keeps a bounded log of everything published.
type InMemoryBus struct {
	mu      sync.RWMutex
	subs    []subscription
	lastID  int
	log     []*Message
	logSize int
}

type subscription struct {
	id      int
	agentID string
	handler Handler
}

// wants reports whether the subscription receives msg. Broadcasts reach
// everyone; other messages reach their addressee and Wildcard observers.
func (s subscription) wants(msg *Message) bool {
	return s.agentID == Wildcard || msg.Type == TypeBroadcast || s.agentID == msg.To
}

// BusOption configures an InMemoryBus.
type BusOption func(*InMemoryBus)

// WithHistorySize bounds the message log. Non-positive values are ignored.
func WithHistorySize(n int) BusOption {
	return func(b *InMemoryBus) {
		if n > 0 {
			b.logSize = n
		}
	}
}

// NewInMemoryBus creates an InMemoryBus retaining DefaultHistorySize messages
// unless WithHistorySize says otherwise.
func NewInMemoryBus(opts ...BusOption) *InMemoryBus {
	b := &InMemoryBus{logSize: DefaultHistorySize}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records msg and hands it to every interested subscriber in
// subscription order. A failing handler does not stop delivery to the rest;
// all handler errors are joined into the returned error.
func (b *InMemoryBus) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("publish: nil message")
	}

	b.mu.Lock()
	b.log = append(b.log, msg)
	if over := len(b.log) - b.logSize; over > 0 {
		b.log = slices.Delete(b.log, 0, over)
	}
	var targets []Handler
	for _, s := range b.subs {
		if s.wants(msg) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d handler error(s): %w", msg.ID, len(errs), errors.Join(errs...))
	}
	return nil
}

// Subscribe registers handler for messages addressed to agentID, or for every
// message when agentID is Wildcard. The returned function is idempotent.
func (b *InMemoryBus) Subscribe(agentID string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	id := b.lastID
	b.subs = append(b.subs, subscription{id: id, agentID: agentID, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// History returns up to limit of the newest messages agentID can see, oldest
// first: messages to or from agentID plus broadcasts. An empty or Wildcard
// agentID sees the whole log. A non-positive limit returns everything.
func (b *InMemoryBus) History(agentID string, limit int) ([]*Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	visible := func(m *Message) bool {
		if agentID == "" || agentID == Wildcard {
			return true
		}
		return m.To == agentID || m.From == agentID || m.Type == TypeBroadcast
	}

	var out []*Message
	for _, m := range slices.Backward(b.log) {
		if !visible(m) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	slices.Reverse(out)
	return out, nil
}
