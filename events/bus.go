package events

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hasbase/hasbase-core/logger"
)

// wildcard is the channel key SubscribeAll registers under.
const wildcard = "*"

// Handler receives one event.
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous pub-sub Sink. Handlers run on the emitting goroutine,
// so a slow handler slows the relay for that stream only.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // channel -> subscriptions
	nextID        atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
	}
}

// Subscribe registers handler for one channel and returns its subscription ID.
func (b *Bus) Subscribe(channel string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := "sub-" + strconv.FormatUint(b.nextID.Add(1), 10)
	b.subscriptions[channel] = append(b.subscriptions[channel], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers handler for every channel.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID. Returns true if it was found.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				// Copy so in-flight Emit snapshots are not mutated
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				b.subscriptions[channel] = append(next, subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Emit delivers payload to the channel's subscribers, then to wildcard
// subscribers, each group in registration order. A panicking handler does not
// stop delivery to the others; the first panic is returned as an error.
func (b *Bus) Emit(channel, payload string) error {
	b.mu.RLock()
	specific := b.subscriptions[channel]
	all := b.subscriptions[wildcard]
	b.mu.RUnlock()

	ev := Event{Channel: channel, Payload: payload, Timestamp: time.Now()}

	var firstErr error
	for _, group := range [][]subscription{specific, all} {
		for _, sub := range group {
			if err := safeCall(sub.handler, ev); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

func safeCall(handler Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("events").Error("event handler panicked",
				"channel", ev.Channel, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler for %s panicked: %v", ev.Channel, r)
		}
	}()
	handler(ev)
	return nil
}

var _ Sink = (*Bus)(nil)
