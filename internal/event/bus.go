package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler consumes one event. Handlers run on the subscription's own worker
// goroutine, so a slow or panicking handler never affects the publisher or
// any other subscriber.
type Handler func(Event)

// Subscription is one subscriber's bounded mailbox plus its drain worker.
type Subscription struct {
	name    string
	mbox    chan Event
	dropped atomic.Uint64
	done    chan struct{}
	closing sync.Once
}

// Name returns the subscriber name given at Subscribe time.
func (s *Subscription) Name() string {
	return s.name
}

// Dropped returns how many events were evicted from this subscriber's
// mailbox because it could not keep up.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// offer enqueues without ever blocking the publisher. On a full mailbox the
// oldest entry is evicted and counted; delivery stays FIFO.
func (s *Subscription) offer(ev Event) {
	for {
		select {
		case s.mbox <- ev:
			return
		default:
		}
		select {
		case <-s.mbox:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) drain(fn Handler) {
	defer close(s.done)
	for ev := range s.mbox {
		s.deliver(fn, ev)
	}
}

func (s *Subscription) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subscriber panicked",
				slog.String("subscriber", s.name),
				slog.String("type", ev.Type),
				slog.Any("panic", r))
		}
	}()
	fn(ev)
}

// Bus is the in-process fan-out backbone. Publish is FIFO per publisher and
// never blocks on subscriber dispatch.
type Bus struct {
	mu          sync.RWMutex
	subs        []*Subscription
	mailboxSize int
	closed      bool
}

// NewBus creates a bus whose subscribers each get a mailbox of the given size.
func NewBus(mailboxSize int) *Bus {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	return &Bus{mailboxSize: mailboxSize}
}

// Subscribe registers a handler and starts its drain worker. Every published
// event is delivered; handlers filter by type themselves.
func (b *Bus) Subscribe(name string, fn Handler) *Subscription {
	sub := &Subscription{
		name: name,
		mbox: make(chan Event, b.mailboxSize),
		done: make(chan struct{}),
	}
	go sub.drain(fn)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.mbox)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the subscription and stops its worker after the
// mailbox drains.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	// Close under the write lock so no in-flight Publish can offer into a
	// closed mailbox.
	sub.closing.Do(func() { close(sub.mbox) })
	b.mu.Unlock()

	<-sub.done
}

// Publish fans the event out to every subscriber in registration order.
// Never blocks: full mailboxes evict their oldest entry instead.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.offer(ev)
	}
}

// Dropped returns the total events evicted across all live subscriptions.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, sub := range b.subs {
		total += sub.Dropped()
	}
	return total
}

// Close stops all subscription workers after their mailboxes drain.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	for _, sub := range subs {
		sub.closing.Do(func() { close(sub.mbox) })
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
