// Package bus is the in-process message bus between the input layer, the placement
// engine and the render/persistence consumers. The host creates one and passes it by
// reference; there is no package-level instance.
package bus

import (
	"sync"

	"slotplan.ai/internal/protocol"
)

type Message struct {
	Seq   uint64
	Event protocol.Event
}

func (m Message) Name() string { return m.Event.EventName() }

type Handler func(Message)

type Bus interface {
	Publish(ev protocol.Event)
	Subscribe(name string, h Handler) (unsubscribe func())
	SubscribeAll(h Handler) (unsubscribe func())
}

type subscription struct {
	id uint64
	h  Handler
}

// Local delivers synchronously, in publish order. An event published from inside a
// handler is queued and delivered after the current event has reached every handler.
type Local struct {
	mu     sync.Mutex
	byName map[string][]subscription
	all    []subscription
	nextID uint64

	queue       []Message
	dispatching bool
	seq         uint64
}

func NewLocal() *Local {
	return &Local{byName: map[string][]subscription{}}
}

func (b *Local) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byName[name] = append(b.byName[name], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byName[name] = without(b.byName[name], id)
	}
}

func (b *Local) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

func (b *Local) Publish(ev protocol.Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	b.seq++
	b.queue = append(b.queue, Message{Seq: b.seq, Event: ev})
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue[0] = Message{}
		b.queue = b.queue[1:]
		handlers := make([]subscription, 0, len(b.byName[msg.Name()])+len(b.all))
		handlers = append(handlers, b.byName[msg.Name()]...)
		handlers = append(handlers, b.all...)
		b.mu.Unlock()

		for _, s := range handlers {
			s.h(msg)
		}
	}
}

func (b *Local) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Recorder keeps every message it sees. Useful for consumers that batch and for tests.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Handle(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Name())
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
