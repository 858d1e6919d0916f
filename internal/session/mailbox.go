package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// mailbox is a single-slot "latest wins" handoff. A put overwrites any value
// the consumer has not taken yet; the overwrite is counted as a drop.
type mailbox[T any] struct {
	mu     sync.Mutex
	val    T
	full   bool
	drops  atomic.Uint64
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	if m.full {
		m.drops.Add(1)
	}
	m.val = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.val
	m.val = zero
	m.full = false
	return v, true
}

// ready fires at least once after every put.
func (m *mailbox[T]) ready() <-chan struct{} {
	return m.notify
}

// Layer fans one rendered surface out to any number of viewers. Each viewer
// has its own mailbox, so a slow viewer skips frames instead of queueing them.
type Layer struct {
	name string
	mime string

	mu     sync.Mutex
	seq    uint64
	latest []byte
	subs   map[*Subscription]struct{}
}

// Encoded is one published rendering of a layer.
type Encoded struct {
	Seq  uint64
	Data []byte
}

func NewLayer(name, mime string) *Layer {
	return &Layer{name: name, mime: mime, subs: make(map[*Subscription]struct{})}
}

func (l *Layer) Name() string     { return l.name }
func (l *Layer) MIMEType() string { return l.mime }

// Publish replaces the layer contents and wakes every viewer.
func (l *Layer) Publish(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.latest = data
	for s := range l.subs {
		s.box.put(Encoded{Seq: l.seq, Data: data})
	}
}

// Latest returns the most recent rendering, if any.
func (l *Layer) Latest() (Encoded, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return Encoded{}, false
	}
	return Encoded{Seq: l.seq, Data: l.latest}, true
}

// Subscribe registers a viewer primed with the latest rendering.
func (l *Layer) Subscribe() *Subscription {
	s := &Subscription{layer: l, box: newMailbox[Encoded](), closed: make(chan struct{})}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest != nil {
		s.box.put(Encoded{Seq: l.seq, Data: l.latest})
	}
	l.subs[s] = struct{}{}
	return s
}

func (l *Layer) Viewers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

type Subscription struct {
	layer  *Layer
	box    *mailbox[Encoded]
	once   sync.Once
	closed chan struct{}
}

// Next blocks for the next rendering newer than the last one returned.
func (s *Subscription) Next(ctx context.Context) (Encoded, error) {
	for {
		if v, ok := s.box.take(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return Encoded{}, ctx.Err()
		case <-s.closed:
			return Encoded{}, ErrClosed
		case <-s.box.ready():
		}
	}
}

// Drops counts renderings this viewer never saw.
func (s *Subscription) Drops() uint64 {
	return s.box.drops.Load()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.layer.mu.Lock()
		delete(s.layer.subs, s)
		s.layer.mu.Unlock()
		close(s.closed)
	})
}

// Close disconnects every viewer.
func (l *Layer) Close() {
	l.mu.Lock()
	subs := make([]*Subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
