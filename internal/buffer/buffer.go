// Package buffer is the bounded, chronologically ordered window of recent
// samples that drives the dashboard.
package buffer

import (
	"errors"
	"sync"

	"speedwatch/internal/sample"
)

// DefaultCapacity is the number of samples kept in memory.
const DefaultCapacity = 100

// ErrAlreadySeeded is returned by a second call to Seed.
var ErrAlreadySeeded = errors.New("buffer already seeded")

// Handler receives a copy of the full buffer contents, oldest first.
type Handler func(contents []sample.Sample)

// Buffer keeps at most Cap() samples in FIFO order.
//
// Mutation and notification are serialised: handlers observe every push in
// order and never a half-applied one. Handlers may call Snapshot but must not
// call Push or Seed.
type Buffer struct {
	capacity int

	// notifyMu serialises mutate+notify; mu guards state only, so handlers
	// can read a Snapshot while a notification is in progress.
	notifyMu sync.Mutex
	mu       sync.RWMutex
	items    []sample.Sample
	seeded   bool
	subs     map[uint64]Handler
	nextID   uint64
}

// New returns a buffer with the given capacity (DefaultCapacity when <= 0).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		items:    make([]sample.Sample, 0, capacity),
		subs:     map[uint64]Handler{},
	}
}

func (b *Buffer) Cap() int { return b.capacity }

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Snapshot returns a copy of the contents, oldest first.
func (b *Buffer) Snapshot() []sample.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sample.Clone(b.items)
}

// Seed replaces the contents once. The input is sorted ascending by timestamp
// and trimmed to the newest Cap() samples.
func (b *Buffer) Seed(initial []sample.Sample) error {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	in := sample.Clone(initial)
	sample.SortAscending(in)
	if len(in) > b.capacity {
		in = in[len(in)-b.capacity:]
	}

	b.mu.Lock()
	if b.seeded {
		b.mu.Unlock()
		return ErrAlreadySeeded
	}
	b.seeded = true
	b.items = append(b.items[:0], in...)
	snap, handlers := b.stateLocked()
	b.mu.Unlock()

	notify(handlers, snap)
	return nil
}

// Push appends s, evicts from the head past capacity, and notifies every
// subscriber before returning.
func (b *Buffer) Push(s sample.Sample) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	b.items = append(b.items, s)
	if over := len(b.items) - b.capacity; over > 0 {
		// Shift in place so the backing array doesn't grow without bound.
		n := copy(b.items, b.items[over:])
		b.items = b.items[:n]
	}
	snap, handlers := b.stateLocked()
	b.mu.Unlock()

	notify(handlers, snap)
}

// Subscription is returned by Subscribe.
type Subscription struct {
	b    *Buffer
	id   uint64
	once sync.Once
}

// Subscribe registers h for every future notification.
func (b *Buffer) Subscribe(h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = h
	return &Subscription{b: b, id: id}
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.b == nil {
		return
	}
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s.id)
		s.b.mu.Unlock()
	})
}

func (b *Buffer) stateLocked() ([]sample.Sample, []Handler) {
	handlers := make([]Handler, 0, len(b.subs))
	// Registration order keeps delivery deterministic.
	for id := uint64(1); id <= b.nextID; id++ {
		if h, ok := b.subs[id]; ok {
			handlers = append(handlers, h)
		}
	}
	return sample.Clone(b.items), handlers
}

func notify(handlers []Handler, snap []sample.Sample) {
	for _, h := range handlers {
		if h == nil {
			continue
		}
		// Each handler gets its own copy.
		h(sample.Clone(snap))
	}
}
