// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/tomtom215/gametable/internal/logging"
)

// ErrNoData is returned by mutations applied before any successful fetch.
var ErrNoData = errors.New("cache has no data")

// Notifier receives change notifications. The realtime client implements it
// by delivering the event to its local listeners.
type Notifier interface {
	Trigger(event string, data interface{})
}

// Subscriber delivers named events to fn until unsubscribed.
type Subscriber interface {
	Subscribe(event string, fn func()) (unsubscribe func())
}

// Options configures a Reconciling cache.
type Options[T any] struct {
	// Name labels metrics and logs.
	Name string

	// Equal matches items for Remove. Defaults to reflect.DeepEqual.
	Equal func(a, b T) bool

	// Notifier and ChangeEvent enable change notifications. Both must be set.
	Notifier    Notifier
	ChangeEvent string
}

// Reconciling is a list populated from a Source and then patched in place.
type Reconciling[T any] struct {
	name        string
	equal       func(a, b T) bool
	notifier    Notifier
	changeEvent string

	mu          sync.Mutex
	data        []T
	hasData     bool
	pending     *Pending[[]T]
	dirty       bool
	updates     int
	lastUpdated time.Time

	// tail is the last queued mutation; each mutation waits for its
	// predecessor so they apply in call order.
	tail <-chan struct{}

	// version increases with every change; notifications older than the
	// last one sent are skipped.
	version  uint64
	notifyMu sync.Mutex
	notified uint64
}

// New creates an empty cache.
func New[T any](opts Options[T]) *Reconciling[T] {
	equal := opts.Equal
	if equal == nil {
		equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return &Reconciling[T]{
		name:        opts.Name,
		equal:       equal,
		notifier:    opts.Notifier,
		changeEvent: opts.ChangeEvent,
	}
}

// Name returns the configured name.
func (c *Reconciling[T]) Name() string {
	return c.name
}

// Load returns the cached data when it is populated and clean. Otherwise it
// returns the in-flight fetch, starting one from src if none is running. The
// fetch runs with the ctx of the call that started it.
//
// All callers sharing a fetch receive the same slice and must not modify it.
func (c *Reconciling[T]) Load(ctx context.Context, src Source[T]) *Pending[[]T] {
	c.mu.Lock()
	if c.hasData && !c.dirty {
		data := c.snapshotLocked()
		c.mu.Unlock()
		LoadsTotal.WithLabelValues(c.name, "fresh").Inc()
		return Resolved(data)
	}
	if c.pending != nil {
		p := c.pending
		c.mu.Unlock()
		LoadsTotal.WithLabelValues(c.name, "shared").Inc()
		return p
	}

	p := NewPending[[]T]()
	c.pending = p
	c.mu.Unlock()

	go c.fetch(ctx, src, p)
	return p
}

func (c *Reconciling[T]) fetch(ctx context.Context, src Source[T], p *Pending[[]T]) {
	start := time.Now()
	items, err := callSource(ctx, src)
	FetchDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	c.mu.Lock()
	c.pending = nil
	if err != nil {
		c.mu.Unlock()
		LoadsTotal.WithLabelValues(c.name, "failed").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("cache", c.name).Msg("cache fetch failed")
		p.Reject(err)
		return
	}

	if items == nil {
		items = []T{}
	}
	c.data = items
	c.hasData = true
	c.dirty = false
	c.updates++
	c.lastUpdated = time.Now()
	c.version++
	version := c.version
	data := c.snapshotLocked()
	c.mu.Unlock()

	LoadsTotal.WithLabelValues(c.name, "fetched").Inc()
	p.Resolve(data)
	c.notify(version, data)
}

// callSource converts a source panic into an error.
func callSource[T any](ctx context.Context, src Source[T]) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("cache source panicked")
			logging.Ctx(ctx).Error().Interface("panic", r).Msg("cache source panicked")
		}
	}()
	return src.Fetch(ctx)
}

// Append adds item once no fetch is in flight. Mutations apply in call order.
// The result resolves with the data after the append, or rejects with
// ErrNoData when no fetch has succeeded yet.
func (c *Reconciling[T]) Append(item T) *Pending[[]T] {
	return c.enqueue("append", func(data []T) []T {
		return append(data, item)
	})
}

// AppendUnique is Append unless an item equal to item is already present
// when the mutation applies.
func (c *Reconciling[T]) AppendUnique(item T) *Pending[[]T] {
	return c.enqueue("append", func(data []T) []T {
		for _, existing := range data {
			if c.equal(existing, item) {
				return data
			}
		}
		return append(data, item)
	})
}

// Remove deletes every item equal to item once no fetch is in flight.
// Mutations apply in call order.
func (c *Reconciling[T]) Remove(item T) *Pending[[]T] {
	return c.enqueue("remove", func(data []T) []T {
		kept := data[:0]
		for _, existing := range data {
			if !c.equal(existing, item) {
				kept = append(kept, existing)
			}
		}
		return kept
	})
}

func (c *Reconciling[T]) enqueue(op string, apply func([]T) []T) *Pending[[]T] {
	result := NewPending[[]T]()
	done := make(chan struct{})

	c.mu.Lock()
	prev := c.tail
	c.tail = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}

		c.mu.Lock()
		for c.pending != nil {
			inflight := c.pending
			c.mu.Unlock()
			<-inflight.Done()
			c.mu.Lock()
		}

		if !c.hasData {
			c.mu.Unlock()
			MutationsTotal.WithLabelValues(c.name, op, "no_data").Inc()
			result.Reject(ErrNoData)
			return
		}

		// Copy first: slices handed out by Load must stay untouched.
		c.data = apply(append([]T(nil), c.data...))
		c.version++
		version := c.version
		data := c.snapshotLocked()
		c.mu.Unlock()

		MutationsTotal.WithLabelValues(c.name, op, "applied").Inc()
		result.Resolve(data)
		c.notify(version, data)
	}()

	return result
}

// Find returns the first item matching pred. It does not wait for an
// in-flight fetch and may observe data that is about to be replaced.
func (c *Reconciling[T]) Find(pred func(T) bool) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.data {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Data returns a copy of the current items and whether any fetch succeeded.
func (c *Reconciling[T]) Data() ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasData {
		return nil, false
	}
	return c.snapshotLocked(), true
}

// Invalidate marks the data dirty so the next Load fetches again.
func (c *Reconciling[T]) Invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// InvalidateOn marks the cache dirty whenever sub delivers event. The
// returned function stops it.
func (c *Reconciling[T]) InvalidateOn(sub Subscriber, event string) (stop func()) {
	return sub.Subscribe(event, c.Invalidate)
}

// Dirty reports whether the data was invalidated since the last fetch.
func (c *Reconciling[T]) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// InFlight reports whether a fetch is running.
func (c *Reconciling[T]) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Updates returns the number of successful fetches.
func (c *Reconciling[T]) Updates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

// HasInitialData is true after exactly one successful fetch.
func (c *Reconciling[T]) HasInitialData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates == 1
}

// LastUpdated returns when the last successful fetch completed.
func (c *Reconciling[T]) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

func (c *Reconciling[T]) snapshotLocked() []T {
	return append([]T{}, c.data...)
}

func (c *Reconciling[T]) notify(version uint64, data []T) {
	if c.notifier == nil || c.changeEvent == "" {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if version <= c.notified {
		return
	}
	c.notified = version
	c.notifier.Trigger(c.changeEvent, data)
}
