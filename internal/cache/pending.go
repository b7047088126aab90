// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrNotSettled is returned by Result before the Pending settles.
var ErrNotSettled = errors.New("pending result not settled")

// Pending is a result that settles exactly once, either resolved with a value
// or rejected with an error. Every waiter observes the same outcome.
type Pending[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewPending returns an unsettled result.
func NewPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// Resolved returns a result already resolved with v.
func Resolved[T any](v T) *Pending[T] {
	p := NewPending[T]()
	p.Resolve(v)
	return p
}

// Rejected returns a result already rejected with err.
func Rejected[T any](err error) *Pending[T] {
	p := NewPending[T]()
	p.Reject(err)
	return p
}

// Resolve settles p with v. It reports false if p had already settled.
func (p *Pending[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject settles p with err. It reports false if p had already settled.
func (p *Pending[T]) Reject(err error) bool {
	if err == nil {
		err = errors.New("rejected without error")
	}
	var zero T
	return p.settle(zero, err)
}

func (p *Pending[T]) settle(v T, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}

// Done is closed once p settles.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether p has settled.
func (p *Pending[T]) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until p settles or ctx ends. A ctx error does not settle p.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrNotSettled.
func (p *Pending[T]) Result() (T, error) {
	if !p.Settled() {
		var zero T
		return zero, ErrNotSettled
	}
	return p.value, p.err
}
