// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPending_SettlesOnce(t *testing.T) {
	p := NewPending[int]()
	if p.Settled() {
		t.Fatal("new pending should not be settled")
	}
	if _, err := p.Result(); !errors.Is(err, ErrNotSettled) {
		t.Errorf("Result() error = %v, want ErrNotSettled", err)
	}

	if !p.Resolve(7) {
		t.Fatal("first Resolve should settle")
	}
	if p.Resolve(8) || p.Reject(errors.New("late")) {
		t.Error("second settle should be ignored")
	}

	v, err := p.Wait(context.Background())
	if err != nil || v != 7 {
		t.Errorf("Wait() = %d, %v; want 7, nil", v, err)
	}
}

func TestPending_Rejected(t *testing.T) {
	boom := errors.New("boom")
	p := Rejected[string](boom)
	if _, err := p.Result(); !errors.Is(err, boom) {
		t.Errorf("Result() error = %v, want boom", err)
	}

	if _, err := Rejected[int](nil).Result(); err == nil {
		t.Error("rejecting with nil should still carry an error")
	}
}

func TestPending_WaitHonoursContext(t *testing.T) {
	p := NewPending[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
	if p.Settled() {
		t.Error("a cancelled wait must not settle the result")
	}
}

func TestPending_ManyWaiters(t *testing.T) {
	p := NewPending[string]()
	results := make(chan string, 5)
	for i := 0; i < 5; i++ {
		go func() {
			v, _ := p.Wait(context.Background())
			results <- v
		}()
	}

	p.Resolve("same")
	for i := 0; i < 5; i++ {
		if v := <-results; v != "same" {
			t.Errorf("waiter saw %q", v)
		}
	}
}
