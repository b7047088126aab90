// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package services

import (
	"context"
	"time"

	"github.com/tomtom215/gametable/internal/logging"
)

// GarbageCollector is satisfied by *chat.BadgerStore.
type GarbageCollector interface {
	CollectGarbage(ctx context.Context, discardRatio float64) (int, error)
}

// StoreGCService reclaims value-log space of the chat store on a fixed
// interval. A failed pass is logged and retried on the next tick.
type StoreGCService struct {
	store        GarbageCollector
	interval     time.Duration
	discardRatio float64
	name         string
}

// NewStoreGCService creates the service.
func NewStoreGCService(store GarbageCollector, interval time.Duration, discardRatio float64) *StoreGCService {
	return &StoreGCService{
		store:        store,
		interval:     interval,
		discardRatio: discardRatio,
		name:         "store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect(ctx)
		}
	}
}

func (s *StoreGCService) collect(ctx context.Context) {
	start := time.Now()
	rewritten, err := s.store.CollectGarbage(ctx, s.discardRatio)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn().Err(err).Str("component", s.name).Msg("value log gc failed")
		}
		return
	}
	if rewritten > 0 {
		logging.Info().
			Str("component", s.name).
			Int("rewritten", rewritten).
			Dur("duration", time.Since(start)).
			Msg("value log gc reclaimed space")
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *StoreGCService) String() string {
	return s.name
}
