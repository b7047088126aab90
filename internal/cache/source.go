// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/gametable/internal/logging"
)

// maxResponseBytes bounds the body read by HTTPFetcher.
const maxResponseBytes = 8 << 20

// Source produces the items a Reconciling cache is populated with.
type Source[T any] interface {
	Fetch(ctx context.Context) ([]T, error)
}

// Executor is a Source backed by a function.
type Executor[T any] func(ctx context.Context) ([]T, error)

// Fetch implements Source.
func (e Executor[T]) Fetch(ctx context.Context) ([]T, error) {
	return e(ctx)
}

// Locator is a Source fetched with GET from URL.
type Locator[T any] struct {
	Fetcher *HTTPFetcher
	URL     string
}

// Fetch implements Source.
func (l Locator[T]) Fetch(ctx context.Context) ([]T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return decodeItems[T](l.Fetcher.Do(req))
}

// Request is a Source sent as a prepared request. The request is cloned with
// the fetch context, so one Request can be loaded repeatedly as long as it
// has no body.
type Request[T any] struct {
	Fetcher *HTTPFetcher
	Req     *http.Request
}

// Fetch implements Source.
func (r Request[T]) Fetch(ctx context.Context) ([]T, error) {
	if r.Req == nil {
		return nil, errors.New("nil request")
	}
	return decodeItems[T](r.Fetcher.Do(r.Req.Clone(ctx)))
}

func decodeItems[T any](body []byte, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return items, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTPFetcher sends requests through a circuit breaker. The breaker opens
// when at least 60% of 10 or more requests in a minute fail and probes again
// after the open timeout.
type HTTPFetcher struct {
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	name   string
}

// NewHTTPFetcher creates a fetcher named for metrics and logs. A nil client
// uses a client with a 30 second timeout.
func NewHTTPFetcher(name string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &HTTPFetcher{client: client, cb: cb, name: name}
}

// Do sends req and returns the body of a 2xx response.
func (f *HTTPFetcher) Do(req *http.Request) ([]byte, error) {
	body, err := f.cb.Execute(func() ([]byte, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	})

	switch {
	case err == nil:
		CircuitBreakerRequests.WithLabelValues(f.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		CircuitBreakerRequests.WithLabelValues(f.name, "rejected").Inc()
		logging.Warn().Err(err).Str("breaker", f.name).Msg("request rejected by circuit breaker")
	default:
		CircuitBreakerRequests.WithLabelValues(f.name, "failure").Inc()
	}
	return body, err
}

// State returns the breaker state.
func (f *HTTPFetcher) State() gobreaker.State {
	return f.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
