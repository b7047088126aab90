// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

/*
Package cache provides the client-side reconciling cache used by list views
that are populated over HTTP and then kept current by realtime pushes.

# Overview

A Reconciling[T] holds one list of T and the bookkeeping around it:

  - at most one fetch in flight; concurrent Load calls share its Pending result
  - Append and Remove wait for the in-flight fetch to settle and apply in call order
  - data stays unset until the first successful fetch
  - HasInitialData reports whether exactly one successful population happened

# Sources

Load accepts any Source[T]. Three are provided:

  - Executor[T]: a function returning the items
  - Locator[T]: a URL fetched with GET through an HTTPFetcher
  - Request[T]: a prepared *http.Request sent through an HTTPFetcher

HTTPFetcher wraps an *http.Client with a sony/gobreaker circuit breaker, so a
failing backend fails fast instead of stacking up slow requests.

# Usage Example

	fetcher := cache.NewHTTPFetcher("chat-api", http.DefaultClient)
	messages := cache.New(cache.Options[chat.Message]{
	    Name:        "messages",
	    Equal:       func(a, b chat.Message) bool { return a.ID == b.ID },
	    Notifier:    client,
	    ChangeEvent: "messages.changed",
	})

	items, err := messages.Load(ctx, cache.Locator[chat.Message]{
	    Fetcher: fetcher,
	    URL:     "https://table.example/api/v1/conversations/5/messages",
	}).Wait(ctx)

# Failure Handling

A failed fetch rejects the shared Pending result and leaves data and the dirty
flag untouched, so the next Load fetches again. Nothing in this package cancels
a fetch on its own; a stalled source keeps the cache in flight until the
source's context ends.

# Thread Safety

All methods are safe for concurrent use.
*/
package cache
