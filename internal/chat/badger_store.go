// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/gametable/internal/config"
	"github.com/tomtom215/gametable/internal/logging"
	"github.com/tomtom215/gametable/internal/metrics"
)

// Key prefixes for the document kinds.
const (
	prefixConversation = "conv:"
	prefixMessage      = "msg:"
	prefixUnread       = "unread:"
)

// conflictRetries bounds how often an update that lost an optimistic
// concurrency race is re-run.
const conflictRetries = 64

// BadgerStore is a Store on BadgerDB. Messages are keyed by conversation and
// creation time so a prefix scan returns them in order.
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
}

// OpenBadgerStore opens (or creates) the store described by cfg.
func OpenBadgerStore(cfg config.StoreConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("chat store opened")
	return &BadgerStore{db: db, inMemory: cfg.InMemory}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// CollectGarbage rewrites value-log files until badger reports nothing left
// to reclaim, and returns how many files were rewritten. It is a no-op for
// in-memory stores.
func (s *BadgerStore) CollectGarbage(ctx context.Context, discardRatio float64) (rewritten int, err error) {
	if s.inMemory {
		return 0, nil
	}
	defer observe("value_log_gc", time.Now(), &err)

	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return rewritten, nil
		}
		if err != nil {
			return rewritten, fmt.Errorf("value log gc: %w", err)
		}
		rewritten++
	}
	return rewritten, ctx.Err()
}

func conversationKey(id string) []byte {
	return []byte(prefixConversation + id)
}

func messagePrefix(conversationID string) []byte {
	return []byte(prefixMessage + conversationID + ":")
}

// messageKey sorts by creation time; the zero padding keeps lexical and
// numeric order equal.
func messageKey(m *Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixMessage, m.ConversationID, m.CreatedAt.UnixNano(), m.ID))
}

func unreadKey(conversationID, principalID string) []byte {
	return []byte(prefixUnread + conversationID + ":" + principalID)
}

func putJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.SetEntry(badger.NewEntry(key, data))
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// GetConversation implements Store.
func (s *BadgerStore) GetConversation(_ context.Context, id string) (_ *Conversation, err error) {
	defer observe("get_conversation", time.Now(), &err)

	var c Conversation
	err = s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(id), &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

// SaveConversation implements Store.
func (s *BadgerStore) SaveConversation(_ context.Context, c *Conversation) (err error) {
	defer observe("save_conversation", time.Now(), &err)

	err = s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, conversationKey(c.ID), c)
	})
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

// IsParticipant implements ParticipantStore. An unknown conversation has no
// participants.
func (s *BadgerStore) IsParticipant(ctx context.Context, conversationID, principalID string) (bool, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.HasParticipant(principalID), nil
}

// SaveMessage implements Store.
func (s *BadgerStore) SaveMessage(_ context.Context, m *Message) (err error) {
	defer observe("save_message", time.Now(), &err)

	err = s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, messageKey(m), m)
	})
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns the newest limit messages, oldest first. A limit of
// zero or less returns all of them.
func (s *BadgerStore) ListMessages(ctx context.Context, conversationID string, limit int) (_ []Message, err error) {
	defer observe("list_messages", time.Now(), &err)

	messages := []Message{}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := messagePrefix(conversationID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var m Message
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("chat store failed to unmarshal message")
				continue
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", conversationID, err)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// IncrementUnread adds one to the counter of every principal in one transaction.
func (s *BadgerStore) IncrementUnread(ctx context.Context, conversationID string, principalIDs []string) (err error) {
	defer observe("increment_unread", time.Now(), &err)

	err = s.update(ctx, func(txn *badger.Txn) error {
		for _, pid := range principalIDs {
			key := unreadKey(conversationID, pid)
			n, err := readCounter(txn, key)
			if err != nil {
				return err
			}
			if err := txn.Set(key, []byte(strconv.Itoa(n+1))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment unread of %s: %w", conversationID, err)
	}
	return nil
}

// Unread implements Store.
func (s *BadgerStore) Unread(_ context.Context, conversationID, principalID string) (_ int, err error) {
	defer observe("unread", time.Now(), &err)

	var n int
	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readCounter(txn, unreadKey(conversationID, principalID))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read unread of %s: %w", conversationID, err)
	}
	return n, nil
}

// ResetUnread implements Store.
func (s *BadgerStore) ResetUnread(ctx context.Context, conversationID, principalID string) (err error) {
	defer observe("reset_unread", time.Now(), &err)

	err = s.update(ctx, func(txn *badger.Txn) error {
		err := txn.Delete(unreadKey(conversationID, principalID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("reset unread of %s: %w", conversationID, err)
	}
	return nil
}

// update runs fn in a read-write transaction and re-runs it while the commit
// fails with badger.ErrConflict. Read-modify-write counters need this once
// two posts to the same conversation overlap.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	attempts := 0
	operation := func() error {
		attempts++
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, conflictRetries), ctx))
	if attempts > 1 {
		metrics.StoreConflictRetries.Add(float64(attempts - 1))
	}
	return err
}

// observe records the latency and outcome of a store operation.
func observe(operation string, start time.Time, err *error) {
	metrics.RecordStoreOperation(operation, time.Since(start), *err, classifyStoreError)
}

func classifyStoreError(err error) string {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return "not_found"
	case errors.Is(err, badger.ErrConflict):
		return "conflict"
	case errors.Is(err, badger.ErrDBClosed):
		return "closed"
	}
	return ""
}

func readCounter(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		var convErr error
		n, convErr = strconv.Atoi(string(val))
		return convErr
	})
	return n, err
}
