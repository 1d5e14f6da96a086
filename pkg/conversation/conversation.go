// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation persists chat history across Kodiak sessions.
//
// The Store writes each turn to an embedded Badger database under a
// per-conversation key prefix, so a conversation can be resumed after the
// process exits. The Manager layers a notion of "active conversation" on
// top of the Store and is what the chat loop talks to.
//
// Key format: "msg:{conversation_id}:{seq:016d}" for turns and
// "conv:{conversation_id}" for conversation metadata. Sequence numbers are
// zero-padded so lexicographic key order is chronological order.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/KodiakCLI/pkg/storage/badger"
	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

const conversationTracerName = "kodiak.conversation"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStoreClosed is returned when operations are called on a closed store.
	ErrStoreClosed = errors.New("conversation store is closed")

	// ErrConversationNotFound is returned when the conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyRole is returned when a message is appended without a role.
	ErrEmptyRole = errors.New("message role must not be empty")
)

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// Message roles, matching the wire roles the LLM backends accept.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	// ID is a UUID assigned when the message is appended.
	ID string `json:"id"`

	// Role is the speaker: system, user, or assistant.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// CreatedAt is when the message was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Info describes a stored conversation.
type Info struct {
	// ID is the conversation UUID.
	ID string `json:"id"`

	// CreatedAt is when the conversation was started (UTC).
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the last message was appended (UTC).
	UpdatedAt time.Time `json:"updated_at"`

	// MessageCount is the number of messages appended so far.
	MessageCount int64 `json:"message_count"`
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the conversation store.
type Config struct {
	// Path is the directory for the Badger files.
	// Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory (for tests).
	InMemory bool

	// TTL expires messages this long after they are written.
	// Zero keeps history forever.
	TTL time.Duration

	// Logger for store operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a persistent store rooted under the user's Kodiak
// directory with history kept for 30 days.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Path: filepath.Join(home, ".kodiak", "conversations"),
		TTL:  30 * 24 * time.Hour,
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for a persistent store")
	}
	if c.TTL < 0 {
		return errors.New("ttl must be non-negative")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the Badger-backed conversation log.
//
// Thread Safety: Safe for concurrent use. Appends are serialized internally
// so sequence numbers and conversation metadata never conflict.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	seqs   map[string]uint64
	closed bool
}

// Open creates a Store backed by a Badger database at cfg.Path.
//
// Description:
//
//	Validates the configuration, opens (or creates) the database, and
//	returns a ready store. Persistent stores keep SyncWrites on so a
//	killed session never loses the turn that was just recorded.
//
// Outputs:
//   - *Store: The open store.
//   - error: Non-nil if the configuration is invalid or Badger fails to open.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dbCfg := badger.DefaultConfig()
	dbCfg.Path = cfg.Path
	dbCfg.InMemory = cfg.InMemory
	dbCfg.Logger = cfg.Logger
	if cfg.InMemory {
		dbCfg = badger.InMemoryConfig()
		dbCfg.Logger = cfg.Logger
	}

	db, err := badger.OpenDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "conversation_store")),
		seqs:   make(map[string]uint64),
	}

	s.logger.Debug("conversation store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Duration("ttl", cfg.TTL))

	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

// msgKeyPrefix returns the key prefix for a conversation's messages.
func msgKeyPrefix(conversationID string) []byte {
	return []byte("msg:" + conversationID + ":")
}

// msgKey generates the key for a specific sequence number.
func msgKey(conversationID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%016d", conversationID, seq))
}

// convKey returns the metadata key for a conversation.
func convKey(conversationID string) []byte {
	return []byte("conv:" + conversationID)
}

// nextSeq returns the next sequence number for a conversation, scanning
// existing keys on first use so reopened stores continue where they left off.
// Caller must hold s.mu.
func (s *Store) nextSeq(ctx context.Context, conversationID string) (uint64, error) {
	if seq, ok := s.seqs[conversationID]; ok {
		s.seqs[conversationID] = seq + 1
		return seq + 1, nil
	}

	prefix := msgKeyPrefix(conversationID)
	var maxSeq uint64

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)

		if it.ValidForPrefix(prefix) {
			key := it.Item().Key()
			var seq uint64
			if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016d", &seq); err == nil {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.seqs[conversationID] = maxSeq + 1
	return maxSeq + 1, nil
}

// setWithTTL writes key=value, applying the configured TTL when set.
func (s *Store) setWithTTL(txn *dgbadger.Txn, key, value []byte) error {
	if s.cfg.TTL > 0 {
		return txn.SetEntry(dgbadger.NewEntry(key, value).WithTTL(s.cfg.TTL))
	}
	return txn.Set(key, value)
}

// Append records a message at the end of a conversation.
//
// Description:
//
//	Assigns the message a UUID and the next sequence number, then writes
//	the message and updated conversation metadata in one transaction.
//	The conversation is created implicitly on first append.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - conversationID: Conversation UUID. Must not be empty.
//   - role: Speaker role. Must not be empty.
//   - content: Message text. May be empty.
//
// Outputs:
//   - Message: The stored message, with ID and CreatedAt filled in.
//   - error: Non-nil if the store is closed or the write fails.
func (s *Store) Append(ctx context.Context, conversationID, role, content string) (Message, error) {
	if conversationID == "" {
		return Message{}, errors.New("conversation id must not be empty")
	}
	if role == "" {
		return Message{}, ErrEmptyRole
	}

	ctx, span := telemetry.StartSpan(ctx, conversationTracerName, "conversation.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("message.role", role),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		telemetry.RecordError(span, ErrStoreClosed)
		return Message{}, ErrStoreClosed
	}

	seq, err := s.nextSeq(ctx, conversationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return Message{}, fmt.Errorf("next sequence: %w", err)
	}

	now := time.Now().UTC()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		telemetry.RecordError(span, err)
		return Message{}, fmt.Errorf("encode message: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := s.setWithTTL(txn, msgKey(conversationID, seq), data); err != nil {
			return err
		}

		info, err := readInfo(txn, conversationID)
		if errors.Is(err, ErrConversationNotFound) {
			info = Info{ID: conversationID, CreatedAt: now}
		} else if err != nil {
			return err
		}
		info.UpdatedAt = now
		info.MessageCount = int64(seq)

		metaData, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		return s.setWithTTL(txn, convKey(conversationID), metaData)
	})
	if err != nil {
		// Roll the cached sequence back so the gap is not permanent.
		s.seqs[conversationID] = seq - 1
		telemetry.RecordError(span, err)
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	span.SetAttributes(attribute.Int64("message.seq", int64(seq)))
	telemetry.SetSpanOK(span)

	s.logger.Debug("message appended",
		slog.String("conversation_id", conversationID),
		slog.String("role", role),
		slog.Uint64("seq", seq),
		slog.Int("bytes", len(data)))

	return msg, nil
}

// History returns all messages of a conversation in chronological order.
// A conversation with no messages yields an empty slice, not an error.
func (s *Store) History(ctx context.Context, conversationID string) ([]Message, error) {
	ctx, span := telemetry.StartSpan(ctx, conversationTracerName, "conversation.History")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if err := s.checkOpen(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var messages []Message
	prefix := msgKeyPrefix(conversationID)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				var msg Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return fmt.Errorf("decode message: %w", err)
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("read history: %w", err)
	}

	span.SetAttributes(attribute.Int("message.count", len(messages)))
	telemetry.SetSpanOK(span)
	return messages, nil
}

// Recent returns the last n messages of a conversation in chronological
// order. Fewer messages are returned when the conversation is shorter.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, conversationTracerName, "conversation.Recent")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Int("limit", n),
	)

	if err := s.checkOpen(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var messages []Message
	prefix := msgKeyPrefix(conversationID)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(messages) < n; it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				var msg Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return fmt.Errorf("decode message: %w", err)
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("read recent: %w", err)
	}

	// Reverse iteration yields newest first. Flip back to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	span.SetAttributes(attribute.Int("message.count", len(messages)))
	telemetry.SetSpanOK(span)
	return messages, nil
}

// Info returns metadata for a conversation.
//
// Outputs:
//   - Info: Conversation metadata.
//   - error: ErrConversationNotFound if the id is unknown.
func (s *Store) Info(ctx context.Context, conversationID string) (Info, error) {
	if err := s.checkOpen(); err != nil {
		return Info{}, err
	}

	var info Info
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		got, err := readInfo(txn, conversationID)
		if err != nil {
			return err
		}
		info = got
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// Conversations lists all stored conversations, most recently updated first.
func (s *Store) Conversations(ctx context.Context) ([]Info, error) {
	ctx, span := telemetry.StartSpan(ctx, conversationTracerName, "conversation.List")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var infos []Info
	prefix := []byte("conv:")

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				var info Info
				if err := json.Unmarshal(val, &info); err != nil {
					return fmt.Errorf("decode metadata: %w", err)
				}
				infos = append(infos, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})

	span.SetAttributes(attribute.Int("conversation.count", len(infos)))
	telemetry.SetSpanOK(span)
	return infos, nil
}

// Delete removes a conversation and all of its messages.
// Deleting an unknown conversation is a no-op.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	ctx, span := telemetry.StartSpan(ctx, conversationTracerName, "conversation.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		telemetry.RecordError(span, ErrStoreClosed)
		return ErrStoreClosed
	}

	prefix := msgKeyPrefix(conversationID)
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return txn.Delete(convKey(conversationID))
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("delete conversation: %w", err)
	}

	delete(s.seqs, conversationID)
	telemetry.SetSpanOK(span)

	s.logger.Debug("conversation deleted", slog.String("conversation_id", conversationID))
	return nil
}

// checkOpen returns ErrStoreClosed when the store has been closed.
func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// readInfo loads conversation metadata inside an open transaction.
func readInfo(txn *dgbadger.Txn, conversationID string) (Info, error) {
	item, err := txn.Get(convKey(conversationID))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return Info{}, ErrConversationNotFound
	}
	if err != nil {
		return Info{}, err
	}

	var info Info
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	})
	if err != nil {
		return Info{}, fmt.Errorf("decode metadata: %w", err)
	}
	return info, nil
}

