// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Manager tracks the active conversation on top of a Store.
//
// Description:
//
//	The chat loop appends turns without caring which conversation they
//	belong to; the Manager owns the active conversation id, creating one
//	lazily on the first append and switching ids on Reset or Resume.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	active string
}

// NewManager wraps a Store. The Manager takes ownership of the store and
// closes it in Close.
func NewManager(store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With(slog.String("component", "conversation_manager")),
	}
}

// ActiveID returns the active conversation id, or empty before the first
// append.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StartNew switches to a fresh conversation and returns its id. The
// conversation is stored on first append.
func (m *Manager) StartNew() string {
	id := uuid.NewString()
	m.mu.Lock()
	m.active = id
	m.mu.Unlock()

	m.logger.Debug("started conversation", slog.String("conversation_id", id))
	return id
}

// Resume switches to an existing conversation.
//
// Outputs:
//   - error: ErrConversationNotFound if the id is unknown.
func (m *Manager) Resume(ctx context.Context, conversationID string) error {
	if _, err := m.store.Info(ctx, conversationID); err != nil {
		return err
	}

	m.mu.Lock()
	m.active = conversationID
	m.mu.Unlock()

	m.logger.Debug("resumed conversation", slog.String("conversation_id", conversationID))
	return nil
}

// ResumeLatest switches to the most recently updated stored conversation.
//
// Outputs:
//   - string: The resumed conversation id.
//   - error: ErrConversationNotFound if the store holds no conversations.
func (m *Manager) ResumeLatest(ctx context.Context) (string, error) {
	infos, err := m.store.Conversations(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", ErrConversationNotFound
	}

	id := infos[0].ID
	m.mu.Lock()
	m.active = id
	m.mu.Unlock()

	m.logger.Debug("resumed latest conversation", slog.String("conversation_id", id))
	return id, nil
}

// Append records a message in the active conversation, starting a new
// conversation first if none is active.
func (m *Manager) Append(ctx context.Context, role, content string) (Message, error) {
	m.mu.Lock()
	if m.active == "" {
		m.active = uuid.NewString()
		m.logger.Debug("started conversation", slog.String("conversation_id", m.active))
	}
	id := m.active
	m.mu.Unlock()

	return m.store.Append(ctx, id, role, content)
}

// History returns all messages of the active conversation. Returns an empty
// slice when no conversation is active.
func (m *Manager) History(ctx context.Context) ([]Message, error) {
	id := m.ActiveID()
	if id == "" {
		return nil, nil
	}
	return m.store.History(ctx, id)
}

// Recent returns the last n messages of the active conversation in
// chronological order.
func (m *Manager) Recent(ctx context.Context, n int) ([]Message, error) {
	id := m.ActiveID()
	if id == "" {
		return nil, nil
	}
	return m.store.Recent(ctx, id, n)
}

// Reset deletes the active conversation and starts a fresh one.
func (m *Manager) Reset(ctx context.Context) (string, error) {
	id := m.ActiveID()
	if id != "" {
		if err := m.store.Delete(ctx, id); err != nil {
			return "", err
		}
	}
	return m.StartNew(), nil
}

// Conversations lists all stored conversations, most recently updated first.
func (m *Manager) Conversations(ctx context.Context) ([]Info, error) {
	return m.store.Conversations(ctx)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
