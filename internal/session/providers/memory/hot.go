/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package memory provides in-memory implementations of both tier provider
// contracts. They are thread-safe and suitable for tests and single-instance
// development deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers"
)

// Compile-time interface check.
var _ providers.HotStoreProvider = (*HotStore)(nil)

type hotEntry struct {
	s         *session.Session
	expiresAt time.Time // zero means no expiry
}

// HotStore implements providers.HotStoreProvider with an in-memory map.
// TTLs are honored lazily: expired entries are dropped on access.
type HotStore struct {
	mu       sync.RWMutex
	sessions map[string]*hotEntry
	closed   bool

	// now is replaceable in tests.
	now func() time.Time
}

// NewHotStore creates an empty in-memory hot tier.
func NewHotStore() *HotStore {
	return &HotStore{
		sessions: make(map[string]*hotEntry),
		now:      time.Now,
	}
}

// GenerateSessionID mints a new session identifier.
func (h *HotStore) GenerateSessionID() string { return uuid.New().String() }

// GenerateMessageID mints a new message identifier.
func (h *HotStore) GenerateMessageID() string { return uuid.New().String() }

// CreateSession mints and stores a new session.
func (h *HotStore) CreateSession(ctx context.Context, userID, agentID string, ttl time.Duration) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("hot store is closed")
	}

	now := h.now()
	s := &session.Session{
		ID:        h.GenerateSessionID(),
		UserID:    userID,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []session.Message{},
	}

	e := &hotEntry{s: s}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	h.sessions[s.ID] = e

	return s.Clone(), nil
}

// GetSession retrieves a session by ID.
func (h *HotStore) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.liveEntry(sessionID)
	if err != nil {
		return nil, err
	}
	return e.s.Clone(), nil
}

// SetSession stores or replaces a session.
func (h *HotStore) SetSession(ctx context.Context, s *session.Session, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" {
		return session.ErrInvalidSessionID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.New("hot store is closed")
	}

	e := &hotEntry{s: s.Clone()}
	if ttl > 0 {
		e.expiresAt = h.now().Add(ttl)
	}
	h.sessions[s.ID] = e
	return nil
}

// AppendMessage adds a message to the session's history.
func (h *HotStore) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return session.ErrInvalidSessionID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.liveEntry(sessionID)
	if err != nil {
		return err
	}

	m := *msg
	if m.ID == "" {
		m.ID = h.GenerateMessageID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = h.now()
	}

	e.s.Messages = append(e.s.Messages, m)
	e.s.UpdatedAt = h.now()
	return nil
}

// UpdateMessage applies a partial update to a message by ID.
func (h *HotStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return session.ErrInvalidSessionID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.liveEntry(sessionID)
	if err != nil {
		return err
	}

	idx := e.s.FindMessage(messageID)
	if idx < 0 {
		return session.ErrMessageNotFound
	}

	e.s.Messages[idx].Apply(update)
	e.s.UpdatedAt = h.now()
	return nil
}

// ListUserSessions returns the user's live sessions, newest first.
func (h *HotStore) ListUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*session.Session
	for _, e := range h.sessions {
		if e.s.UserID != userID || h.expired(e) {
			continue
		}
		out = append(out, e.s.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSessions enumerates every live session in the tier.
func (h *HotStore) ListSessions(ctx context.Context) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*session.Session, 0, len(h.sessions))
	for _, e := range h.sessions {
		if h.expired(e) {
			continue
		}
		out = append(out, e.s.Clone())
	}
	return out, nil
}

// CountUserSessions returns the number of live sessions owned by the user.
func (h *HotStore) CountUserSessions(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int64
	for _, e := range h.sessions {
		if e.s.UserID == userID && !h.expired(e) {
			n++
		}
	}
	return n, nil
}

// DeleteSession removes a session from the tier.
func (h *HotStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return session.ErrInvalidSessionID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[sessionID]; !ok {
		return session.ErrSessionNotFound
	}
	delete(h.sessions, sessionID)
	return nil
}

// ExtendTTL pushes out a session's expiration.
func (h *HotStore) ExtendTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return session.ErrInvalidSessionID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.liveEntry(sessionID)
	if err != nil {
		return err
	}
	if ttl > 0 {
		e.expiresAt = h.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// Ping reports whether the store is usable.
func (h *HotStore) Ping(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errors.New("hot store is closed")
	}
	return ctx.Err()
}

// Close releases the store's memory.
func (h *HotStore) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.sessions = nil
	return nil
}

// SetNow replaces the store's clock. Test helper.
func (h *HotStore) SetNow(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// liveEntry returns the entry for sessionID, dropping it if expired.
// Callers must hold mu.
func (h *HotStore) liveEntry(sessionID string) (*hotEntry, error) {
	if h.closed {
		return nil, errors.New("hot store is closed")
	}
	e, ok := h.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if h.expired(e) {
		delete(h.sessions, sessionID)
		return nil, session.ErrSessionNotFound
	}
	return e, nil
}

func (h *HotStore) expired(e *hotEntry) bool {
	return !e.expiresAt.IsZero() && h.now().After(e.expiresAt)
}
