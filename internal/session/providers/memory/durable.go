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

package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers"
)

var _ providers.DurableStoreProvider = (*DurableStore)(nil)

// DurableStore implements providers.DurableStoreProvider with in-memory maps.
// Saved sessions merge messages by ID rather than replacing history, matching
// the durable-tier upsert contract.
type DurableStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	archived map[string]bool
	closed   bool

	now func() time.Time
}

// NewDurableStore creates an empty in-memory durable tier.
func NewDurableStore() *DurableStore {
	return &DurableStore{
		sessions: make(map[string]*session.Session),
		archived: make(map[string]bool),
		now:      time.Now,
	}
}

// SaveSession upserts a session. Messages present in s are upserted by ID;
// previously stored messages absent from s are kept, so saving a trimmed
// working copy never discards history.
func (d *DurableStore) SaveSession(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" {
		return session.ErrInvalidSessionID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("durable store is closed")
	}

	existing, ok := d.sessions[s.ID]
	if !ok {
		d.sessions[s.ID] = s.Clone()
		return nil
	}

	existing.UserID = s.UserID
	existing.AgentID = s.AgentID
	existing.Title = s.Title
	existing.UpdatedAt = s.UpdatedAt
	if s.Metadata != nil {
		md := make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		existing.Metadata = md
	}

	for i := range s.Messages {
		m := s.Messages[i]
		if idx := existing.FindMessage(m.ID); idx >= 0 {
			existing.Messages[idx] = m
		} else {
			existing.Messages = append(existing.Messages, m)
		}
	}
	sort.SliceStable(existing.Messages, func(i, j int) bool {
		return existing.Messages[i].Timestamp.Before(existing.Messages[j].Timestamp)
	})
	return nil
}

// GetSession retrieves a session with its full message history.
func (d *DurableStore) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// DeleteSession removes a session and its messages.
func (d *DurableStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[sessionID]; !ok {
		return session.ErrSessionNotFound
	}
	delete(d.sessions, sessionID)
	delete(d.archived, sessionID)
	return nil
}

// AddMessage upserts a single message on an existing session.
func (d *DurableStore) AddMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}

	m := *msg
	m.ToolCalls = append([]session.ToolCall(nil), msg.ToolCalls...)
	if idx := s.FindMessage(m.ID); idx >= 0 {
		s.Messages[idx] = m
	} else {
		s.Messages = append(s.Messages, m)
	}
	s.UpdatedAt = d.now()
	return nil
}

// UpdateMessage applies a partial update to a stored message.
func (d *DurableStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	idx := s.FindMessage(messageID)
	if idx < 0 {
		return session.ErrMessageNotFound
	}
	s.Messages[idx].Apply(update)
	s.UpdatedAt = d.now()
	return nil
}

// GetUserSessions returns the user's sessions, newest first.
func (d *DurableStore) GetUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*session.Session
	for _, s := range d.sessions {
		if s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchMessages performs a case-insensitive substring search over the
// user's message content.
func (d *DurableStore) SearchMessages(ctx context.Context, userID, query string, limit int) ([]providers.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []providers.SearchResult
	for _, s := range d.sessions {
		if s.UserID != userID {
			continue
		}
		for i := range s.Messages {
			if !strings.Contains(strings.ToLower(s.Messages[i].Content), needle) {
				continue
			}
			m := s.Messages[i]
			out = append(out, providers.SearchResult{
				SessionID:    s.ID,
				SessionTitle: s.Title,
				Message:      &m,
			})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetSessionStats aggregates counts over the user's sessions.
func (d *DurableStore) GetSessionStats(ctx context.Context, userID string) (*providers.SessionStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &providers.SessionStats{}
	for id, s := range d.sessions {
		if s.UserID != userID {
			continue
		}
		stats.TotalSessions++
		stats.TotalMessages += int64(len(s.Messages))
		if d.archived[id] {
			stats.ArchivedSessions++
		}
	}
	stats.ActiveSessions = stats.TotalSessions - stats.ArchivedSessions
	return stats, nil
}

// MarkArchived toggles a session's archived flag.
func (d *DurableStore) MarkArchived(ctx context.Context, sessionID string, archived bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[sessionID]; !ok {
		return session.ErrSessionNotFound
	}
	d.archived[sessionID] = archived
	return nil
}

// Ping reports whether the store is usable.
func (d *DurableStore) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("durable store is closed")
	}
	return ctx.Err()
}

// Close releases the store's memory.
func (d *DurableStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.sessions = nil
	d.archived = nil
	return nil
}
