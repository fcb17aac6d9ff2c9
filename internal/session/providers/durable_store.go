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

package providers

import (
	"context"

	"github.com/meridianlabs/tidestore/internal/session"
)

// DurableStoreProvider is the persistent, queryable store of record for
// session history (e.g. Postgres). It is the source of truth for search and
// aggregate statistics, and the target of archival migration.
type DurableStoreProvider interface {
	// SaveSession upserts the session row and upserts every message it
	// carries, keyed by message ID. Messages already persisted but absent
	// from s are left untouched, so saving a hot-trimmed copy never discards
	// history.
	SaveSession(ctx context.Context, s *session.Session) error

	// GetSession retrieves a session with its full message history.
	// Returns session.ErrSessionNotFound if the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)

	// DeleteSession removes a session and all its messages.
	// Returns session.ErrSessionNotFound if the session does not exist.
	DeleteSession(ctx context.Context, sessionID string) error

	// AddMessage upserts a single message and bumps the session's UpdatedAt.
	// Returns session.ErrSessionNotFound if the session does not exist.
	AddMessage(ctx context.Context, sessionID string, msg *session.Message) error

	// UpdateMessage applies a partial update to the message with the given ID.
	// Returns session.ErrSessionNotFound / session.ErrMessageNotFound.
	UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error

	// GetUserSessions returns the user's sessions with messages, ordered by
	// UpdatedAt descending. A limit of zero means no limit.
	GetUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error)

	// SearchMessages performs full-text search across the user's message
	// content, newest matches first.
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]SearchResult, error)

	// GetSessionStats returns aggregate counts for the user.
	GetSessionStats(ctx context.Context, userID string) (*SessionStats, error)

	// MarkArchived flips the session's archived flag.
	// Returns session.ErrSessionNotFound if the session does not exist.
	MarkArchived(ctx context.Context, sessionID string, archived bool) error

	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error

	// Close releases resources held by the provider.
	Close() error
}
