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
	"time"

	"github.com/meridianlabs/tidestore/internal/session"
)

// HotStoreProvider is the volatile, TTL-bearing tier holding sessions
// actively in use (e.g. Redis). It mints session and message identifiers and
// serves all synchronous mutations.
type HotStoreProvider interface {
	// GenerateSessionID mints a new unique session identifier.
	GenerateSessionID() string

	// GenerateMessageID mints a new unique message identifier.
	GenerateMessageID() string

	// CreateSession mints a session for the given identities and stores it
	// with the given TTL. A zero TTL means the entry does not expire.
	CreateSession(ctx context.Context, userID, agentID string, ttl time.Duration) (*session.Session, error)

	// GetSession retrieves a session by ID.
	// Returns session.ErrSessionNotFound if the session is not in the tier.
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)

	// SetSession stores or replaces a session with the given TTL.
	SetSession(ctx context.Context, s *session.Session, ttl time.Duration) error

	// AppendMessage adds a message to the session's history and bumps the
	// session's UpdatedAt.
	// Returns session.ErrSessionNotFound if the session is not in the tier.
	AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error

	// UpdateMessage applies a partial update to the message with the given ID.
	// Returns session.ErrSessionNotFound if the session is not in the tier and
	// session.ErrMessageNotFound if no message has that ID.
	UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error

	// ListUserSessions returns the user's sessions ordered by UpdatedAt
	// descending. A limit of zero means no limit.
	ListUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error)

	// ListSessions enumerates every session currently resident in the tier.
	// Used by the archival sweep.
	ListSessions(ctx context.Context) ([]*session.Session, error)

	// CountUserSessions returns the number of sessions the user currently has
	// resident in the tier.
	CountUserSessions(ctx context.Context, userID string) (int64, error)

	// DeleteSession removes a session from the tier.
	// Returns session.ErrSessionNotFound if the session is not in the tier.
	DeleteSession(ctx context.Context, sessionID string) error

	// ExtendTTL pushes out the session's expiration (sliding expiration on
	// access). A zero TTL removes the expiration.
	// Returns session.ErrSessionNotFound if the session is not in the tier.
	ExtendTTL(ctx context.Context, sessionID string, ttl time.Duration) error

	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error

	// Close releases resources held by the provider.
	Close() error
}
