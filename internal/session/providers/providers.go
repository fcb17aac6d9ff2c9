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

// Package providers defines the tier-specific storage contracts consumed by
// the tiered session store (hot/durable) and a Registry to manage them.
package providers

import (
	"errors"

	"github.com/meridianlabs/tidestore/internal/session"
)

// ErrProviderNotConfigured is returned when a requested tier has not been set.
var ErrProviderNotConfigured = errors.New("provider not configured")

// SearchResult is a single full-text search hit from the durable tier.
type SearchResult struct {
	// SessionID is the session containing the matched message.
	SessionID string `json:"sessionId"`
	// SessionTitle is the session's human-readable label.
	SessionTitle string `json:"sessionTitle,omitempty"`
	// Message is the matched message.
	Message *session.Message `json:"message"`
}

// SessionStats aggregates per-user session counts from the durable tier.
type SessionStats struct {
	// TotalSessions is the number of sessions ever persisted for the user.
	TotalSessions int64 `json:"totalSessions"`
	// TotalMessages is the number of messages across those sessions.
	TotalMessages int64 `json:"totalMessages"`
	// ArchivedSessions is the number of sessions migrated to durable-only
	// storage.
	ArchivedSessions int64 `json:"archivedSessions"`
	// ActiveSessions is the number of non-archived sessions. The tiered
	// store overrides this with the live hot-tier count.
	ActiveSessions int64 `json:"activeSessions"`
}
