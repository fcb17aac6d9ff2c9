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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers/memory"
)

func TestArchiveIdleSessions(t *testing.T) {
	ts, hot, durable := newTestStore(t, Config{ArchiveAfterIdle: 30 * time.Minute})
	ctx := context.Background()

	now := time.Now()
	idle := sessionWithMessages("sess-idle", "user-1", 3, now.Add(-time.Hour))
	active := sessionWithMessages("sess-active", "user-1", 2, now.Add(-time.Minute))
	require.NoError(t, hot.SetSession(ctx, idle, 0))
	require.NoError(t, hot.SetSession(ctx, active, 0))

	result, err := ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.SessionsArchived)
	assert.Empty(t, result.Errors)

	// The idle session moved to the durable tier and left the hot tier.
	_, err = hot.GetSession(ctx, "sess-idle")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	got, err := durable.GetSession(ctx, "sess-idle")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 3)

	stats, err := durable.GetSessionStats(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ArchivedSessions)

	// The active session stayed hot.
	_, err = hot.GetSession(ctx, "sess-active")
	require.NoError(t, err)
}

func TestArchiveIdleSessionsIdempotent(t *testing.T) {
	ts, hot, durable := newTestStore(t, Config{ArchiveAfterIdle: 30 * time.Minute})
	ctx := context.Background()

	idle := sessionWithMessages("sess-idle", "user-1", 3, time.Now().Add(-time.Hour))
	require.NoError(t, hot.SetSession(ctx, idle, 0))

	first, err := ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.SessionsArchived)

	// A second sweep finds nothing to do and changes nothing.
	second, err := ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, second.SessionsArchived)
	assert.Empty(t, second.Errors)

	got, err := durable.GetSession(ctx, "sess-idle")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 3)
}

func TestArchiveKeepsHotCopyWhenDurableWriteFails(t *testing.T) {
	hot := memory.NewHotStore()
	flaky := &flakyDurable{DurableStoreProvider: memory.NewDurableStore()}
	flaky.failing.Store(true)

	ts := New(hot, flaky, Config{ArchiveAfterIdle: 30 * time.Minute}, logr.Discard(), nil)
	defer func() { _ = ts.Close() }()
	ctx := context.Background()

	idle := sessionWithMessages("sess-idle", "user-1", 3, time.Now().Add(-time.Hour))
	require.NoError(t, hot.SetSession(ctx, idle, 0))

	result, err := ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, result.SessionsArchived)
	assert.NotEmpty(t, result.Errors)

	// The durable write never succeeded, so the hot copy must survive for the
	// next sweep.
	_, err = hot.GetSession(ctx, "sess-idle")
	require.NoError(t, err, "hot eviction must wait for a confirmed durable write")

	// Once the durable tier recovers, the next sweep archives it.
	flaky.failing.Store(false)
	result, err = ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.SessionsArchived)
	_, err = hot.GetSession(ctx, "sess-idle")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestArchiveRespectsBatchSize(t *testing.T) {
	ts, hot, _ := newTestStore(t, Config{ArchiveAfterIdle: 30 * time.Minute, ArchiveBatchSize: 2})
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, hot.SetSession(ctx, sessionWithMessages(id, "user-1", 1, old), 0))
	}

	result, err := ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.SessionsArchived)

	remaining, err := hot.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestArchiveOverlappingSweepIsNoOp(t *testing.T) {
	ts, _, _ := newTestStore(t, Config{})

	ts.sweeping.Store(true)
	result, err := ts.ArchiveIdleSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, result.AlreadyRunning)
	assert.Zero(t, result.SessionsArchived)
	ts.sweeping.Store(false)
}

func TestArchivedSessionRevivedByNewMessage(t *testing.T) {
	ts, hot, durable := newTestStore(t, Config{ArchiveAfterIdle: 30 * time.Minute})
	ctx := context.Background()

	idle := sessionWithMessages("sess-idle", "user-1", 3, time.Now().Add(-time.Hour))
	require.NoError(t, hot.SetSession(ctx, idle, 0))

	_, err := ts.ArchiveIdleSessions(ctx, 0)
	require.NoError(t, err)

	// A new message on the archived session pulls it back into the hot tier
	// and clears the archived flag.
	msg := &session.Message{Type: session.MessageTypeUser, Content: "are you still there?"}
	require.NoError(t, ts.AddMessage(ctx, "sess-idle", msg))

	hotCopy, err := hot.GetSession(ctx, "sess-idle")
	require.NoError(t, err)
	assert.Len(t, hotCopy.Messages, 4)

	drainMirror(t, ts)

	got, err := durable.GetSession(ctx, "sess-idle")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 4)

	stats, err := durable.GetSessionStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, stats.ArchivedSessions)
}
