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

package postgres

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers"
)

var testConnStr string

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tidestore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	testConnStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}

	os.Exit(code)
}

// freshDB creates an isolated database, runs migrations, and returns a pgxpool.Pool.
func freshDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbName := fmt.Sprintf("test_%d", time.Now().UnixNano())

	db, err := sql.Open("pgx", testConnStr)
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	connStr := replaceDBName(testConnStr, dbName)

	mg, err := NewMigrator(connStr, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, mg.Up())
	require.NoError(t, mg.Close())

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		mainDB, err := sql.Open("pgx", testConnStr)
		if err == nil {
			_, _ = mainDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName))
			_ = mainDB.Close()
		}
	})

	return pool
}

func replaceDBName(connStr, newDB string) string {
	qIdx := len(connStr)
	for i, c := range connStr {
		if c == '?' {
			qIdx = i
			break
		}
	}
	slashIdx := 0
	for i := qIdx - 1; i >= 0; i-- {
		if connStr[i] == '/' {
			slashIdx = i
			break
		}
	}
	return connStr[:slashIdx+1] + newDB + connStr[qIdx:]
}

func newProvider(t *testing.T) *Provider {
	t.Helper()
	pool := freshDB(t)
	return NewFromPool(pool)
}

func makeSession(id, userID string, now time.Time) *session.Session {
	return &session.Session{
		ID:        id,
		UserID:    userID,
		AgentID:   "test-agent",
		Title:     "test session",
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{"key": "value"},
	}
}

func makeMessage(id, content string, ts time.Time) session.Message {
	return session.Message{
		ID:        id,
		Type:      session.MessageTypeUser,
		Content:   content,
		Timestamp: ts,
	}
}

// --- Session CRUD -----------------------------------------------------------

func TestSaveGetSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	s := makeSession("sess-1", "user-1", now)
	s.Messages = []session.Message{
		makeMessage("m1", "hello", now),
		makeMessage("m2", "world", now.Add(time.Second)),
	}
	require.NoError(t, p.SaveSession(ctx, s))

	got, err := p.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "test session", got.Title)
	assert.Equal(t, "value", got.Metadata["key"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "m1", got.Messages[0].ID)
	assert.Equal(t, "m2", got.Messages[1].ID)
}

func TestGetSessionNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)

	_, err := p.GetSession(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSaveSessionMergesMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	full := makeSession("sess-1", "user-1", now)
	full.Messages = []session.Message{
		makeMessage("m1", "one", now),
		makeMessage("m2", "two", now.Add(time.Second)),
		makeMessage("m3", "three", now.Add(2*time.Second)),
	}
	require.NoError(t, p.SaveSession(ctx, full))

	// Saving a trimmed copy that only carries the tail must not delete the
	// earlier rows.
	trimmed := makeSession("sess-1", "user-1", now.Add(time.Minute))
	trimmed.Messages = []session.Message{
		makeMessage("m3", "three updated", now.Add(2*time.Second)),
		makeMessage("m4", "four", now.Add(3*time.Second)),
	}
	require.NoError(t, p.SaveSession(ctx, trimmed))

	got, err := p.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "three updated", got.Messages[2].Content)
	assert.Equal(t, "m4", got.Messages[3].ID)
}

func TestDeleteSessionCascades(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := makeSession("sess-1", "user-1", now)
	s.Messages = []session.Message{makeMessage("m1", "hello", now)}
	require.NoError(t, p.SaveSession(ctx, s))

	require.NoError(t, p.DeleteSession(ctx, "sess-1"))

	_, err := p.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	var count int
	require.NoError(t, p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages WHERE session_id='sess-1'").Scan(&count))
	assert.Zero(t, count)

	assert.ErrorIs(t, p.DeleteSession(ctx, "sess-1"), session.ErrSessionNotFound)
}

// --- Messages ----------------------------------------------------------------

func TestAddMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, p.SaveSession(ctx, makeSession("sess-1", "user-1", now)))

	msg := makeMessage("m1", "hello", now)
	msg.ToolCalls = []session.ToolCall{
		{ID: "tc1", Name: "search", Parameters: map[string]any{"q": "weather"}, Status: session.ToolCallPending},
	}
	require.NoError(t, p.AddMessage(ctx, "sess-1", &msg))

	got, err := p.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].ToolCalls, 1)
	assert.Equal(t, "search", got.Messages[0].ToolCalls[0].Name)
	assert.Equal(t, session.ToolCallPending, got.Messages[0].ToolCalls[0].Status)

	err = p.AddMessage(ctx, "no-such-session", &msg)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestUpdateMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	s := makeSession("sess-1", "user-1", now)
	s.Messages = []session.Message{makeMessage("m1", "partial", now)}
	require.NoError(t, p.SaveSession(ctx, s))

	appendText := " response"
	streaming := false
	err := p.UpdateMessage(ctx, "sess-1", "m1", session.MessageUpdate{
		AppendContent: &appendText,
		Streaming:     &streaming,
	})
	require.NoError(t, err)

	got, err := p.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "partial response", got.Messages[0].Content)
	assert.False(t, got.Messages[0].Streaming)

	err = p.UpdateMessage(ctx, "sess-1", "no-such-id", session.MessageUpdate{Streaming: &streaming})
	assert.ErrorIs(t, err, session.ErrMessageNotFound)
}

// --- Listing and search ------------------------------------------------------

func TestGetUserSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		s := makeSession(fmt.Sprintf("sess-%d", i), "user-1", now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, p.SaveSession(ctx, s))
	}
	require.NoError(t, p.SaveSession(ctx, makeSession("sess-other", "user-2", now)))

	list, err := p.GetUserSessions(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first.
	assert.Equal(t, "sess-2", list[0].ID)

	list, err = p.GetUserSessions(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSearchMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	s := makeSession("sess-1", "user-1", now)
	s.Title = "travel plans"
	s.Messages = []session.Message{
		makeMessage("m1", "What is the weather in Paris?", now),
		makeMessage("m2", "Sunny with a light breeze.", now.Add(time.Second)),
	}
	require.NoError(t, p.SaveSession(ctx, s))

	results, err := p.SearchMessages(ctx, "user-1", "weather", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sess-1", results[0].SessionID)
	assert.Equal(t, "travel plans", results[0].SessionTitle)
	assert.Equal(t, "m1", results[0].Message.ID)

	// Stemming: "breezes" matches "breeze".
	results, err = p.SearchMessages(ctx, "user-1", "breezes", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = p.SearchMessages(ctx, "user-2", "weather", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// --- Stats and archival flag -------------------------------------------------

func TestSessionStatsAndMarkArchived(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	p := newProvider(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		s := makeSession(fmt.Sprintf("sess-%d", i), "user-1", now)
		s.Messages = []session.Message{makeMessage(fmt.Sprintf("m-%d", i), "hi", now)}
		require.NoError(t, p.SaveSession(ctx, s))
	}
	other := makeSession("sess-other", "user-2", now)
	require.NoError(t, p.SaveSession(ctx, other))
	require.NoError(t, p.MarkArchived(ctx, "sess-1", true))

	stats, err := p.GetSessionStats(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalSessions)
	assert.EqualValues(t, 3, stats.TotalMessages)
	assert.EqualValues(t, 1, stats.ArchivedSessions)
	assert.EqualValues(t, 2, stats.ActiveSessions)

	// Counts are scoped to the requested user.
	stats, err = p.GetSessionStats(ctx, "user-2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalSessions)
	assert.EqualValues(t, 0, stats.TotalMessages)

	assert.ErrorIs(t, p.MarkArchived(ctx, "missing", true), session.ErrSessionNotFound)
}

// Ensure Provider satisfies DurableStoreProvider at test-compilation time.
var _ providers.DurableStoreProvider = (*Provider)(nil)
