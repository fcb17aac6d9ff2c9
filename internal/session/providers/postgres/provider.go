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

// Package postgres implements the durable tier on PostgreSQL. Sessions and
// messages live in separate tables; message content is indexed with a
// generated tsvector column for full-text search.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianlabs/tidestore/internal/pgutil"
	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers"
)

// Compile-time interface check.
var _ providers.DurableStoreProvider = (*Provider)(nil)

// Provider implements providers.DurableStoreProvider using PostgreSQL.
type Provider struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// New creates a Provider that owns the underlying connection pool. The pool is
// created from cfg and verified with a PING. Close will shut down the pool.
func New(cfg Config) (*Provider, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.TLS != nil {
		poolCfg.ConnConfig.TLSConfig = cfg.TLS
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	return &Provider{pool: pool, ownsPool: true}, nil
}

// NewFromPool wraps an existing connection pool. Close is a no-op because the
// caller retains ownership of the pool.
func NewFromPool(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool, ownsPool: false}
}

// --- row scanners -----------------------------------------------------------

// sessionColumns is the SELECT column list for sessions (no trailing comma).
const sessionColumns = `id, user_id, agent_id, title, created_at, updated_at, metadata`

// messageColumns is the SELECT column list for messages (no trailing comma).
const messageColumns = `id, msg_type, content, ts, agent, streaming, tool_calls`

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var title *string
	var metadataJSON []byte

	err := row.Scan(&s.ID, &s.UserID, &s.AgentID, &title, &s.CreatedAt, &s.UpdatedAt, &metadataJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}

	s.Title = pgutil.DerefString(title)
	s.Metadata = pgutil.UnmarshalJSONB(metadataJSON)
	s.Messages = []session.Message{}
	return &s, nil
}

func scanMessage(row pgx.Row) (*session.Message, error) {
	var m session.Message
	var agent *string
	var toolCallsJSON []byte

	err := row.Scan(&m.ID, &m.Type, &m.Content, &m.Timestamp, &agent, &m.Streaming, &toolCallsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrMessageNotFound
		}
		return nil, fmt.Errorf("postgres: scan message: %w", err)
	}

	m.Agent = pgutil.DerefString(agent)
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal tool calls: %w", err)
		}
	}
	return &m, nil
}

func marshalToolCalls(calls []session.ToolCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal tool calls: %w", err)
	}
	return b, nil
}

// --- helper: session exists check -------------------------------------------

func (p *Provider) sessionExists(ctx context.Context, sessionID string) error {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM sessions WHERE id=$1)", sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check session: %w", err)
	}
	if !exists {
		return session.ErrSessionNotFound
	}
	return nil
}

// --- helper: message upsert --------------------------------------------------

const upsertMessageQuery = `INSERT INTO messages (
	session_id, id, msg_type, content, ts, agent, streaming, tool_calls
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (session_id, id) DO UPDATE SET
	msg_type=EXCLUDED.msg_type, content=EXCLUDED.content, ts=EXCLUDED.ts,
	agent=EXCLUDED.agent, streaming=EXCLUDED.streaming, tool_calls=EXCLUDED.tool_calls`

func upsertMessage(ctx context.Context, tx pgx.Tx, sessionID string, m *session.Message) error {
	toolCalls, err := marshalToolCalls(m.ToolCalls)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, upsertMessageQuery,
		sessionID, m.ID, m.Type, m.Content, m.Timestamp,
		pgutil.NullString(m.Agent), m.Streaming, toolCalls,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert message: %w", err)
	}
	return nil
}

// --- DurableStoreProvider implementation -------------------------------------

// SaveSession upserts the session row and every message present in s.
// Messages already stored but absent from s are left untouched, so saving a
// trimmed working copy never discards history.
func (p *Provider) SaveSession(ctx context.Context, s *session.Session) error {
	if s.ID == "" {
		return session.ErrInvalidSessionID
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `INSERT INTO sessions (id, user_id, agent_id, title, created_at, updated_at, metadata)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (id) DO UPDATE SET
		user_id=EXCLUDED.user_id, agent_id=EXCLUDED.agent_id, title=EXCLUDED.title,
		updated_at=EXCLUDED.updated_at, metadata=EXCLUDED.metadata`

	_, err = tx.Exec(ctx, query,
		s.ID, s.UserID, s.AgentID, pgutil.NullString(s.Title),
		s.CreatedAt, s.UpdatedAt, pgutil.MarshalJSONB(s.Metadata),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert session: %w", err)
	}

	for i := range s.Messages {
		if err := upsertMessage(ctx, tx, s.ID, &s.Messages[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (p *Provider) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id=$1 LIMIT 1`
	s, err := scanSession(p.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, err
	}

	msgs, err := p.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.Messages = msgs
	return s, nil
}

func (p *Provider) loadMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id=$1 ORDER BY ts, seq`
	rows, err := p.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query messages: %w", err)
	}
	defer rows.Close()

	msgs := []session.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}
	return msgs, nil
}

func (p *Provider) DeleteSession(ctx context.Context, sessionID string) error {
	// messages are removed by ON DELETE CASCADE.
	res, err := p.pool.Exec(ctx, "DELETE FROM sessions WHERE id=$1", sessionID)
	if err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	if res.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (p *Provider) AddMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	if err := p.sessionExists(ctx, sessionID); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := upsertMessage(ctx, tx, sessionID, msg); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE sessions SET updated_at=$2 WHERE id=$1", sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (p *Provider) UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error {
	if err := p.sessionExists(ctx, sessionID); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id=$1 AND id=$2 FOR UPDATE`
	m, err := scanMessage(tx.QueryRow(ctx, query, sessionID, messageID))
	if err != nil {
		return err
	}

	m.Apply(update)

	toolCalls, err := marshalToolCalls(m.ToolCalls)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE messages SET
		content=$3, agent=$4, streaming=$5, tool_calls=$6
	WHERE session_id=$1 AND id=$2`,
		sessionID, messageID, m.Content, pgutil.NullString(m.Agent), m.Streaming, toolCalls,
	)
	if err != nil {
		return fmt.Errorf("postgres: update message: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE sessions SET updated_at=$2 WHERE id=$1", sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (p *Provider) GetUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	qb := &pgutil.QueryBuilder{}
	qb.Add("user_id=$?", userID)

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1` + qb.Where() +
		` ORDER BY updated_at DESC`
	query = qb.AppendPagination(query, limit, 0)

	rows, err := p.pool.Query(ctx, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*session.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sessions: %w", err)
	}

	for _, s := range sessions {
		msgs, err := p.loadMessages(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		s.Messages = msgs
	}
	return sessions, nil
}

func (p *Provider) SearchMessages(ctx context.Context, userID, query string, limit int) ([]providers.SearchResult, error) {
	qb := &pgutil.QueryBuilder{}
	qb.Add("s.user_id=$?", userID)
	qb.Add("m.content_tsv @@ plainto_tsquery('english', $?)", query)

	sql := `SELECT s.id, s.title, m.id, m.msg_type, m.content, m.ts, m.agent, m.streaming, m.tool_calls
	FROM messages m
	JOIN sessions s ON s.id = m.session_id
	WHERE 1=1` + qb.Where() + ` ORDER BY m.ts DESC`
	sql = qb.AppendPagination(sql, limit, 0)

	rows, err := p.pool.Query(ctx, sql, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search messages: %w", err)
	}
	defer rows.Close()

	results := []providers.SearchResult{}
	for rows.Next() {
		var r providers.SearchResult
		var m session.Message
		var title, agent *string
		var toolCallsJSON []byte

		err := rows.Scan(&r.SessionID, &title, &m.ID, &m.Type, &m.Content, &m.Timestamp, &agent, &m.Streaming, &toolCallsJSON)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan search result: %w", err)
		}
		r.SessionTitle = pgutil.DerefString(title)
		m.Agent = pgutil.DerefString(agent)
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal tool calls: %w", err)
			}
		}
		r.Message = &m
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate search results: %w", err)
	}
	return results, nil
}

func (p *Provider) GetSessionStats(ctx context.Context, userID string) (*providers.SessionStats, error) {
	query := `SELECT
		(SELECT COUNT(*) FROM sessions WHERE user_id=$1),
		(SELECT COUNT(*) FROM messages m JOIN sessions s ON s.id = m.session_id WHERE s.user_id=$1),
		(SELECT COUNT(*) FROM sessions WHERE user_id=$1 AND archived)`

	var stats providers.SessionStats
	err := p.pool.QueryRow(ctx, query, userID).Scan(&stats.TotalSessions, &stats.TotalMessages, &stats.ArchivedSessions)
	if err != nil {
		return nil, fmt.Errorf("postgres: session stats: %w", err)
	}
	stats.ActiveSessions = stats.TotalSessions - stats.ArchivedSessions
	return &stats, nil
}

func (p *Provider) MarkArchived(ctx context.Context, sessionID string, archived bool) error {
	res, err := p.pool.Exec(ctx, "UPDATE sessions SET archived=$2 WHERE id=$1", sessionID, archived)
	if err != nil {
		return fmt.Errorf("postgres: mark archived: %w", err)
	}
	if res.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Pool returns the underlying connection pool. This allows other components
// to share the same connections without owning them.
func (p *Provider) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Provider) Close() error {
	if p.ownsPool {
		p.pool.Close()
	}
	return nil
}
