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

// Package redis implements the hot tier on Redis. Each session is stored as a
// single JSON document under a volatile key; a per-user set indexes the
// sessions owned by each user.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers"
)

// Compile-time interface check.
var _ providers.HotStoreProvider = (*Provider)(nil)

// Provider implements providers.HotStoreProvider using Redis.
type Provider struct {
	client     goredis.UniversalClient
	keyPrefix  string
	ownsClient bool
}

// New creates a Provider that owns the underlying Redis client. The client is
// created from cfg and verified with a PING. Close will shut down the client.
func New(cfg Config) (*Provider, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis: at least one address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	opts := &goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.TLS,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := goredis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	return &Provider{
		client:     client,
		keyPrefix:  prefix,
		ownsClient: true,
	}, nil
}

// NewFromClient wraps an existing UniversalClient. Close is a no-op because
// the caller retains ownership of the client.
func NewFromClient(client goredis.UniversalClient, opts Options) *Provider {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Provider{
		client:     client,
		keyPrefix:  prefix,
		ownsClient: false,
	}
}

// --- key helpers -----------------------------------------------------------

func (p *Provider) sessionKey(id string) string {
	return p.keyPrefix + "session:{" + id + "}"
}

func (p *Provider) userSessionsKey(userID string) string {
	return p.keyPrefix + "user:" + userID + ":sessions"
}

// --- HotStoreProvider implementation ---------------------------------------

// GenerateSessionID mints a new session identifier.
func (p *Provider) GenerateSessionID() string { return uuid.New().String() }

// GenerateMessageID mints a new message identifier.
func (p *Provider) GenerateMessageID() string { return uuid.New().String() }

func (p *Provider) CreateSession(ctx context.Context, userID, agentID string, ttl time.Duration) (*session.Session, error) {
	now := time.Now().UTC()
	s := &session.Session{
		ID:        p.GenerateSessionID(),
		UserID:    userID,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []session.Message{},
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("redis: marshal session: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.sessionKey(s.ID), data, ttl)
	pipe.SAdd(ctx, p.userSessionsKey(userID), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: create session: %w", err)
	}
	return s, nil
}

func (p *Provider) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	data, err := p.client.Get(ctx, p.sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis: get session: %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("redis: unmarshal session: %w", err)
	}
	return &s, nil
}

func (p *Provider) SetSession(ctx context.Context, s *session.Session, ttl time.Duration) error {
	if s.ID == "" {
		return session.ErrInvalidSessionID
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal session: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.sessionKey(s.ID), data, ttl)
	if s.UserID != "" {
		pipe.SAdd(ctx, p.userSessionsKey(s.UserID), s.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set session: %w", err)
	}
	return nil
}

func (p *Provider) AppendMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	s, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	m := *msg
	if m.ID == "" {
		m.ID = p.GenerateMessageID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = time.Now().UTC()

	return p.writePreservingTTL(ctx, s)
}

func (p *Provider) UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error {
	s, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	idx := s.FindMessage(messageID)
	if idx < 0 {
		return session.ErrMessageNotFound
	}
	s.Messages[idx].Apply(update)
	s.UpdatedAt = time.Now().UTC()

	return p.writePreservingTTL(ctx, s)
}

func (p *Provider) ListUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	ids, err := p.client.SMembers(ctx, p.userSessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list user sessions: %w", err)
	}

	sessions := make([]*session.Session, 0, len(ids))
	var stale []any
	for _, id := range ids {
		s, err := p.GetSession(ctx, id)
		if err != nil {
			if err == session.ErrSessionNotFound {
				// Expired or evicted; drop the index entry.
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if len(stale) > 0 {
		_ = p.client.SRem(ctx, p.userSessionsKey(userID), stale...).Err()
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (p *Provider) ListSessions(ctx context.Context) ([]*session.Session, error) {
	var (
		sessions []*session.Session
		cursor   uint64
	)
	pattern := p.keyPrefix + "session:*"
	for {
		keys, next, err := p.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan sessions: %w", err)
		}
		for _, key := range keys {
			data, err := p.client.Get(ctx, key).Bytes()
			if err != nil {
				if err == goredis.Nil {
					continue // expired between SCAN and GET
				}
				return nil, fmt.Errorf("redis: get session: %w", err)
			}
			var s session.Session
			if err := json.Unmarshal(data, &s); err != nil {
				return nil, fmt.Errorf("redis: unmarshal session: %w", err)
			}
			sessions = append(sessions, &s)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

func (p *Provider) CountUserSessions(ctx context.Context, userID string) (int64, error) {
	ids, err := p.client.SMembers(ctx, p.userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count user sessions: %w", err)
	}

	var n int64
	for _, id := range ids {
		exists, err := p.client.Exists(ctx, p.sessionKey(id)).Result()
		if err != nil {
			return 0, fmt.Errorf("redis: check existence: %w", err)
		}
		n += exists
	}
	return n, nil
}

func (p *Provider) DeleteSession(ctx context.Context, sessionID string) error {
	s, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Del(ctx, p.sessionKey(sessionID))
	if s.UserID != "" {
		pipe.SRem(ctx, p.userSessionsKey(s.UserID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

func (p *Provider) ExtendTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := p.sessionKey(sessionID)

	exists, err := p.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: check existence: %w", err)
	}
	if exists == 0 {
		return session.ErrSessionNotFound
	}

	if ttl > 0 {
		if err := p.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("redis: extend ttl: %w", err)
		}
		return nil
	}
	if err := p.client.Persist(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: persist session: %w", err)
	}
	return nil
}

// RedisClient returns the underlying Redis client. This allows other
// components to share the same connection without owning it.
func (p *Provider) RedisClient() goredis.UniversalClient {
	return p.client
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Provider) Close() error {
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

// writePreservingTTL rewrites the session document without disturbing the
// key's remaining TTL.
func (p *Provider) writePreservingTTL(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal session: %w", err)
	}
	if err := p.client.Set(ctx, p.sessionKey(s.ID), data, goredis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis: set session: %w", err)
	}
	return nil
}
