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

// Package store orchestrates the two storage tiers. The hot tier serves live
// conversations with volatile TTLs; the durable tier is the source of record.
// Writes land in the hot tier synchronously and are mirrored to the durable
// tier by a background worker. Idle sessions are archived to the durable tier
// and evicted from the hot tier.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/meridianlabs/tidestore/internal/fault"
	"github.com/meridianlabs/tidestore/internal/resilience"
	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/internal/session/providers"
	"github.com/meridianlabs/tidestore/pkg/metrics"
)

// Config tunes the tiered store behaviour.
type Config struct {
	// HotRetention is the TTL applied to hot-tier sessions. Default: 2h.
	HotRetention time.Duration
	// ArchiveAfterIdle is how long a session may stay idle in the hot tier
	// before an archival sweep moves it to the durable tier. Default: 30m.
	ArchiveAfterIdle time.Duration
	// MaxHotMessages caps the number of messages kept when a session is
	// repopulated into the hot tier. Default: 50.
	MaxHotMessages int
	// ArchiveBatchSize caps the number of sessions archived per sweep.
	// Default: 10.
	ArchiveBatchSize int
	// MirrorQueueSize bounds the async durable write queue. Default: 256.
	MirrorQueueSize int
	// MirrorTimeout bounds each durable mirror write. Default: 10s.
	MirrorTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HotRetention:     2 * time.Hour,
		ArchiveAfterIdle: 30 * time.Minute,
		MaxHotMessages:   50,
		ArchiveBatchSize: 10,
		MirrorQueueSize:  256,
		MirrorTimeout:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HotRetention <= 0 {
		c.HotRetention = def.HotRetention
	}
	if c.ArchiveAfterIdle <= 0 {
		c.ArchiveAfterIdle = def.ArchiveAfterIdle
	}
	if c.MaxHotMessages <= 0 {
		c.MaxHotMessages = def.MaxHotMessages
	}
	if c.ArchiveBatchSize <= 0 {
		c.ArchiveBatchSize = def.ArchiveBatchSize
	}
	if c.MirrorQueueSize <= 0 {
		c.MirrorQueueSize = def.MirrorQueueSize
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = def.MirrorTimeout
	}
	return c
}

// ArchiveResult summarises an archival sweep.
type ArchiveResult struct {
	SessionsArchived int64
	SessionsSkipped  int64
	AlreadyRunning   bool
	Errors           []error
}

// TieredStore coordinates the hot and durable tiers.
type TieredStore struct {
	hot     providers.HotStoreProvider
	durable providers.DurableStoreProvider
	cfg     Config
	log     logr.Logger
	metrics *metrics.StoreMetrics // may be nil

	mirror  *mirrorWorker
	breaker *resilience.CircuitBreaker[struct{}]

	// archiving tracks sessions with an archival write in flight so a
	// concurrent sweep cannot archive the same session twice.
	archivingMu sync.Mutex
	archiving   map[string]struct{}
	sweeping    atomic.Bool
}

// New creates a TieredStore. The durable provider may be nil, in which case
// the store runs hot-only and archival is disabled.
func New(hot providers.HotStoreProvider, durable providers.DurableStoreProvider, cfg Config, log logr.Logger, m *metrics.StoreMetrics) *TieredStore {
	cfg = cfg.withDefaults()

	s := &TieredStore{
		hot:       hot,
		durable:   durable,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		archiving: make(map[string]struct{}),
	}
	if durable != nil {
		s.breaker = resilience.NewCircuitBreaker[struct{}](resilience.BreakerOptions{
			Name: "durable-tier",
			OnStateChange: func(name string, from, to resilience.BreakerState) {
				log.Info("circuit breaker state change", "breaker", name, "from", from, "to", to)
			},
		})
		s.mirror = newMirrorWorker(s, cfg.MirrorQueueSize)
		s.mirror.start()
	}
	return s
}

// GenerateSessionID mints a new session identifier.
func (t *TieredStore) GenerateSessionID() string { return t.hot.GenerateSessionID() }

// GenerateMessageID mints a new message identifier.
func (t *TieredStore) GenerateMessageID() string { return t.hot.GenerateMessageID() }

// CreateSession creates a session in the hot tier and mirrors it to the
// durable tier asynchronously. Durable-tier unavailability never blocks
// creation.
func (t *TieredStore) CreateSession(ctx context.Context, userID, agentID string) (*session.Session, error) {
	s, err := t.hot.CreateSession(ctx, userID, agentID, t.cfg.HotRetention)
	if err != nil {
		return nil, fault.Normalize(fmt.Errorf("creating session: %w", err), fault.Context{UserID: userID})
	}
	t.enqueueMirror(mirrorOp{kind: mirrorSaveSession, session: s.Clone()})
	return s, nil
}

// GetSession reads the session from the hot tier first. On a hot miss the
// durable copy is returned in full, and a trimmed copy is planted back into
// the hot tier so subsequent reads stay hot.
func (t *TieredStore) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	fctx := fault.Context{Resource: sessionID}

	s, hotErr := t.hot.GetSession(ctx, sessionID)
	if hotErr == nil {
		// Sliding expiration: reads keep an active session hot. Best effort.
		if err := t.hot.ExtendTTL(ctx, sessionID, t.cfg.HotRetention); err != nil {
			t.log.Error(err, "hot tier TTL extension failed", "sessionID", sessionID)
		}
		return s, nil
	}
	if !errors.Is(hotErr, session.ErrSessionNotFound) {
		t.log.Error(hotErr, "hot tier read failed, falling back to durable tier", "sessionID", sessionID)
		if t.metrics != nil {
			t.metrics.DurableFallbacksTotal.Inc()
		}
	}

	if t.durable == nil {
		return nil, fault.Normalize(hotErr, fctx)
	}

	full, err := t.durable.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fault.Normalize(err, fctx)
	}

	// Repopulate the hot tier with a bounded copy. Best effort: the full
	// history is returned to the caller regardless.
	t.repopulateHot(ctx, full)
	return full, nil
}

func (t *TieredStore) repopulateHot(ctx context.Context, full *session.Session) {
	trimmed := session.TrimForHotStorage(full, t.cfg.MaxHotMessages)
	if wasTrimmed, _ := session.WasTrimmed(trimmed); wasTrimmed && t.metrics != nil {
		t.metrics.TrimsTotal.Inc()
	}
	if err := t.hot.SetSession(ctx, trimmed, t.cfg.HotRetention); err != nil {
		t.log.Error(err, "hot tier repopulation failed", "sessionID", full.ID)
		return
	}
	if t.metrics != nil {
		t.metrics.RepopulationsTotal.Inc()
	}
}

// SaveSession writes the session to the hot tier, bounded by the hot message
// cap, and mirrors the full session to the durable tier asynchronously.
func (t *TieredStore) SaveSession(ctx context.Context, s *session.Session) error {
	s.UpdatedAt = time.Now().UTC()
	trimmed := session.TrimForHotStorage(s, t.cfg.MaxHotMessages)
	if wasTrimmed, _ := session.WasTrimmed(trimmed); wasTrimmed && t.metrics != nil {
		t.metrics.TrimsTotal.Inc()
	}
	if err := t.hot.SetSession(ctx, trimmed, t.cfg.HotRetention); err != nil {
		return fault.Normalize(fmt.Errorf("saving session: %w", err), fault.Context{Resource: s.ID})
	}
	t.enqueueMirror(mirrorOp{kind: mirrorSaveSession, session: s.Clone()})
	return nil
}

// AddMessage appends a message to the session. The message ID is generated
// when absent so the durable mirror targets the same row.
func (t *TieredStore) AddMessage(ctx context.Context, sessionID string, msg *session.Message) error {
	if msg.ID == "" {
		msg.ID = t.hot.GenerateMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := t.hot.AppendMessage(ctx, sessionID, msg); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return t.addMessageToArchived(ctx, sessionID, msg)
		}
		return fault.Normalize(fmt.Errorf("appending message: %w", err), fault.Context{Resource: sessionID})
	}

	m := *msg
	m.ToolCalls = append([]session.ToolCall(nil), msg.ToolCalls...)
	t.enqueueMirror(mirrorOp{kind: mirrorAddMessage, sessionID: sessionID, message: &m})
	return nil
}

// addMessageToArchived revives an archived session: the durable copy is
// repopulated into the hot tier and the message is appended there.
func (t *TieredStore) addMessageToArchived(ctx context.Context, sessionID string, msg *session.Message) error {
	fctx := fault.Context{Resource: sessionID}
	if t.durable == nil {
		return fault.Normalize(session.ErrSessionNotFound, fctx)
	}

	full, err := t.durable.GetSession(ctx, sessionID)
	if err != nil {
		return fault.Normalize(err, fctx)
	}
	t.repopulateHot(ctx, full)

	if err := t.hot.AppendMessage(ctx, sessionID, msg); err != nil {
		return fault.Normalize(fmt.Errorf("appending message after revival: %w", err), fctx)
	}

	m := *msg
	m.ToolCalls = append([]session.ToolCall(nil), msg.ToolCalls...)
	t.enqueueMirror(mirrorOp{kind: mirrorAddMessage, sessionID: sessionID, message: &m})
	t.enqueueMirror(mirrorOp{kind: mirrorUnarchive, sessionID: sessionID})
	return nil
}

// UpdateMessage applies a partial update to a message by ID, targeting the
// hot copy first and mirroring the change to the durable tier.
func (t *TieredStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update session.MessageUpdate) error {
	fctx := fault.Context{Resource: sessionID}
	if update.IsZero() {
		return nil
	}

	err := t.hot.UpdateMessage(ctx, sessionID, messageID, update)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) && t.durable != nil {
			// Session already archived; update the durable copy directly.
			if derr := t.durable.UpdateMessage(ctx, sessionID, messageID, update); derr != nil {
				return fault.Normalize(derr, fctx)
			}
			return nil
		}
		return fault.Normalize(err, fctx)
	}

	t.enqueueMirror(mirrorOp{kind: mirrorUpdateMessage, sessionID: sessionID, messageID: messageID, update: update})
	return nil
}

// ExtendTTL pushes out the hot-tier expiry for an active session.
func (t *TieredStore) ExtendTTL(ctx context.Context, sessionID string) error {
	if err := t.hot.ExtendTTL(ctx, sessionID, t.cfg.HotRetention); err != nil {
		return fault.Normalize(err, fault.Context{Resource: sessionID})
	}
	return nil
}

// GetUserSessions merges both tiers' views of the user's sessions. When a
// session exists in both tiers the hot copy wins, since it reflects writes
// the mirror may not have applied yet.
func (t *TieredStore) GetUserSessions(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	fctx := fault.Context{UserID: userID}

	merged := make(map[string]*session.Session)

	if t.durable != nil {
		durableSessions, err := t.durable.GetUserSessions(ctx, userID, 0)
		if err != nil {
			t.log.Error(err, "durable tier list failed, serving hot tier only", "userID", userID)
		} else {
			for _, s := range durableSessions {
				merged[s.ID] = s
			}
		}
	}

	hotSessions, err := t.hot.ListUserSessions(ctx, userID, 0)
	if err != nil {
		if len(merged) == 0 {
			return nil, fault.Normalize(err, fctx)
		}
		t.log.Error(err, "hot tier list failed, serving durable tier only", "userID", userID)
	}
	for _, s := range hotSessions {
		merged[s.ID] = s
	}

	out := make([]*session.Session, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession removes the session from both tiers. Absence in one tier is
// not an error as long as the session existed somewhere.
func (t *TieredStore) DeleteSession(ctx context.Context, sessionID string) error {
	fctx := fault.Context{Resource: sessionID}

	hotErr := t.hot.DeleteSession(ctx, sessionID)
	if hotErr != nil && !errors.Is(hotErr, session.ErrSessionNotFound) {
		return fault.Normalize(hotErr, fctx)
	}

	var durableErr error
	if t.durable != nil {
		durableErr = t.durable.DeleteSession(ctx, sessionID)
		if durableErr != nil && !errors.Is(durableErr, session.ErrSessionNotFound) {
			return fault.Normalize(durableErr, fctx)
		}
	}

	if hotErr != nil && (t.durable == nil || durableErr != nil) {
		return fault.Normalize(session.ErrSessionNotFound, fctx)
	}
	return nil
}

// SearchHistory runs a full-text search over the user's durable history.
func (t *TieredStore) SearchHistory(ctx context.Context, userID, query string, limit int) ([]providers.SearchResult, error) {
	if t.durable == nil {
		return nil, fault.New(fault.KindServiceUnavailable, "history search requires the durable tier")
	}
	results, err := t.durable.SearchMessages(ctx, userID, query, limit)
	if err != nil {
		return nil, fault.Normalize(err, fault.Context{UserID: userID})
	}
	return results, nil
}

// Stats returns aggregate counts for the user from the durable tier. The
// active-session count comes from the hot tier, which reflects live sessions
// the durable archived flag lags behind on.
func (t *TieredStore) Stats(ctx context.Context, userID string) (*providers.SessionStats, error) {
	if t.durable == nil {
		return nil, fault.New(fault.KindServiceUnavailable, "stats require the durable tier")
	}
	stats, err := t.durable.GetSessionStats(ctx, userID)
	if err != nil {
		return nil, fault.Normalize(err, fault.Context{UserID: userID})
	}
	if live, err := t.hot.CountUserSessions(ctx, userID); err != nil {
		t.log.Error(err, "hot tier count failed, using durable active count", "userID", userID)
	} else {
		stats.ActiveSessions = live
	}
	return stats, nil
}

// ArchiveIdleSessions sweeps the hot tier for sessions idle longer than the
// configured threshold, persists each to the durable tier, and evicts the hot
// copy only after the durable write is confirmed. Overlapping sweeps are
// no-ops, and a session with an archival already in flight is skipped.
func (t *TieredStore) ArchiveIdleSessions(ctx context.Context, batchSize int) (*ArchiveResult, error) {
	result := &ArchiveResult{}
	if t.durable == nil {
		return result, nil
	}
	if !t.sweeping.CompareAndSwap(false, true) {
		result.AlreadyRunning = true
		return result, nil
	}
	defer t.sweeping.Store(false)

	if batchSize <= 0 {
		batchSize = t.cfg.ArchiveBatchSize
	}

	sessions, err := t.hot.ListSessions(ctx)
	if err != nil {
		return result, fault.Normalize(fmt.Errorf("listing hot sessions: %w", err), fault.Context{})
	}

	cutoff := time.Now().Add(-t.cfg.ArchiveAfterIdle)
	for _, s := range sessions {
		if ctx.Err() != nil {
			break
		}
		if result.SessionsArchived >= int64(batchSize) {
			break
		}
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}

		if !t.beginArchiving(s.ID) {
			result.SessionsSkipped++
			continue
		}
		err := t.archiveOne(ctx, s)
		t.endArchiving(s.ID)

		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.SessionsArchived++
	}
	return result, nil
}

// archiveOne persists one session durably and evicts it from the hot tier.
// The hot delete happens only after the durable write succeeds; a failed
// durable write leaves the session in place for the next sweep.
func (t *TieredStore) archiveOne(ctx context.Context, s *session.Session) error {
	err := resilience.Do(ctx, func(ctx context.Context) error {
		_, err := t.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, t.durable.SaveSession(ctx, s)
		})
		return err
	}, resilience.RetryOptions{
		OnRetry: func(attempt int, delay time.Duration, err error) {
			t.log.Info("retrying archival write", "sessionID", s.ID, "attempt", attempt, "delay", delay, "error", err.Error())
		},
	})
	if err != nil {
		return fmt.Errorf("archiving session %s: %w", s.ID, err)
	}

	if err := t.durable.MarkArchived(ctx, s.ID, true); err != nil {
		return fmt.Errorf("marking session %s archived: %w", s.ID, err)
	}

	if err := t.hot.DeleteSession(ctx, s.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("evicting session %s from hot tier: %w", s.ID, err)
	}
	return nil
}

func (t *TieredStore) beginArchiving(sessionID string) bool {
	t.archivingMu.Lock()
	defer t.archivingMu.Unlock()
	if _, inFlight := t.archiving[sessionID]; inFlight {
		return false
	}
	t.archiving[sessionID] = struct{}{}
	return true
}

func (t *TieredStore) endArchiving(sessionID string) {
	t.archivingMu.Lock()
	defer t.archivingMu.Unlock()
	delete(t.archiving, sessionID)
}

// BreakerState reports the durable-tier circuit breaker state.
func (t *TieredStore) BreakerState() resilience.BreakerState {
	if t.breaker == nil {
		return resilience.BreakerClosed
	}
	return t.breaker.State()
}

// Ping verifies both tiers are reachable.
func (t *TieredStore) Ping(ctx context.Context) error {
	if err := t.hot.Ping(ctx); err != nil {
		return fault.Normalize(fmt.Errorf("hot tier: %w", err), fault.Context{})
	}
	if t.durable != nil {
		if err := t.durable.Ping(ctx); err != nil {
			return fault.Normalize(fmt.Errorf("durable tier: %w", err), fault.Context{})
		}
	}
	return nil
}

// Close drains the mirror queue and shuts the store down. Provider
// connections are owned by the caller (or a Registry) and are not closed
// here.
func (t *TieredStore) Close() error {
	if t.mirror != nil {
		t.mirror.stop()
	}
	return nil
}
