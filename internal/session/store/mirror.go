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
	"errors"
	"sync"

	"github.com/meridianlabs/tidestore/internal/session"
	"github.com/meridianlabs/tidestore/pkg/metrics"
)

type mirrorKind int

const (
	mirrorSaveSession mirrorKind = iota
	mirrorAddMessage
	mirrorUpdateMessage
	mirrorUnarchive
)

// mirrorOp is one queued durable-tier write.
type mirrorOp struct {
	kind      mirrorKind
	session   *session.Session
	sessionID string
	messageID string
	message   *session.Message
	update    session.MessageUpdate
}

// mirrorWorker applies hot-tier writes to the durable tier in the background.
// Writes are fire-and-forget: a failed mirror write is logged and counted but
// never surfaces to the caller. The queue is bounded; when it is full the op
// is dropped rather than blocking the request path, relying on the archival
// sweep to persist the full session later.
type mirrorWorker struct {
	store    *TieredStore
	ops      chan mirrorOp
	wg       sync.WaitGroup
	stopOnce sync.Once

	// mu serialises enqueue against stop so no send can race the close.
	mu     sync.RWMutex
	closed bool
}

func newMirrorWorker(store *TieredStore, queueSize int) *mirrorWorker {
	return &mirrorWorker{
		store: store,
		ops:   make(chan mirrorOp, queueSize),
	}
}

func (w *mirrorWorker) start() {
	w.wg.Add(1)
	go w.run()
}

// stop closes the queue and waits for queued ops to drain. Safe to call more
// than once.
func (w *mirrorWorker) stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.ops)
		w.mu.Unlock()
		w.wg.Wait()
	})
}

// enqueue offers an op to the queue without blocking. It reports false when
// the op was not accepted, either because the queue is full or the worker is
// shutting down.
func (w *mirrorWorker) enqueue(op mirrorOp) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.ops <- op:
		return true
	default:
		return false
	}
}

func (w *mirrorWorker) run() {
	defer w.wg.Done()
	for op := range w.ops {
		w.apply(op)
		if w.store.metrics != nil {
			w.store.metrics.MirrorQueueDepth.Set(float64(len(w.ops)))
		}
	}
}

func (w *mirrorWorker) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), w.store.cfg.MirrorTimeout)
	defer cancel()

	_, err := w.store.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.applyOp(ctx, op)
	})
	if err != nil {
		// The session stays live in the hot tier; the archival sweep will
		// persist it once the durable tier recovers.
		w.store.log.Error(err, "mirror write failed", "sessionID", w.opSessionID(op))
		if w.store.metrics != nil {
			w.store.metrics.RecordMirrorWrite(metrics.MirrorOutcomeFailed)
		}
		return
	}
	if w.store.metrics != nil {
		w.store.metrics.RecordMirrorWrite(metrics.MirrorOutcomeOK)
	}
}

func (w *mirrorWorker) applyOp(ctx context.Context, op mirrorOp) error {
	switch op.kind {
	case mirrorSaveSession:
		return w.store.durable.SaveSession(ctx, op.session)
	case mirrorAddMessage:
		err := w.store.durable.AddMessage(ctx, op.sessionID, op.message)
		if errors.Is(err, session.ErrSessionNotFound) {
			// The session's initial mirror was dropped; recover by saving the
			// full hot copy.
			return w.saveFromHot(ctx, op.sessionID)
		}
		return err
	case mirrorUpdateMessage:
		err := w.store.durable.UpdateMessage(ctx, op.sessionID, op.messageID, op.update)
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrMessageNotFound) {
			return w.saveFromHot(ctx, op.sessionID)
		}
		return err
	case mirrorUnarchive:
		err := w.store.durable.MarkArchived(ctx, op.sessionID, false)
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// saveFromHot mirrors the full hot copy of a session, repairing a durable
// tier that fell behind the queue.
func (w *mirrorWorker) saveFromHot(ctx context.Context, sessionID string) error {
	s, err := w.store.hot.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil // expired before the mirror caught up
		}
		return err
	}
	return w.store.durable.SaveSession(ctx, s)
}

func (w *mirrorWorker) opSessionID(op mirrorOp) string {
	if op.session != nil {
		return op.session.ID
	}
	return op.sessionID
}

// enqueueMirror queues a durable write without blocking. Drops are logged and
// counted; the archival sweep is the backstop for dropped writes.
func (t *TieredStore) enqueueMirror(op mirrorOp) {
	if t.mirror == nil {
		return
	}
	if t.mirror.enqueue(op) {
		if t.metrics != nil {
			t.metrics.MirrorQueueDepth.Set(float64(len(t.mirror.ops)))
		}
		return
	}
	t.log.Info("mirror queue full or stopping, dropping write", "sessionID", t.mirror.opSessionID(op))
	if t.metrics != nil {
		t.metrics.RecordMirrorWrite(metrics.MirrorOutcomeDropped)
	}
}
