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

// Package archive runs the periodic sweep that moves idle sessions from the
// hot tier to the durable tier.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/meridianlabs/tidestore/internal/session/store"
	"github.com/meridianlabs/tidestore/pkg/metrics"
)

// Archiver is the sweep operation the scheduler drives.
type Archiver interface {
	ArchiveIdleSessions(ctx context.Context, batchSize int) (*store.ArchiveResult, error)
}

// Options tunes the scheduler.
type Options struct {
	// Interval between sweeps. The cron runner rounds sub-second intervals
	// up to one second. Default: 15m.
	Interval time.Duration
	// BatchSize caps sessions archived per sweep. Default: 10.
	BatchSize int
	// Enabled gates the scheduler; a disabled scheduler starts as a no-op.
	Enabled bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Interval:  15 * time.Minute,
		BatchSize: 10,
		Enabled:   true,
	}
}

// Status reports the scheduler's last run.
type Status struct {
	Running          bool
	LastRun          time.Time
	LastArchived     int64
	LastSkipped      int64
	LastErrors       int
	ConsecutiveFails int
}

// Scheduler triggers archival sweeps on a fixed interval.
type Scheduler struct {
	archiver Archiver
	opts     Options
	log      *zap.SugaredLogger
	metrics  *metrics.ArchivalMetrics // may be nil

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	status  Status
	started bool
}

// NewScheduler creates an archival scheduler.
func NewScheduler(archiver Archiver, opts Options, m *metrics.ArchivalMetrics, log *zap.SugaredLogger) *Scheduler {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	return &Scheduler{
		archiver: archiver,
		opts:     opts,
		log:      log,
		metrics:  m,
	}
}

// Start begins periodic sweeps. Calling Start on a disabled or already
// started scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.Enabled {
		s.log.Info("archival scheduler disabled")
		return nil
	}
	if s.started {
		return nil
	}

	s.cron = cron.New()
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.opts.Interval), func() {
		s.RunArchival(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduling archival sweep: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.started = true
	s.log.Infow("archival scheduler started", "interval", s.opts.Interval, "batchSize", s.opts.BatchSize)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.started = false
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("archival scheduler stopped")
}

// RunArchival executes one sweep immediately. An overlapping sweep inside the
// store is reported as a no-op, not an error.
func (s *Scheduler) RunArchival(ctx context.Context) {
	start := time.Now()
	result, err := s.archiver.ArchiveIdleSessions(ctx, s.opts.BatchSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastRun = start

	if err != nil {
		s.status.ConsecutiveFails++
		s.log.Errorw("archival sweep failed", "error", err)
		if s.metrics != nil {
			s.metrics.RecordError("sweep")
		}
		return
	}
	if result.AlreadyRunning {
		s.log.Debug("archival sweep already running, skipping")
		return
	}

	s.status.LastArchived = result.SessionsArchived
	s.status.LastSkipped = result.SessionsSkipped
	s.status.LastErrors = len(result.Errors)
	if len(result.Errors) > 0 {
		s.status.ConsecutiveFails++
		for _, e := range result.Errors {
			s.log.Warnw("archival error", "error", e)
			if s.metrics != nil {
				s.metrics.RecordError("archive_session")
			}
		}
	} else {
		s.status.ConsecutiveFails = 0
	}

	if s.metrics != nil {
		s.metrics.RecordDuration(time.Since(start))
		s.metrics.RecordSessionsArchived(result.SessionsArchived)
		for i := int64(0); i < result.SessionsSkipped; i++ {
			s.metrics.RecordSessionSkipped()
		}
		s.metrics.RecordLastRun()
	}

	s.log.Infow("archival sweep complete",
		"sessionsArchived", result.SessionsArchived,
		"sessionsSkipped", result.SessionsSkipped,
		"errors", len(result.Errors),
		"duration", time.Since(start))
}

// Status returns a snapshot of the scheduler's recent activity.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.started
	return st
}
