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

// Package metrics defines the Prometheus metrics exposed by the session store
// and the archival scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mirror write outcomes.
const (
	MirrorOutcomeOK      = "ok"
	MirrorOutcomeFailed  = "failed"
	MirrorOutcomeDropped = "dropped"
)

// StoreMetrics holds Prometheus metrics for the tiered session store.
type StoreMetrics struct {
	// MirrorWritesTotal counts async durable mirror writes by outcome.
	MirrorWritesTotal *prometheus.CounterVec
	// MirrorQueueDepth tracks the number of pending mirror writes.
	MirrorQueueDepth prometheus.Gauge
	// TrimsTotal counts sessions trimmed on hot-tier repopulation.
	TrimsTotal prometheus.Counter
	// RepopulationsTotal counts hot-tier misses served from the durable tier.
	RepopulationsTotal prometheus.Counter
	// DurableFallbacksTotal counts reads answered by the durable tier because
	// the hot tier was unavailable.
	DurableFallbacksTotal prometheus.Counter
}

// NewStoreMetrics creates store metrics registered with the default registerer.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegistry creates store metrics registered with reg. Use
// this when an isolated registry is needed (e.g. in tests).
func NewStoreMetricsWithRegistry(reg prometheus.Registerer) *StoreMetrics {
	factory := promauto.With(reg)
	return &StoreMetrics{
		MirrorWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tidestore_mirror_writes_total",
			Help: "Total number of async durable mirror writes by outcome",
		}, []string{"outcome"}),
		MirrorQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidestore_mirror_queue_depth",
			Help: "Number of mirror writes waiting in the queue",
		}),
		TrimsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidestore_hot_trims_total",
			Help: "Total number of sessions trimmed before hot-tier repopulation",
		}),
		RepopulationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidestore_hot_repopulations_total",
			Help: "Total number of hot-tier misses repopulated from the durable tier",
		}),
		DurableFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidestore_durable_fallbacks_total",
			Help: "Total number of reads served by the durable tier due to hot-tier failure",
		}),
	}
}

// RecordMirrorWrite increments the mirror write counter for the given outcome.
func (m *StoreMetrics) RecordMirrorWrite(outcome string) {
	m.MirrorWritesTotal.WithLabelValues(outcome).Inc()
}
