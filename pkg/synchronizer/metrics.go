// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package synchronizer

import (
	m "github.com/catalystnet/catalyst/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection
	Peers            prometheus.Gauge
	RegistryErrors   prometheus.Counter
	CyclesCount      prometheus.Counter
	CycleFailures    prometheus.Counter
	CycleTimeouts    prometheus.Counter
	CycleDuration    prometheus.Histogram
	EntitiesAdmitted prometheus.Counter
	EntitiesSkipped  prometheus.Counter
	BlobsFetched     prometheus.Counter
	BlobsShared      prometheus.Counter
	BlacklistedCount prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "synchronizer"

	return metrics{
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Number of peers listed in the last round.",
		}),
		RegistryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "registry_errors",
			Help:      "Number of rounds skipped because the registry failed.",
		}),
		CyclesCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cycles_count",
			Help:      "Number of successful peer cycles.",
		}),
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cycle_failures",
			Help:      "Number of failed peer cycles.",
		}),
		CycleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cycle_timeouts",
			Help:      "Number of peer cycles that ran out of time.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of peer cycles.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		EntitiesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "entities_admitted",
			Help:      "Number of entities admitted from peers.",
		}),
		EntitiesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "entities_skipped",
			Help:      "Number of deltas of already known entities.",
		}),
		BlobsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "blobs_fetched",
			Help:      "Number of blobs downloaded from peers.",
		}),
		BlobsShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "blobs_shared",
			Help:      "Number of blob requests served by a download already in flight.",
		}),
		BlacklistedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "blacklisted_count",
			Help:      "Number of peers removed after repeated failures.",
		}),
	}
}

func (s *Synchronizer) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
