// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package contentstore

import (
	m "github.com/catalystnet/catalyst/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection
	StoredCount        prometheus.Counter
	StoredBytes        prometheus.Counter
	RetrievedCount     prometheus.Counter
	NotFoundCount      prometheus.Counter
	DeletedCount       prometheus.Counter
	CompressionResults *prometheus.CounterVec
}

func newMetrics() metrics {
	subsystem := "contentstore"

	return metrics{
		StoredCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "stored_count",
			Help:      "Number of blobs written.",
		}),
		StoredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "stored_bytes",
			Help:      "Number of canonical bytes written.",
		}),
		RetrievedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "retrieved_count",
			Help:      "Number of blobs retrieved.",
		}),
		NotFoundCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "not_found_count",
			Help:      "Number of retrievals of unknown blobs.",
		}),
		DeletedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "deleted_count",
			Help:      "Number of blob deletions.",
		}),
		CompressionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "compression_results",
			Help:      "Outcomes of compression attempts.",
		}, []string{"result"}),
	}
}

func (s *Store) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
