// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package catalog

import (
	m "github.com/catalystnet/catalyst/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection
	AdmittedCount        prometheus.Counter
	AlreadyKnownCount    prometheus.Counter
	PointerOverrideCount prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "catalog"

	return metrics{
		AdmittedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "admitted_count",
			Help:      "Number of entities admitted.",
		}),
		AlreadyKnownCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "already_known_count",
			Help:      "Number of admissions of entities that were already known.",
		}),
		PointerOverrideCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pointer_override_count",
			Help:      "Number of pointers taken over by a superseding entity.",
		}),
	}
}

func (c *Catalog) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
