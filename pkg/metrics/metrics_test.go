// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics_test

import (
	"testing"

	"github.com/catalystnet/catalyst/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorsFromFields(t *testing.T) {
	s := struct {
		GaugeMetric      prometheus.Gauge
		CounterMetric    prometheus.Counter
		HistogramMetric  prometheus.Histogram
		unexportedMetric prometheus.Counter
		NotAMetric       int
		CounterVecMetric *prometheus.CounterVec
	}{
		GaugeMetric:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "gauge"}),
		CounterMetric:    prometheus.NewCounter(prometheus.CounterOpts{Name: "counter"}),
		HistogramMetric:  prometheus.NewHistogram(prometheus.HistogramOpts{Name: "histogram"}),
		unexportedMetric: prometheus.NewCounter(prometheus.CounterOpts{Name: "unexported"}),
		CounterVecMetric: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "counter_vec"}, []string{"label"}),
	}

	collectors := metrics.PrometheusCollectorsFromFields(s)

	if l := len(collectors); l != 4 {
		t.Fatalf("got %v collectors %+v, want 4", l, collectors)
	}
}

type component struct {
	c prometheus.Counter
}

func (c component) Metrics() []prometheus.Collector {
	return []prometheus.Collector{c.c}
}

func TestNewRegistry(t *testing.T) {
	c := component{c: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "test_total",
	})}
	c.c.Inc()

	r := metrics.NewRegistry(c, nil)

	families, err := r.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == metrics.Namespace+"_test_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("component metric not registered")
	}
}
