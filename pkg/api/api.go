// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api serves the content of the node to clients and the deployment
// history to other catalyst servers.
package api

import (
	"net/http"

	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/deployer"
	"github.com/catalystnet/catalyst/pkg/logging"
	m "github.com/catalystnet/catalyst/pkg/metrics"
	"github.com/catalystnet/catalyst/pkg/synchronizer"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxUploadSize = 512 * 1024 * 1024
	// maxPageSize bounds the number of deltas served in one response.
	maxPageSize     = 1000
	defaultPageSize = 500
)

type Service interface {
	http.Handler
	MustRegisterMetrics(cs ...prometheus.Collector)
	Metrics() []prometheus.Collector
}

// SyncStatuser reports the synchronization state of every peer.
type SyncStatuser interface {
	Status() []synchronizer.PeerStatus
}

type server struct {
	Options
	http.Handler
	metrics         metrics
	metricsRegistry *prometheus.Registry
}

type Options struct {
	Store    *contentstore.Store
	Catalog  *catalog.Catalog
	Deployer *deployer.Deployer
	Sync     SyncStatuser
	Logger   logging.Logger
	// CORSAllowedOrigins lists the origins allowed to make cross origin
	// requests. No CORS headers are set when it is empty.
	CORSAllowedOrigins []string
	// MaxUploadSize bounds the body of a deployment request.
	MaxUploadSize int64
}

func New(o Options) Service {
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = defaultMaxUploadSize
	}
	s := &server{
		Options:         o,
		metrics:         newMetrics(),
		metricsRegistry: m.NewRegistry(),
	}
	s.metricsRegistry.MustRegister(s.Metrics()...)

	s.setupRouting()

	return s
}

// MustRegisterMetrics exposes the collectors on the metrics endpoint.
func (s *server) MustRegisterMetrics(cs ...prometheus.Collector) {
	s.metricsRegistry.MustRegister(cs...)
}
