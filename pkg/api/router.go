// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"fmt"
	"net/http"

	"github.com/catalystnet/catalyst/pkg/jsonhttp"
	"github.com/catalystnet/catalyst/pkg/logging/httpaccess"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"resenje.org/web"
)

func (s *server) setupRouting() {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(jsonhttp.NotFoundHandler)

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Catalyst Content Server")
	})

	router.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "User-agent: *\nDisallow: /")
	})

	router.Handle("/contents/{id}", jsonhttp.MethodHandler{
		"GET":  http.HandlerFunc(s.contentGetHandler),
		"HEAD": http.HandlerFunc(s.contentGetHandler),
	})

	router.Handle("/available-content", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.availableContentHandler),
	})

	router.Handle("/pointer-changes", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.pointerChangesHandler),
	})

	router.Handle("/entities", jsonhttp.MethodHandler{
		"POST": web.ChainHandlers(
			jsonhttp.NewMaxBodyBytesHandler(s.MaxUploadSize),
			web.FinalHandlerFunc(s.deployHandler),
		),
	})
	router.Handle("/entities/{type}", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.entitiesGetHandler),
	})

	router.Handle("/status", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.statusHandler),
	})

	router.Handle("/health", web.ChainHandlers(
		httpaccess.SetLevelHandler(0), // suppress access log messages
		web.FinalHandler(jsonhttp.MethodHandler{
			"GET": http.HandlerFunc(s.healthHandler),
		}),
	))

	router.Handle("/metrics", web.ChainHandlers(
		httpaccess.SetLevelHandler(0), // suppress access log messages
		web.FinalHandler(promhttp.InstrumentMetricHandler(
			s.metricsRegistry,
			promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}),
		)),
	))

	s.Handler = web.ChainHandlers(
		httpaccess.NewHandler(s.Logger, logrus.InfoLevel, "api access"),
		handlers.RecoveryHandler(
			handlers.RecoveryLogger(s.Logger.NewEntry()),
			handlers.PrintRecoveryStack(false),
		),
		s.pageviewMetricsHandler,
		s.responseCodeMetricsHandler,
		s.corsHandler,
		web.FinalHandler(router),
	)
}

func (s *server) corsHandler(h http.Handler) http.Handler {
	if len(s.CORSAllowedOrigins) == 0 {
		return h
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.CORSAllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Range"}),
		handlers.ExposedHeaders([]string{"Content-Range", "Content-Encoding", "Content-Length", "ETag"}),
		handlers.MaxAge(600),
	)(h)
}
