// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api_test

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/catalystnet/catalyst"
	"github.com/catalystnet/catalyst/pkg/api"
	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/jsonhttp/jsonhttptest"
	"github.com/catalystnet/catalyst/pkg/synchronizer"
)

func TestStatus(t *testing.T) {
	lastSync := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	peers := syncStatus{
		{
			Address:    "https://a.example.com",
			State:      "idle",
			Checkpoint: entity.Cursor{Timestamp: 1000, LastID: "bafkreia"},
			LastSync:   &lastSync,
		},
		{
			Address:             "https://b.example.com",
			State:               "fetching",
			ConsecutiveFailures: 2,
			LastError:           "peer unreachable",
		},
	}

	t.Run("with peers", func(t *testing.T) {
		ts := newTestServer(t, testServerOptions{Sync: peers})
		jsonhttptest.Request(t, ts.client, http.MethodGet, "/status", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(api.StatusResponse{
				Version: catalyst.Version,
				Peers:   peers,
			}),
		)
	})

	t.Run("without synchronizer", func(t *testing.T) {
		ts := newTestServer(t, testServerOptions{})
		jsonhttptest.Request(t, ts.client, http.MethodGet, "/status", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(api.StatusResponse{
				Version: catalyst.Version,
				Peers:   []synchronizer.PeerStatus{},
			}),
		)
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testServerOptions{})
	jsonhttptest.Request(t, ts.client, http.MethodGet, "/health", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(api.HealthStatusResponse{
			Status:  "ok",
			Version: catalyst.Version,
		}),
	)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, testServerOptions{})
	jsonhttptest.Request(t, ts.client, http.MethodGet, "/health", http.StatusOK)

	var body []byte
	jsonhttptest.Request(t, ts.client, http.MethodGet, "/metrics", http.StatusOK,
		jsonhttptest.WithPutResponseBody(&body),
	)
	for _, name := range []string{
		"catalyst_api_request_count",
		"catalyst_api_response_code_count",
		"go_goroutines",
	} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("metric %s not exposed", name)
		}
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, testServerOptions{CORSAllowedOrigins: []string{"https://play.example.com"}})

	jsonhttptest.Request(t, ts.client, http.MethodGet, "/health", http.StatusOK,
		jsonhttptest.WithRequestHeader("Origin", "https://play.example.com"),
		jsonhttptest.WithExpectedResponseHeader("Access-Control-Allow-Origin", "https://play.example.com"),
	)

	jsonhttptest.Request(t, ts.client, http.MethodGet, "/health", http.StatusOK,
		jsonhttptest.WithRequestHeader("Origin", "https://evil.example.com"),
		jsonhttptest.WithExpectedResponseHeader("Access-Control-Allow-Origin", ""),
	)

	jsonhttptest.Request(t, ts.client, http.MethodOptions, "/contents/x", http.StatusOK,
		jsonhttptest.WithRequestHeader("Origin", "https://play.example.com"),
		jsonhttptest.WithRequestHeader("Access-Control-Request-Method", "GET"),
		jsonhttptest.WithRequestHeader("Access-Control-Request-Headers", "Range"),
		jsonhttptest.WithExpectedResponseHeader("Access-Control-Allow-Headers", "Range"),
		jsonhttptest.WithExpectedResponseHeader("Access-Control-Max-Age", "600"),
	)
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, testServerOptions{})
	jsonhttptest.Request(t, ts.client, http.MethodGet, "/unknown", http.StatusNotFound)
}
