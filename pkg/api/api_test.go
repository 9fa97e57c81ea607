// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/catalystnet/catalyst/pkg/api"
	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/deployer"
	"github.com/catalystnet/catalyst/pkg/logging"
	statestore "github.com/catalystnet/catalyst/pkg/statestore/mock"
	"github.com/catalystnet/catalyst/pkg/synchronizer"
	"github.com/spf13/afero"
	"resenje.org/web"
)

type syncStatus []synchronizer.PeerStatus

func (s syncStatus) Status() []synchronizer.PeerStatus { return s }

type testServerOptions struct {
	Sync               api.SyncStatuser
	CORSAllowedOrigins []string
	MaxUploadSize      int64
}

type testServer struct {
	client   *http.Client
	url      string
	store    *contentstore.Store
	catalog  *catalog.Catalog
	deployer *deployer.Deployer
}

func newTestServer(t *testing.T, o testServerOptions) *testServer {
	t.Helper()

	logger := logging.New(io.Discard, 0)
	store, err := contentstore.New(afero.NewMemMapFs(), "/contents", logger)
	if err != nil {
		t.Fatal(err)
	}
	c, err := catalog.New(statestore.NewStateStore(), logger)
	if err != nil {
		t.Fatal(err)
	}
	d := deployer.New(store, c, logger, true)

	s := api.New(api.Options{
		Store:              store,
		Catalog:            c,
		Deployer:           d,
		Sync:               o.Sync,
		Logger:             logger,
		CORSAllowedOrigins: o.CORSAllowedOrigins,
		MaxUploadSize:      o.MaxUploadSize,
	})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return &testServer{
		client: &http.Client{
			Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				u, err := url.Parse(ts.URL + r.URL.String())
				if err != nil {
					return nil, err
				}
				r.URL = u
				return ts.Client().Transport.RoundTrip(r)
			}),
		},
		url:      ts.URL,
		store:    store,
		catalog:  c,
		deployer: d,
	}
}
