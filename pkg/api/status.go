// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/catalystnet/catalyst"
	"github.com/catalystnet/catalyst/pkg/jsonhttp"
	"github.com/catalystnet/catalyst/pkg/synchronizer"
)

type statusResponse struct {
	Version string                     `json:"version"`
	Peers   []synchronizer.PeerStatus `json:"peers"`
}

func (s *server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	peers := []synchronizer.PeerStatus{}
	if s.Sync != nil {
		peers = append(peers, s.Sync.Status()...)
	}
	jsonhttp.OK(w, statusResponse{
		Version: catalyst.Version,
		Peers:   peers,
	})
}

type healthStatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, healthStatusResponse{
		Status:  "ok",
		Version: catalyst.Version,
	})
}
