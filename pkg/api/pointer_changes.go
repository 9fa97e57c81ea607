// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strconv"

	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/jsonhttp"
	"github.com/catalystnet/catalyst/pkg/peerclient"
)

// pointerChangesHandler serves the deployment history strictly after the
// cursor given by the from and lastId parameters.
func (s *server) pointerChangesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var cursor entity.Cursor
	if v := q.Get("from"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ts < 0 {
			jsonhttp.BadRequest(w, "invalid from parameter")
			return
		}
		cursor.Timestamp = ts
	}
	cursor.LastID = q.Get("lastId")

	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			jsonhttp.BadRequest(w, "invalid limit parameter")
			return
		}
		limit = l
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	deltas, more, err := s.Catalog.Changes(cursor, limit)
	if err != nil {
		s.Logger.Debugf("pointer changes: from %+v: %v", cursor, err)
		s.Logger.Error("pointer changes: read history")
		jsonhttp.InternalServerError(w, nil)
		return
	}
	if deltas == nil {
		deltas = []entity.Delta{}
	}

	jsonhttp.OK(w, peerclient.ChangesResponse{
		Deltas:     deltas,
		Pagination: peerclient.Pagination{MoreData: more},
	})
}
