// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/jsonhttp"
	"github.com/catalystnet/catalyst/pkg/storage"
	"github.com/gorilla/mux"
)

// contentGetHandler serves a stored blob. The compressed variant is sent
// as is to clients that accept gzip and decompressed for the others.
func (s *server) contentGetHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	item, err := s.Store.Retrieve(r.Context(), id, parseRange(r.Header.Get("Range")))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			jsonhttp.NotFound(w, nil)
		case errors.Is(err, contentstore.ErrInvalidID):
			jsonhttp.BadRequest(w, "invalid content id")
		default:
			s.Logger.Debugf("content get: retrieve %s: %v", id, err)
			s.Logger.Errorf("content get: retrieve %s", id)
			jsonhttp.InternalServerError(w, nil)
		}
		return
	}

	etag := fmt.Sprintf("%q", id)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("ETag", etag)
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Add("Vary", "Accept-Encoding")

	decode := false
	switch {
	case item.Encoding == contentstore.EncodingGzip && acceptsGzip(r):
		h.Set("Content-Encoding", "gzip")
		h.Set("Content-Length", strconv.FormatInt(item.Length, 10))
	case item.Encoding == contentstore.EncodingGzip:
		// the decompressed length is unknown without reading the blob
		decode = true
	default:
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.FormatInt(item.Length, 10))
	}

	status := http.StatusOK
	if item.Ranged {
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", item.Start, item.End, item.Size))
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	open := item.Open
	if decode {
		open = item.OpenDecoded
	}
	rc, err := open()
	if err != nil {
		h.Del("Content-Length")
		h.Del("Content-Encoding")
		h.Del("Content-Range")
		if errors.Is(err, storage.ErrNotFound) {
			// removed between stat and open
			jsonhttp.NotFound(w, nil)
			return
		}
		s.Logger.Debugf("content get: open %s: %v", id, err)
		s.Logger.Errorf("content get: open %s", id)
		jsonhttp.InternalServerError(w, nil)
		return
	}
	defer rc.Close()

	w.WriteHeader(status)
	n, err := io.Copy(w, rc)
	s.metrics.ContentServedBytes.Add(float64(n))
	if err != nil {
		s.Logger.Debugf("content get: write %s: %v", id, err)
	}
}

type availableContentResponse struct {
	CID       string `json:"cid"`
	Available bool   `json:"available"`
}

func (s *server) availableContentHandler(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["cid"]
	if len(ids) == 0 {
		jsonhttp.BadRequest(w, "missing cid parameter")
		return
	}

	exist, err := s.Store.ExistMultiple(r.Context(), ids)
	if err != nil {
		s.Logger.Debugf("available content: %v", err)
		s.Logger.Error("available content: check existence")
		jsonhttp.InternalServerError(w, nil)
		return
	}

	resp := make([]availableContentResponse, 0, len(ids))
	for _, id := range ids {
		resp = append(resp, availableContentResponse{CID: id, Available: exist[id]})
	}
	jsonhttp.OK(w, resp)
}

// parseRange parses a single "bytes=start-end" range. Suffix ranges,
// multiple ranges and malformed values yield nil and the whole content is
// served.
func parseRange(v string) *contentstore.Range {
	const prefix = "bytes="
	if !strings.HasPrefix(v, prefix) {
		return nil
	}
	byteRange := strings.TrimSpace(strings.TrimPrefix(v, prefix))
	if strings.Contains(byteRange, ",") {
		return nil
	}
	i := strings.IndexByte(byteRange, '-')
	if i <= 0 {
		return nil
	}
	start, err := strconv.ParseInt(strings.TrimSpace(byteRange[:i]), 10, 64)
	if err != nil {
		return nil
	}
	rng := &contentstore.Range{Start: &start}
	if end := strings.TrimSpace(byteRange[i+1:]); end != "" {
		e, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return nil
		}
		rng.End = &e
	}
	return rng
}

func acceptsGzip(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		parts := strings.Split(v, ";")
		if !strings.EqualFold(strings.TrimSpace(parts[0]), "gzip") {
			continue
		}
		for _, p := range parts[1:] {
			p = strings.ReplaceAll(p, " ", "")
			if p == "q=0" || p == "q=0.0" || p == "q=0.00" || p == "q=0.000" {
				return false
			}
		}
		return true
	}
	return false
}
