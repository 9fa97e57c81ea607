// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/deployer"
	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/catalystnet/catalyst/pkg/jsonhttp"
	"github.com/catalystnet/catalyst/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
)

const (
	entityFormField = "entity"
	// multipartMemory is the part of a deployment kept in memory, the rest
	// is spooled to temporary files.
	multipartMemory = 32 << 20
	maxEntityFile   = 10 << 20
)

// entitiesGetHandler returns the active entities of a type, selected either
// by pointers or by ids.
func (s *server) entitiesGetHandler(w http.ResponseWriter, r *http.Request) {
	t, err := entity.ParseType(mux.Vars(r)["type"])
	if err != nil {
		jsonhttp.BadRequest(w, "invalid entity type")
		return
	}

	q := r.URL.Query()
	pointers, ids := q["pointer"], q["id"]
	switch {
	case len(pointers) > 0 && len(ids) > 0:
		jsonhttp.BadRequest(w, "pointer and id parameters are mutually exclusive")
		return
	case len(pointers) == 0 && len(ids) == 0:
		jsonhttp.BadRequest(w, "missing pointer or id parameter")
		return
	}

	entities := make([]*entity.Entity, 0)
	if len(pointers) > 0 {
		active, err := s.Catalog.Active(t, pointers)
		if err != nil {
			s.Logger.Debugf("entities get: active %s %v: %v", t, pointers, err)
			s.Logger.Error("entities get: active entities")
			jsonhttp.InternalServerError(w, nil)
			return
		}
		entities = append(entities, active...)
		jsonhttp.OK(w, entities)
		return
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rec, err := s.Catalog.Get(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			s.Logger.Debugf("entities get: get %s: %v", id, err)
			s.Logger.Error("entities get: get entity")
			jsonhttp.InternalServerError(w, nil)
			return
		}
		if rec.Entity.Type != t {
			continue
		}
		entities = append(entities, rec.Entity)
	}
	jsonhttp.OK(w, entities)
}

type deployResponse struct {
	EntityID string `json:"entityId"`
	Result   string `json:"result"`
}

// deployHandler admits a locally uploaded entity. The multipart body
// carries the entity file in the entity field and the content files in
// fields named after their hash.
func (s *server) deployHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if jsonhttp.HandleBodyReadError(err, w) {
			return
		}
		s.Logger.Debugf("deploy: parse form: %v", err)
		jsonhttp.BadRequest(w, "invalid multipart body")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.Logger.Debugf("deploy: remove form files: %v", err)
		}
	}()

	form := r.MultipartForm
	var entityFile []byte
	if v, ok := form.Value[entityFormField]; ok && len(v) > 0 {
		entityFile = []byte(v[0])
	} else if fh, ok := form.File[entityFormField]; ok && len(fh) > 0 {
		f, err := fh[0].Open()
		if err != nil {
			s.Logger.Debugf("deploy: open entity file: %v", err)
			jsonhttp.InternalServerError(w, nil)
			return
		}
		entityFile, err = io.ReadAll(io.LimitReader(f, maxEntityFile+1))
		f.Close()
		if err != nil {
			s.Logger.Debugf("deploy: read entity file: %v", err)
			jsonhttp.InternalServerError(w, nil)
			return
		}
	}
	if len(entityFile) == 0 {
		jsonhttp.BadRequest(w, "missing entity file")
		return
	}
	if len(entityFile) > maxEntityFile {
		jsonhttp.RequestEntityTooLarge(w, "entity file too large")
		return
	}

	files := make(map[string]io.Reader)
	var closers []io.Closer
	defer func() {
		var result *multierror.Error
		for _, c := range closers {
			result = multierror.Append(result, c.Close())
		}
		if err := result.ErrorOrNil(); err != nil {
			s.Logger.Debugf("deploy: close form files: %v", err)
		}
	}()
	for name, fhs := range form.File {
		if name == entityFormField || len(fhs) == 0 {
			continue
		}
		f, err := fhs[0].Open()
		if err != nil {
			s.Logger.Debugf("deploy: open file %s: %v", name, err)
			jsonhttp.InternalServerError(w, nil)
			return
		}
		closers = append(closers, f)
		files[name] = f
	}

	e, res, err := s.Deployer.Deploy(r.Context(), entityFile, files)
	if err != nil {
		s.Logger.Debugf("deploy: %v", err)
		switch {
		case errors.Is(err, entity.ErrInvalidEntity),
			errors.Is(err, entity.ErrInvalidType),
			errors.Is(err, entity.ErrNoPointers),
			errors.Is(err, entity.ErrInvalidContents),
			errors.Is(err, deployer.ErrUnreferencedFile),
			errors.Is(err, deployer.ErrMissingContent),
			errors.Is(err, hashing.ErrDigestMismatch):
			jsonhttp.BadRequest(w, err.Error())
		default:
			s.Logger.Error("deploy: deployment failed")
			jsonhttp.InternalServerError(w, nil)
		}
		return
	}

	resp := deployResponse{EntityID: e.ID, Result: res.String()}
	if res == catalog.AlreadyKnown {
		jsonhttp.OK(w, resp)
		return
	}
	jsonhttp.Created(w, resp)
}
