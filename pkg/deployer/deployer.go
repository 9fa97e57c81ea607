// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package deployer admits entities into the catalog once all the content
// they reference is stored.
package deployer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/catalystnet/catalyst/pkg/logging"
)

var (
	// ErrMissingContent is returned when an entity references blobs that are
	// neither uploaded nor stored.
	ErrMissingContent = errors.New("deployer: missing content")
	// ErrUnreferencedFile is returned when an uploaded file is not referenced
	// by the entity.
	ErrUnreferencedFile = errors.New("deployer: unreferenced file")
)

// Deployer stores entity files and admits entities.
type Deployer struct {
	store    *contentstore.Store
	catalog  *catalog.Catalog
	logger   logging.Logger
	compress bool
}

// New returns a Deployer. When compress is set blobs are stored with a
// compressed variant.
func New(store *contentstore.Store, c *catalog.Catalog, logger logging.Logger, compress bool) *Deployer {
	return &Deployer{
		store:    store,
		catalog:  c,
		logger:   logger,
		compress: compress,
	}
}

// Deploy admits a locally uploaded entity. files maps blob ids to their
// content; every content hash of the entity must either be in files or be
// stored already.
func (d *Deployer) Deploy(ctx context.Context, entityFile []byte, files map[string]io.Reader) (*entity.Entity, catalog.AdmitResult, error) {
	id, err := hashing.Digest(entityFile)
	if err != nil {
		return nil, 0, err
	}
	e, err := entity.Parse(id, entityFile)
	if err != nil {
		return nil, 0, err
	}

	referenced := make(map[string]struct{})
	for _, h := range e.ContentHashes() {
		referenced[h] = struct{}{}
	}
	hashes := make([]string, 0, len(files))
	for h := range files {
		if _, ok := referenced[h]; !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnreferencedFile, h)
		}
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, h := range hashes {
		if err := d.Store(ctx, h, hashing.VerifyingReader(h, files[h])); err != nil {
			return nil, 0, fmt.Errorf("store %s: %w", h, err)
		}
	}

	res, err := d.Apply(ctx, e, entityFile)
	if err != nil {
		return nil, 0, err
	}
	return e, res, nil
}

// Apply stores the entity file under the entity id and admits the entity.
// All referenced blobs must be present.
func (d *Deployer) Apply(ctx context.Context, e *entity.Entity, entityFile []byte) (catalog.AdmitResult, error) {
	hashes := e.ContentHashes()
	exist, err := d.store.ExistMultiple(ctx, hashes)
	if err != nil {
		return 0, err
	}
	var missing []string
	for _, h := range hashes {
		if !exist[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return 0, fmt.Errorf("%w: %v", ErrMissingContent, missing)
	}

	if err := d.Store(ctx, e.ID, bytes.NewReader(entityFile)); err != nil {
		return 0, fmt.Errorf("store entity file: %w", err)
	}

	res, err := d.catalog.Admit(e)
	if err != nil {
		return 0, fmt.Errorf("admit %s: %w", e.ID, err)
	}
	if res == catalog.Admitted {
		d.logger.Debugf("deployer: admitted %s %s %v", e.Type, e.ID, e.Pointers)
	}
	return res, nil
}

// Store persists a blob, compressing it when configured.
func (d *Deployer) Store(ctx context.Context, id string, r io.Reader) error {
	if !d.compress {
		return d.store.StoreStream(ctx, id, r)
	}
	res, err := d.store.StoreStreamAndCompress(ctx, id, r)
	if err != nil {
		return err
	}
	if res == contentstore.CompressionFailed {
		d.logger.Debugf("deployer: compression of %s failed, canonical copy kept", id)
	}
	return nil
}
