// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package catalog keeps the set of entities known to the node, the pointer
// ownership index and the local deployment history that peers page through.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/catalystnet/catalyst/pkg/storage"
	lru "github.com/hashicorp/golang-lru"
)

const (
	entityKeyPrefix  = "catalog_entity_"
	pointerKeyPrefix = "catalog_pointer_"
	deltaKeyPrefix   = "catalog_delta_"
	clockKey         = "catalog_clock"

	knownCacheSize = 100000
)

// now is the clock used for local timestamps, in milliseconds.
var now = func() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

// AdmitResult is the outcome of Admit.
type AdmitResult int

const (
	// Admitted means the entity was added to the catalog.
	Admitted AdmitResult = iota
	// AlreadyKnown means the entity was in the catalog and nothing changed.
	AlreadyKnown
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case AlreadyKnown:
		return "already_known"
	}
	return fmt.Sprintf("AdmitResult(%d)", int(r))
}

// Record is an entity together with the local admission timestamp.
type Record struct {
	Entity         *entity.Entity `json:"entity"`
	LocalTimestamp int64          `json:"localTimestamp"`
}

// Catalog is safe for concurrent use. Admissions are serialized.
type Catalog struct {
	store   storage.StateStorer
	logger  logging.Logger
	known   *lru.Cache
	metrics metrics

	mu    sync.Mutex // serializes Admit
	clock int64
}

// New returns a catalog persisted in the given state store.
func New(store storage.StateStorer, logger logging.Logger) (*Catalog, error) {
	known, err := lru.New(knownCacheSize)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		store:   store,
		logger:  logger,
		known:   known,
		metrics: newMetrics(),
	}
	if err := store.Get(clockKey, &c.clock); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load clock: %w", err)
	}
	return c, nil
}

func entityKey(id string) string {
	return entityKeyPrefix + id
}

func pointerKey(t entity.Type, pointer string) string {
	return pointerKeyPrefix + string(t) + "_" + pointer
}

// deltaKey orders the history by local timestamp then entity id.
func deltaKey(localTimestamp int64, id string) string {
	return fmt.Sprintf("%s%020d_%s", deltaKeyPrefix, localTimestamp, id)
}

// Admit adds e to the catalog and assigns pointers it supersedes to it.
// Admitting a known entity is a no-op reported as AlreadyKnown.
func (c *Catalog) Admit(e *entity.Entity) (AdmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	has, err := c.Has(e.ID)
	if err != nil {
		return 0, err
	}
	if has {
		c.metrics.AlreadyKnownCount.Inc()
		return AlreadyKnown, nil
	}

	ts := now()
	if ts <= c.clock {
		ts = c.clock + 1
	}

	for _, p := range e.Pointers {
		owner, err := c.owner(e.Type, p)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("pointer %s: %w", p, err)
		}
		if owner != nil && !e.Supersedes(owner) {
			continue
		}
		if owner != nil {
			c.logger.Debugf("catalog: pointer %s/%s moves from %s to %s", e.Type, p, owner.ID, e.ID)
			c.metrics.PointerOverrideCount.Inc()
		}
		if err := c.store.Put(pointerKey(e.Type, p), e.ID); err != nil {
			return 0, fmt.Errorf("pointer %s: %w", p, err)
		}
	}

	delta := entity.Delta{
		EntityID:        e.ID,
		EntityType:      e.Type,
		Pointers:        e.Pointers,
		EntityTimestamp: e.Timestamp,
		LocalTimestamp:  ts,
	}
	if err := c.store.Put(deltaKey(ts, e.ID), delta); err != nil {
		return 0, fmt.Errorf("delta: %w", err)
	}
	if err := c.store.Put(clockKey, ts); err != nil {
		return 0, fmt.Errorf("clock: %w", err)
	}
	c.clock = ts

	// the entity record is written last, an interrupted admission is
	// therefore retried as unknown
	if err := c.store.Put(entityKey(e.ID), Record{Entity: e, LocalTimestamp: ts}); err != nil {
		return 0, fmt.Errorf("entity: %w", err)
	}
	c.known.Add(e.ID, struct{}{})
	c.metrics.AdmittedCount.Inc()
	return Admitted, nil
}

// Has reports whether the entity is in the catalog.
func (c *Catalog) Has(id string) (bool, error) {
	if c.known.Contains(id) {
		return true, nil
	}
	var r Record
	if err := c.store.Get(entityKey(id), &r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	c.known.Add(id, struct{}{})
	return true, nil
}

// Get returns the catalog record of the entity, or storage.ErrNotFound.
func (c *Catalog) Get(id string) (*Record, error) {
	var r Record
	if err := c.store.Get(entityKey(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Owner returns the entity that currently owns the pointer, or
// storage.ErrNotFound.
func (c *Catalog) Owner(t entity.Type, pointer string) (*entity.Entity, error) {
	ps := entity.NormalizePointers([]string{pointer})
	if len(ps) == 0 {
		return nil, storage.ErrNotFound
	}
	return c.owner(t, ps[0])
}

func (c *Catalog) owner(t entity.Type, pointer string) (*entity.Entity, error) {
	var id string
	if err := c.store.Get(pointerKey(t, pointer), &id); err != nil {
		return nil, err
	}
	r, err := c.Get(id)
	if err != nil {
		return nil, fmt.Errorf("owner %s: %w", id, err)
	}
	return r.Entity, nil
}

// Active returns the distinct entities owning any of the pointers. Pointers
// without an owner are skipped.
func (c *Catalog) Active(t entity.Type, pointers []string) ([]*entity.Entity, error) {
	seen := make(map[string]struct{})
	var active []*entity.Entity
	for _, p := range entity.NormalizePointers(pointers) {
		e, err := c.owner(t, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		active = append(active, e)
	}
	return active, nil
}

// Changes returns up to limit deltas strictly after the cursor, in history
// order, and whether more deltas follow.
func (c *Catalog) Changes(since entity.Cursor, limit int) (deltas []entity.Delta, more bool, err error) {
	if limit <= 0 {
		return nil, false, nil
	}
	var from string
	if !since.IsZero() {
		from = deltaKey(since.Timestamp, since.LastID)
	}
	err = c.store.IterateFrom(deltaKeyPrefix, from, func(key, value []byte) (bool, error) {
		if string(key) <= from {
			return false, nil
		}
		if len(deltas) == limit {
			more = true
			return true, nil
		}
		var d entity.Delta
		if err := json.Unmarshal(value, &d); err != nil {
			return true, fmt.Errorf("delta %s: %w", key, err)
		}
		deltas = append(deltas, d)
		return false, nil
	})
	if err != nil {
		return nil, false, err
	}
	return deltas, more, nil
}
