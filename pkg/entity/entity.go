// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package entity defines the versioned content units that nodes exchange and
// the cursor used to page through a node's deployment history.
package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/catalystnet/catalyst/pkg/hashing"
)

var (
	ErrInvalidType     = errors.New("entity: invalid type")
	ErrNoPointers      = errors.New("entity: no pointers")
	ErrInvalidEntity   = errors.New("entity: invalid entity file")
	ErrInvalidContents = errors.New("entity: invalid content reference")
)

// Type is the closed set of entity types.
type Type string

const (
	TypeScene    Type = "scene"
	TypeProfile  Type = "profile"
	TypeWearable Type = "wearable"
	TypeStore    Type = "store"
	TypeEmote    Type = "emote"
	TypeOutfits  Type = "outfits"
)

// Types lists every valid entity type.
var Types = []Type{TypeScene, TypeProfile, TypeWearable, TypeStore, TypeEmote, TypeOutfits}

// ParseType returns the Type named by s, case insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Types {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// ContentFile maps a file name inside an entity to the id of the blob that
// holds its bytes.
type ContentFile struct {
	File string `json:"file"`
	Hash string `json:"hash"`
}

// Entity is an immutable deployment. Its id is the digest of the entity file
// it was parsed from.
type Entity struct {
	Version   string          `json:"version,omitempty"`
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Pointers  []string        `json:"pointers"`
	Timestamp int64           `json:"timestamp"`
	Content   []ContentFile   `json:"content,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// file is the serialized form of an entity. It does not carry the id, which
// is derived from these bytes.
type file struct {
	Version   string          `json:"version,omitempty"`
	Type      Type            `json:"type"`
	Pointers  []string        `json:"pointers"`
	Timestamp int64           `json:"timestamp"`
	Content   []ContentFile   `json:"content,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Parse decodes an entity file addressed by id.
func Parse(id string, data []byte) (*Entity, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	t, err := ParseType(string(f.Type))
	if err != nil {
		return nil, err
	}
	pointers := NormalizePointers(f.Pointers)
	if len(pointers) == 0 {
		return nil, ErrNoPointers
	}
	for _, c := range f.Content {
		if c.File == "" || c.Hash == "" {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidContents, c)
		}
	}
	return &Entity{
		Version:   f.Version,
		ID:        id,
		Type:      t,
		Pointers:  pointers,
		Timestamp: f.Timestamp,
		Content:   f.Content,
		Metadata:  f.Metadata,
	}, nil
}

// New builds an entity and its file. The returned entity id is the digest of
// the file.
func New(t Type, pointers []string, timestamp int64, content []ContentFile, metadata json.RawMessage) (*Entity, []byte, error) {
	data, err := json.Marshal(file{
		Version:   "v3",
		Type:      t,
		Pointers:  pointers,
		Timestamp: timestamp,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, nil, err
	}
	id, err := hashing.Digest(data)
	if err != nil {
		return nil, nil, err
	}
	e, err := Parse(id, data)
	if err != nil {
		return nil, nil, err
	}
	return e, data, nil
}

// ContentHashes returns the distinct blob ids referenced by the entity.
func (e *Entity) ContentHashes() []string {
	seen := make(map[string]struct{}, len(e.Content))
	hashes := make([]string, 0, len(e.Content))
	for _, c := range e.Content {
		if _, ok := seen[c.Hash]; ok {
			continue
		}
		seen[c.Hash] = struct{}{}
		hashes = append(hashes, c.Hash)
	}
	return hashes
}

// Supersedes reports whether e takes a pointer over from other. The newer
// timestamp wins and equal timestamps are decided by the smaller id, so that
// every node picks the same owner whatever order it learned the two in.
func (e *Entity) Supersedes(other *Entity) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp > other.Timestamp
	}
	return e.ID < other.ID
}

// NormalizePointers lowercases and trims pointers and drops empty and
// repeated ones, keeping the first occurrence order.
func NormalizePointers(pointers []string) []string {
	seen := make(map[string]struct{}, len(pointers))
	out := make([]string, 0, len(pointers))
	for _, p := range pointers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
