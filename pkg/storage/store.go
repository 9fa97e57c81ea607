// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage defines the key/value state storage abstraction shared by
// the catalog and the synchronizer.
package storage

import (
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key is not present in the store.
	ErrNotFound = errors.New("storage: not found")
)

// StateStorer defines methods required to get, set, delete values for different keys
// and close the underlying resources.
type StateStorer interface {
	Get(key string, i interface{}) (err error)
	Put(key string, i interface{}) (err error)
	Delete(key string) (err error)
	// Iterate calls iterFunc for every key with the given prefix in
	// ascending lexicographic key order.
	Iterate(prefix string, iterFunc StateIterFunc) (err error)
	// IterateFrom is Iterate starting at the first key with the prefix that
	// is not smaller than start.
	IterateFrom(prefix, start string, iterFunc StateIterFunc) (err error)
	io.Closer
}

// StateIterFunc is used when iterating through StateStorer key/value pairs
type StateIterFunc func(key, value []byte) (stop bool, err error)
