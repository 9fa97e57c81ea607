// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package test holds a conformance suite shared by the StateStorer
// implementations.
package test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/catalystnet/catalyst/pkg/storage"
	"github.com/google/go-cmp/cmp"
)

const (
	key1 = "key1" // stores the serialized type
	key2 = "key2" // stores a json array
)

var (
	value1 = &Serializing{value: "value1"}
	value2 = []string{"a", "b", "c"}
)

type Serializing struct {
	value           string
	marshalCalled   bool
	unmarshalCalled bool
}

func (st *Serializing) MarshalBinary() (data []byte, err error) {
	d := []byte(st.value)
	st.marshalCalled = true

	return d, nil
}

func (st *Serializing) UnmarshalBinary(data []byte) (err error) {
	st.value = string(data)
	st.unmarshalCalled = true
	return nil
}

// Run executes the suite against stores created by f.
func Run(t *testing.T, f func(t *testing.T) storage.StateStorer) {
	t.Helper()

	t.Run("put get", func(t *testing.T) {
		store := f(t)

		insertValues(t, store)
		testPersistedValues(t, store)
	})

	t.Run("not found", func(t *testing.T) {
		store := f(t)

		var v string
		if err := store.Get("missing", &v); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := f(t)

		insertValues(t, store)
		if err := store.Delete(key2); err != nil {
			t.Fatal(err)
		}
		var s []string
		if err := store.Get(key2, &s); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
		}
	})

	t.Run("iterator", func(t *testing.T) {
		store := f(t)

		testStoreIterator(t, store)
	})

	t.Run("iterator stop", func(t *testing.T) {
		store := f(t)

		for _, k := range []string{"p_a", "p_b", "p_c"} {
			if err := store.Put(k, k); err != nil {
				t.Fatal(err)
			}
		}
		var count int
		if err := store.Iterate("p_", func(_, _ []byte) (bool, error) {
			count++
			return count == 2, nil
		}); err != nil {
			t.Fatal(err)
		}
		if count != 2 {
			t.Fatalf("got %d iterations, want 2", count)
		}
	})

	t.Run("iterator from", func(t *testing.T) {
		store := f(t)

		for _, k := range []string{"p_a", "p_b", "p_c", "p_d", "q_a"} {
			if err := store.Put(k, k); err != nil {
				t.Fatal(err)
			}
		}
		for _, tc := range []struct {
			start string
			want  []string
		}{
			{start: "", want: []string{"p_a", "p_b", "p_c", "p_d"}},
			{start: "p_b", want: []string{"p_b", "p_c", "p_d"}},
			{start: "p_bb", want: []string{"p_c", "p_d"}},
			{start: "p_e", want: nil},
			{start: "a", want: []string{"p_a", "p_b", "p_c", "p_d"}},
		} {
			var got []string
			if err := store.IterateFrom("p_", tc.start, func(key, _ []byte) (bool, error) {
				got = append(got, string(key))
				return false, nil
			}); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("start %q: keys mismatch (-want +got):\n%s", tc.start, diff)
			}
		}
	})
}

// RunPersist checks that values survive closing and reopening a store in
// the same directory.
func RunPersist(t *testing.T, f func(t *testing.T, dir string) storage.StateStorer) {
	t.Helper()

	dir := t.TempDir()

	store := f(t, dir)
	insertValues(t, store)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store = f(t, dir)
	defer store.Close()
	testPersistedValues(t, store)
}

func insertValues(t *testing.T, store storage.StateStorer) {
	t.Helper()

	v1 := &Serializing{value: value1.value}
	if err := store.Put(key1, v1); err != nil {
		t.Fatal(err)
	}
	if !v1.marshalCalled {
		t.Fatal("binaryMarshaller not called on serialized type")
	}

	if err := store.Put(key2, value2); err != nil {
		t.Fatal(err)
	}
}

func testPersistedValues(t *testing.T, store storage.StateStorer) {
	t.Helper()

	v := &Serializing{}
	if err := store.Get(key1, v); err != nil {
		t.Fatal(err)
	}
	if !v.unmarshalCalled {
		t.Fatal("unmarshaler not called")
	}
	if v.value != value1.value {
		t.Fatalf("expected persisted to be %s but got %s", value1.value, v.value)
	}

	var s []string
	if err := store.Get(key2, &s); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(value2, s); diff != "" {
		t.Fatalf("deserialized data mismatch (-want +got):\n%s", diff)
	}
}

func testStoreIterator(t *testing.T, store storage.StateStorer) {
	t.Helper()

	storePrefix := "test_"
	for k, v := range map[string]string{
		storePrefix + "key3": "value3",
		"key2":               "value2",
		storePrefix + "key1": "value1",
	} {
		if err := store.Put(k, v); err != nil {
			t.Fatal(err)
		}
	}

	var keys, values []string
	err := store.Iterate(storePrefix, func(key []byte, value []byte) (stop bool, err error) {
		var entry string
		if err := json.Unmarshal(value, &entry); err != nil {
			return true, err
		}
		keys = append(keys, string(key))
		values = append(values, entry)
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"test_key1", "test_key3"}, keys); diff != "" {
		t.Fatalf("iterated keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"value1", "value3"}, values); diff != "" {
		t.Fatalf("iterated values mismatch (-want +got):\n%s", diff)
	}
}
