// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package entity_test

import (
	"errors"
	"testing"

	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/google/go-cmp/cmp"
)

func TestNewParse(t *testing.T) {
	content := []entity.ContentFile{
		{File: "scene.json", Hash: "h1"},
		{File: "model.glb", Hash: "h2"},
		{File: "copy.glb", Hash: "h2"},
	}
	e, data, err := entity.New(entity.TypeScene, []string{" 0,0 ", "0,1", "0,0"}, 100, content, []byte(`{"name":"plaza"}`))
	if err != nil {
		t.Fatal(err)
	}

	id, err := hashing.Digest(data)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != id {
		t.Fatalf("got id %s, want digest %s", e.ID, id)
	}

	parsed, err := entity.Parse(id, data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e, parsed); diff != "" {
		t.Fatalf("parsed entity mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0,0", "0,1"}, parsed.Pointers); diff != "" {
		t.Errorf("pointers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"h1", "h2"}, parsed.ContentHashes()); diff != "" {
		t.Errorf("content hashes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
		want error
	}{
		{name: "not json", data: "{", want: entity.ErrInvalidEntity},
		{name: "unknown type", data: `{"type":"castle","pointers":["a"]}`, want: entity.ErrInvalidType},
		{name: "no pointers", data: `{"type":"profile","pointers":[" "]}`, want: entity.ErrNoPointers},
		{name: "empty hash", data: `{"type":"profile","pointers":["a"],"content":[{"file":"a.png","hash":""}]}`, want: entity.ErrInvalidContents},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := entity.Parse("id", []byte(tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got error %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	got, err := entity.ParseType("Wearable")
	if err != nil {
		t.Fatal(err)
	}
	if got != entity.TypeWearable {
		t.Fatalf("got %q, want %q", got, entity.TypeWearable)
	}
	if _, err := entity.ParseType("castle"); !errors.Is(err, entity.ErrInvalidType) {
		t.Fatalf("got error %v, want %v", err, entity.ErrInvalidType)
	}
}

func TestSupersedes(t *testing.T) {
	older := &entity.Entity{ID: "b", Timestamp: 100}
	newer := &entity.Entity{ID: "c", Timestamp: 200}
	if !newer.Supersedes(older) || older.Supersedes(newer) {
		t.Fatal("newer timestamp does not win")
	}

	tieA := &entity.Entity{ID: "a", Timestamp: 100}
	tieB := &entity.Entity{ID: "b", Timestamp: 100}
	if !tieA.Supersedes(tieB) || tieB.Supersedes(tieA) {
		t.Fatal("smaller id does not win a tie")
	}
}

func TestCursor(t *testing.T) {
	c := entity.Cursor{Timestamp: 10, LastID: "b"}

	for _, tc := range []struct {
		d    entity.Delta
		want bool
	}{
		{d: entity.Delta{LocalTimestamp: 9, EntityID: "z"}, want: false},
		{d: entity.Delta{LocalTimestamp: 10, EntityID: "a"}, want: false},
		{d: entity.Delta{LocalTimestamp: 10, EntityID: "b"}, want: false},
		{d: entity.Delta{LocalTimestamp: 10, EntityID: "c"}, want: true},
		{d: entity.Delta{LocalTimestamp: 11, EntityID: "a"}, want: true},
	} {
		if got := c.Before(tc.d); got != tc.want {
			t.Errorf("cursor before %+v: got %v, want %v", tc.d, got, tc.want)
		}
	}

	if !(entity.Cursor{}).IsZero() {
		t.Error("zero cursor not reported as zero")
	}
	if got := entity.CursorOf(entity.Delta{LocalTimestamp: 5, EntityID: "x"}); got != (entity.Cursor{Timestamp: 5, LastID: "x"}) {
		t.Errorf("got cursor %+v", got)
	}
}
