// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package deployer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/deployer"
	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/catalystnet/catalyst/pkg/statestore/mock"
	"github.com/spf13/afero"
)

func newTestDeployer(t *testing.T) (*deployer.Deployer, *contentstore.Store, *catalog.Catalog) {
	t.Helper()

	logger := logging.New(io.Discard, 0)
	store, err := contentstore.New(afero.NewMemMapFs(), "/contents", logger)
	if err != nil {
		t.Fatal(err)
	}
	c, err := catalog.New(mock.NewStateStore(), logger)
	if err != nil {
		t.Fatal(err)
	}
	return deployer.New(store, c, logger, true), store, c
}

func blob(t *testing.T, s string) (string, []byte) {
	t.Helper()

	id, err := hashing.Digest([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return id, []byte(s)
}

func TestDeploy(t *testing.T) {
	d, store, c := newTestDeployer(t)
	ctx := context.Background()

	h1, b1 := blob(t, "scene code")
	h2, b2 := blob(t, strings.Repeat("texture ", 300))
	e, file, err := entity.New(entity.TypeScene, []string{"0,0"}, 100, []entity.ContentFile{
		{File: "game.js", Hash: h1},
		{File: "texture.png", Hash: h2},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, res, err := d.Deploy(ctx, file, map[string]io.Reader{
		h1: bytes.NewReader(b1),
		h2: bytes.NewReader(b2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res != catalog.Admitted {
		t.Fatalf("got %v, want %v", res, catalog.Admitted)
	}
	if got.ID != e.ID {
		t.Fatalf("got id %s, want %s", got.ID, e.ID)
	}

	exist, err := store.ExistMultiple(ctx, []string{h1, h2, e.ID})
	if err != nil {
		t.Fatal(err)
	}
	for id, ok := range exist {
		if !ok {
			t.Errorf("blob %s not stored", id)
		}
	}
	if has, _ := c.Has(e.ID); !has {
		t.Fatal("entity not admitted")
	}

	// content already stored does not need to be uploaded again
	_, res, err = d.Deploy(ctx, file, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res != catalog.AlreadyKnown {
		t.Fatalf("got %v, want %v", res, catalog.AlreadyKnown)
	}
}

func TestDeployMissingContent(t *testing.T) {
	d, _, c := newTestDeployer(t)

	h, _ := blob(t, "never uploaded")
	e, file, err := entity.New(entity.TypeWearable, []string{"urn:wearable:1"}, 1, []entity.ContentFile{{File: "a.glb", Hash: h}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := d.Deploy(context.Background(), file, nil); !errors.Is(err, deployer.ErrMissingContent) {
		t.Fatalf("got error %v, want %v", err, deployer.ErrMissingContent)
	}
	if has, _ := c.Has(e.ID); has {
		t.Fatal("entity admitted with missing content")
	}
}

func TestDeployTamperedContent(t *testing.T) {
	d, store, _ := newTestDeployer(t)
	ctx := context.Background()

	h, _ := blob(t, "original")
	_, file, err := entity.New(entity.TypeProfile, []string{"0xabc"}, 1, []entity.ContentFile{{File: "face.png", Hash: h}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = d.Deploy(ctx, file, map[string]io.Reader{h: strings.NewReader("tampered")})
	if !errors.Is(err, hashing.ErrDigestMismatch) {
		t.Fatalf("got error %v, want %v", err, hashing.ErrDigestMismatch)
	}
	if ok, _ := store.Exist(ctx, h); ok {
		t.Fatal("tampered content stored")
	}
}

func TestDeployUnreferencedFile(t *testing.T) {
	d, _, _ := newTestDeployer(t)

	_, file, err := entity.New(entity.TypeProfile, []string{"0xabc"}, 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h, b := blob(t, "extra")
	if _, _, err := d.Deploy(context.Background(), file, map[string]io.Reader{h: bytes.NewReader(b)}); !errors.Is(err, deployer.ErrUnreferencedFile) {
		t.Fatalf("got error %v, want %v", err, deployer.ErrUnreferencedFile)
	}
}
