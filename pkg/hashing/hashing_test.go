// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hashing_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"gitlab.com/nolash/go-mockbytes"
)

func TestDigest(t *testing.T) {
	id, err := hashing.Digest([]byte("hello world!"))
	if err != nil {
		t.Fatal(err)
	}
	again, err := hashing.Digest([]byte("hello world!"))
	if err != nil {
		t.Fatal(err)
	}
	if id != again {
		t.Fatalf("digest not deterministic: %s != %s", id, again)
	}
	if !hashing.Verifiable(id) {
		t.Fatalf("id %s not verifiable", id)
	}
	other, err := hashing.Digest([]byte("hello world?"))
	if err != nil {
		t.Fatal(err)
	}
	if other == id {
		t.Fatal("different content has the same digest")
	}
}

func TestVerifiable(t *testing.T) {
	for _, tc := range []struct {
		id   string
		want bool
	}{
		{id: "", want: false},
		{id: "not-a-cid", want: false},
		// CIDv0 dag-pb identifier
		{id: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", want: false},
	} {
		if got := hashing.Verifiable(tc.id); got != tc.want {
			t.Errorf("Verifiable(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestVerifyingReader(t *testing.T) {
	g := mockbytes.New(0, mockbytes.MockTypeStandard).WithModulus(255)
	data, err := g.SequentialBytes(64 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	id, err := hashing.Digest(data)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("match", func(t *testing.T) {
		got, err := io.ReadAll(hashing.VerifyingReader(id, bytes.NewReader(data)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("data changed while verifying")
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		tampered := append([]byte(nil), data...)
		tampered[10]++
		_, err := io.ReadAll(hashing.VerifyingReader(id, bytes.NewReader(tampered)))
		if !errors.Is(err, hashing.ErrDigestMismatch) {
			t.Fatalf("got error %v, want %v", err, hashing.ErrDigestMismatch)
		}
	})

	t.Run("other multibase", func(t *testing.T) {
		c, err := cid.Decode(id)
		if err != nil {
			t.Fatal(err)
		}
		b58, err := c.StringOfBase(multibase.Base58BTC)
		if err != nil {
			t.Fatal(err)
		}
		if b58 == id {
			t.Fatal("identifier encodings are equal")
		}

		if _, err := io.ReadAll(hashing.VerifyingReader(b58, bytes.NewReader(data))); err != nil {
			t.Fatal(err)
		}

		tampered := append([]byte(nil), data...)
		tampered[0]++
		if _, err := io.ReadAll(hashing.VerifyingReader(b58, bytes.NewReader(tampered))); !errors.Is(err, hashing.ErrDigestMismatch) {
			t.Fatalf("got error %v, want %v", err, hashing.ErrDigestMismatch)
		}
	})

	t.Run("unverifiable id", func(t *testing.T) {
		_, err := io.ReadAll(hashing.VerifyingReader("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", bytes.NewReader(data)))
		if err != nil {
			t.Fatal(err)
		}
	})
}
