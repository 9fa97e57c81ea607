// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hashing computes and verifies content digests. Blobs and entity
// files are addressed by CIDv1 identifiers with the raw codec and a sha2-256
// multihash.
package hashing

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
)

var (
	// ErrDigestMismatch is returned when verified bytes do not hash to the
	// expected identifier.
	ErrDigestMismatch = errors.New("hashing: digest mismatch")
)

// Digest returns the CIDv1 raw sha2-256 identifier of data.
func Digest(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// Verifiable reports whether id is an identifier whose digest can be
// recomputed from the raw bytes it addresses. Legacy identifiers that hash
// an encoded DAG are accepted as opaque ids but cannot be verified.
func Verifiable(id string) bool {
	c, err := cid.Decode(id)
	if err != nil {
		return false
	}
	return verifiable(c)
}

func verifiable(c cid.Cid) bool {
	p := c.Prefix()
	return p.Version == 1 && p.Codec == cid.Raw && p.MhType == multihash.SHA2_256
}

// Verifier is an io.Writer that hashes everything written to it and checks
// the result against an expected identifier. The identifier may use any
// multibase encoding.
type Verifier struct {
	id   string
	want multihash.Multihash
	h    hash.Hash
}

// NewVerifier returns a Verifier for the given id. Verify on a Verifier for
// an id that is not Verifiable always succeeds.
func NewVerifier(id string) *Verifier {
	v := &Verifier{id: id}
	if c, err := cid.Decode(id); err == nil && verifiable(c) {
		v.want = c.Hash()
		v.h = sha256.New()
	}
	return v
}

func (v *Verifier) Write(p []byte) (int, error) {
	if v.h == nil {
		return len(p), nil
	}
	return v.h.Write(p)
}

// Verify compares the digest of the written bytes with the expected id.
func (v *Verifier) Verify() error {
	if v.h == nil {
		return nil
	}
	mh, err := multihash.Encode(v.h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return err
	}
	if !bytes.Equal(mh, v.want) {
		return fmt.Errorf("%w: got %s, want %s", ErrDigestMismatch, cid.NewCidV1(cid.Raw, mh), v.id)
	}
	return nil
}

// VerifyingReader returns a reader that passes r through and fails with
// ErrDigestMismatch at EOF when the bytes read do not match id.
func VerifyingReader(id string, r io.Reader) io.Reader {
	v := NewVerifier(id)
	return &verifyingReader{r: io.TeeReader(r, v), v: v}
}

type verifyingReader struct {
	r io.Reader
	v *Verifier
}

func (vr *verifyingReader) Read(p []byte) (int, error) {
	n, err := vr.r.Read(p)
	if errors.Is(err, io.EOF) {
		if verr := vr.v.Verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}
