// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/catalystnet/catalyst/pkg/node"
)

func newNode(t *testing.T, o node.Options) (*node.Node, string) {
	t.Helper()

	o.APIAddr = "127.0.0.1:0"
	o.Logger = logging.New(io.Discard, 0)
	if o.SyncInterval == 0 {
		o.SyncInterval = 20 * time.Millisecond
	}
	n, err := node.NewNode(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := n.Shutdown(context.Background()); err != nil && !errors.Is(err, node.ErrShutdownInProgress) {
			t.Error(err)
		}
	})
	return n, "http://" + n.APIAddr().String()
}

func deploy(t *testing.T, base string, file []byte, blobs map[string][]byte) {
	t.Helper()

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("entity", string(file)); err != nil {
		t.Fatal(err)
	}
	for h, b := range blobs {
		fw, err := mw.CreateFormFile(h, h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(base+"/entities", mw.FormDataContentType(), body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("deploy: got status %s: %s", resp.Status, b)
	}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, b
}

func TestNodeSynchronization(t *testing.T) {
	_, origin := newNode(t, node.Options{CompressContent: true})

	blob := bytes.Repeat([]byte("scene content "), 256)
	h, err := hashing.Digest(blob)
	if err != nil {
		t.Fatal(err)
	}
	e, file, err := entity.New(entity.TypeScene, []string{"10,10"}, 1000, []entity.ContentFile{{File: "main.js", Hash: h}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	deploy(t, origin, file, map[string][]byte{h: blob})

	_, replica := newNode(t, node.Options{
		DataDir:          t.TempDir(),
		DAOStaticServers: []string{origin},
		CompressContent:  true,
	})

	deadline := time.Now().Add(10 * time.Second)
	for {
		status, body := get(t, replica+"/contents/"+h)
		if status == http.StatusOK {
			if !bytes.Equal(body, blob) {
				t.Fatal("synchronized content mismatch")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("content not synchronized, last status %d", status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	status, body := get(t, fmt.Sprintf("%s/entities/scene?pointer=10,10", replica))
	if status != http.StatusOK || !bytes.Contains(body, []byte(e.ID)) {
		t.Fatalf("entity not active on replica: %d %s", status, body)
	}

	status, body = get(t, replica+"/status")
	if status != http.StatusOK || !bytes.Contains(body, []byte(origin)) {
		t.Fatalf("origin missing from status: %d %s", status, body)
	}
}

func TestNodeSelfExcluded(t *testing.T) {
	n, base := newNode(t, node.Options{})

	// a node whose public url is the only listed server has no peers
	_, other := newNode(t, node.Options{DAOStaticServers: []string{base}, PublicURL: base})
	time.Sleep(100 * time.Millisecond)
	status, body := get(t, other+"/status")
	if status != http.StatusOK || !bytes.Contains(body, []byte(`"peers":[]`)) {
		t.Fatalf("unexpected status %d %s", status, body)
	}

	if err := n.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := n.Shutdown(context.Background()); !errors.Is(err, node.ErrShutdownInProgress) {
		t.Fatalf("got error %v, want %v", err, node.ErrShutdownInProgress)
	}
}

func TestNodeInvalidPublicURL(t *testing.T) {
	_, err := node.NewNode(context.Background(), node.Options{
		APIAddr:   "127.0.0.1:0",
		PublicURL: "ftp://catalyst.example.com",
		Logger:    logging.New(io.Discard, 0),
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
