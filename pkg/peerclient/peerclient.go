// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peerclient talks to the content interface of a single remote
// node.
package peerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/catalystnet/catalyst/pkg/storage"
)

var (
	// ErrPeerUnreachable is returned when the peer can not be contacted or
	// fails to serve the request.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrMalformedResponse is returned when the peer answers with data that
	// can not be used.
	ErrMalformedResponse = errors.New("malformed peer response")
)

const maxEntityFileSize = 10 << 20

// Interface is the set of requests made to a peer.
type Interface interface {
	Address() string
	// GetChangedEntities returns up to limit deltas strictly after since, in
	// the peer history order, and whether more follow.
	GetChangedEntities(ctx context.Context, since entity.Cursor, limit int) ([]entity.Delta, bool, error)
	// GetContent returns the blob content or storage.ErrNotFound.
	GetContent(ctx context.Context, id string) (io.ReadCloser, error)
	// GetEntity returns the parsed entity and its file, verified against id.
	GetEntity(ctx context.Context, id string) (*entity.Entity, []byte, error)
}

// ChangesResponse is the body of the pointer changes endpoint.
type ChangesResponse struct {
	Deltas     []entity.Delta `json:"deltas"`
	Pagination Pagination     `json:"pagination"`
}

type Pagination struct {
	MoreData bool `json:"moreData"`
}

var _ Interface = (*Client)(nil)

// Client is an HTTP Interface implementation.
type Client struct {
	addr       string
	httpClient *http.Client
}

// New returns a Client for the peer at addr. A nil httpClient uses
// http.DefaultClient.
func New(addr string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		addr:       addr,
		httpClient: httpClient,
	}
}

func (c *Client) Address() string {
	return c.addr
}

func (c *Client) GetChangedEntities(ctx context.Context, since entity.Cursor, limit int) ([]entity.Delta, bool, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(since.Timestamp, 10))
	if since.LastID != "" {
		q.Set("lastId", since.LastID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	resp, err := c.get(ctx, "/pointer-changes?"+q.Encode())
	if err != nil {
		return nil, false, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, false, c.statusError(resp)
	}

	var body ChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("%w: %s: decode changes: %v", ErrMalformedResponse, c.addr, err)
	}
	if limit > 0 && len(body.Deltas) > limit {
		return nil, false, fmt.Errorf("%w: %s: got %d deltas over limit %d", ErrMalformedResponse, c.addr, len(body.Deltas), limit)
	}

	// the cursor only works when the history comes back strictly ordered
	cursor := since
	for _, d := range body.Deltas {
		if d.EntityID == "" {
			return nil, false, fmt.Errorf("%w: %s: delta without entity id", ErrMalformedResponse, c.addr)
		}
		if !cursor.Before(d) {
			return nil, false, fmt.Errorf("%w: %s: delta %s out of order", ErrMalformedResponse, c.addr, d.EntityID)
		}
		cursor = entity.CursorOf(d)
	}
	return body.Deltas, body.Pagination.MoreData, nil
}

func (c *Client) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, "/contents/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		drain(resp.Body)
		return nil, storage.ErrNotFound
	}
	defer drain(resp.Body)
	return nil, c.statusError(resp)
}

func (c *Client) GetEntity(ctx context.Context, id string) (*entity.Entity, []byte, error) {
	rc, err := c.GetContent(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(hashing.VerifyingReader(id, rc), maxEntityFileSize+1))
	if err != nil {
		if errors.Is(err, hashing.ErrDigestMismatch) {
			return nil, nil, fmt.Errorf("%w: %s: entity %s: %v", ErrMalformedResponse, c.addr, id, err)
		}
		return nil, nil, fmt.Errorf("%w: %s: read entity %s: %v", ErrPeerUnreachable, c.addr, id, err)
	}
	if len(data) > maxEntityFileSize {
		return nil, nil, fmt.Errorf("%w: %s: entity %s too large", ErrMalformedResponse, c.addr, id)
	}
	e, err := entity.Parse(id, data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, c.addr, err)
	}
	return e, data, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, c.addr, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, c.addr, err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %s", ErrPeerUnreachable, c.addr, resp.Status)
	}
	return fmt.Errorf("%w: %s: unexpected status %s", ErrMalformedResponse, c.addr, resp.Status)
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}
