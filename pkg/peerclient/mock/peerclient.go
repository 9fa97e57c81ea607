// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/peerclient"
	"github.com/catalystnet/catalyst/pkg/storage"
)

var _ peerclient.Interface = (*Peer)(nil)

// Peer serves a fixed history and content from memory.
type Peer struct {
	addr string

	mtx             sync.Mutex
	deltas          []entity.Delta
	contents        map[string][]byte
	changesErr      error
	contentErr      map[string]error
	changesRequests []entity.Cursor
	contentRequests map[string]int
	blockContent    chan struct{}
}

type Option interface {
	apply(*Peer)
}
type optionFunc func(*Peer)

func (f optionFunc) apply(p *Peer) { f(p) }

// WithDeltas sets the history served by the peer. Deltas must be ordered.
func WithDeltas(deltas ...entity.Delta) Option {
	return optionFunc(func(p *Peer) {
		p.deltas = append(p.deltas, deltas...)
	})
}

// WithContent makes the peer serve data under id.
func WithContent(id string, data []byte) Option {
	return optionFunc(func(p *Peer) {
		p.contents[id] = data
	})
}

// WithChangesError makes GetChangedEntities fail.
func WithChangesError(err error) Option {
	return optionFunc(func(p *Peer) {
		p.changesErr = err
	})
}

// WithContentError makes content requests for id fail.
func WithContentError(id string, err error) Option {
	return optionFunc(func(p *Peer) {
		p.contentErr[id] = err
	})
}

// WithBlockingContent makes content requests wait until the channel is
// closed or the request context is done.
func WithBlockingContent(c chan struct{}) Option {
	return optionFunc(func(p *Peer) {
		p.blockContent = c
	})
}

func New(addr string, opts ...Option) *Peer {
	p := &Peer{
		addr:            addr,
		contents:        make(map[string][]byte),
		contentErr:      make(map[string]error),
		contentRequests: make(map[string]int),
	}
	for _, o := range opts {
		o.apply(p)
	}
	return p
}

func (p *Peer) Address() string {
	return p.addr
}

func (p *Peer) GetChangedEntities(ctx context.Context, since entity.Cursor, limit int) ([]entity.Delta, bool, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.changesRequests = append(p.changesRequests, since)
	if p.changesErr != nil {
		return nil, false, p.changesErr
	}

	var out []entity.Delta
	for _, d := range p.deltas {
		if !since.Before(d) {
			continue
		}
		if limit > 0 && len(out) == limit {
			return out, true, nil
		}
		out = append(out, d)
	}
	return out, false, nil
}

func (p *Peer) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	p.mtx.Lock()
	p.contentRequests[id]++
	block := p.blockContent
	err := p.contentErr[id]
	data, ok := p.contents[id]
	p.mtx.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *Peer) GetEntity(ctx context.Context, id string) (*entity.Entity, []byte, error) {
	rc, err := p.GetContent(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, err
	}
	e, err := entity.Parse(id, data)
	if err != nil {
		return nil, nil, err
	}
	return e, data, nil
}

// SetContentError changes the error returned for id. A nil err clears it.
func (p *Peer) SetContentError(id string, err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if err == nil {
		delete(p.contentErr, id)
		return
	}
	p.contentErr[id] = err
}

// AddDeltas appends to the served history.
func (p *Peer) AddDeltas(deltas ...entity.Delta) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.deltas = append(p.deltas, deltas...)
}

// AddContent makes the peer serve data under id.
func (p *Peer) AddContent(id string, data []byte) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.contents[id] = data
}

// ChangesRequests returns the cursors of all change requests made so far.
func (p *Peer) ChangesRequests() []entity.Cursor {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return append([]entity.Cursor(nil), p.changesRequests...)
}

// ContentRequests returns how many times the content of id was requested.
func (p *Peer) ContentRequests(id string) int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.contentRequests[id]
}
