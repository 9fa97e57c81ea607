// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"context"
	"sync"

	"github.com/catalystnet/catalyst/pkg/dao"
)

var _ dao.Registry = (*Registry)(nil)

// Registry is a dao.Registry whose server list can be changed at runtime.
type Registry struct {
	mtx     sync.Mutex
	servers []string
	err     error
	calls   int
}

type Option interface {
	apply(*Registry)
}
type optionFunc func(*Registry)

func (f optionFunc) apply(r *Registry) { f(r) }

func WithServers(servers ...string) Option {
	return optionFunc(func(r *Registry) {
		r.servers = servers
	})
}

func WithError(err error) Option {
	return optionFunc(func(r *Registry) {
		r.err = err
	})
}

func New(opts ...Option) *Registry {
	r := new(Registry)
	for _, o := range opts {
		o.apply(r)
	}
	return r
}

func (r *Registry) Servers(context.Context) ([]string, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]string(nil), r.servers...), nil
}

// SetServers replaces the listed servers.
func (r *Registry) SetServers(servers ...string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.servers = servers
}

// SetError makes subsequent calls fail with err, or succeed if err is nil.
func (r *Registry) SetError(err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.err = err
}

// Calls returns the number of Servers calls.
func (r *Registry) Calls() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.calls
}
