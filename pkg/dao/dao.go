// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dao resolves the addresses of the content servers listed in the
// shared address registry.
package dao

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/catalystnet/catalyst/pkg/logging"
)

var ErrInvalidAddress = errors.New("dao: invalid address")

var now = time.Now

// Registry is the external directory of server addresses.
type Registry interface {
	Servers(ctx context.Context) ([]string, error)
}

type ClientOptions struct {
	// BlacklistDuration is how long a removed address stays hidden. Zero
	// hides it for the lifetime of the client.
	BlacklistDuration time.Duration
	Logger            logging.Logger
}

// Client lists the servers of a Registry, minus the ones blacklisted
// locally.
type Client struct {
	registry Registry
	duration time.Duration
	logger   logging.Logger

	mu        sync.Mutex
	blacklist map[string]time.Time // address to expiry, zero never expires
}

func NewClient(r Registry, o ClientOptions) *Client {
	return &Client{
		registry:  r,
		duration:  o.BlacklistDuration,
		logger:    o.Logger,
		blacklist: make(map[string]time.Time),
	}
}

// GetAllServers queries the registry and returns the normalized, distinct
// addresses that are not blacklisted. Invalid entries are skipped.
func (c *Client) GetAllServers(ctx context.Context) ([]string, error) {
	servers, err := c.registry.Servers(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := now()
	seen := make(map[string]struct{}, len(servers))
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		addr, err := Normalize(s)
		if err != nil {
			c.logger.Debugf("dao: skipping server %q: %v", s, err)
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		if expiry, ok := c.blacklist[addr]; ok {
			if expiry.IsZero() || t.Before(expiry) {
				continue
			}
			delete(c.blacklist, addr)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Remove blacklists the address locally. It is hidden from GetAllServers
// until the blacklist duration passes.
func (c *Client) Remove(addr string) {
	a, err := Normalize(addr)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiry time.Time
	if c.duration > 0 {
		expiry = now().Add(c.duration)
	}
	c.blacklist[a] = expiry
	c.logger.Infof("dao: server %s blacklisted", a)
}

// Normalize returns the canonical form of a server address: an http or
// https URL with a lowercase host and no trailing slash. Addresses without a
// scheme are assumed to be https.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: no host", ErrInvalidAddress)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

type staticRegistry []string

// NewStaticRegistry returns a Registry that always lists the given
// addresses.
func NewStaticRegistry(addrs []string) Registry {
	return staticRegistry(append([]string(nil), addrs...))
}

func (r staticRegistry) Servers(context.Context) ([]string, error) {
	return append([]string(nil), r...), nil
}
