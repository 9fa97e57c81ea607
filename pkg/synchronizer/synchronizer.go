// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package synchronizer keeps the local catalog in step with the catalogs of
// the servers listed in the address registry. Every round it starts one
// cycle per listed peer that pulls the peer history after the stored
// checkpoint, fetches missing content and admits the new entities.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/deployer"
	"github.com/catalystnet/catalyst/pkg/entity"
	"github.com/catalystnet/catalyst/pkg/hashing"
	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/catalystnet/catalyst/pkg/peerclient"
	"github.com/catalystnet/catalyst/pkg/storage"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"resenje.org/singleflight"
)

const checkpointKeyPrefix = "sync_checkpoint_"

const (
	defaultInterval        = 30 * time.Second
	defaultPeerTimeout     = 5 * time.Minute
	defaultPageSize        = 500
	defaultBlobConcurrency = 8
	defaultFailures        = 3
)

// Registry lists the peers to synchronize with and takes failing ones out.
type Registry interface {
	GetAllServers(ctx context.Context) ([]string, error)
	Remove(addr string)
}

// State of a peer cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Options struct {
	Registry      Registry
	Catalog       *catalog.Catalog
	Deployer      *deployer.Deployer
	Store         *contentstore.Store
	StateStore    storage.StateStorer
	NewPeerClient func(addr string) peerclient.Interface
	// Interval between the starts of two rounds.
	Interval time.Duration
	// PeerTimeout bounds a single peer cycle.
	PeerTimeout time.Duration
	// PageSize is the number of deltas requested at once.
	PageSize int
	// BlobConcurrency bounds the parallel content downloads of a cycle.
	BlobConcurrency int
	// FailuresBeforeBlacklist is the number of consecutive failed cycles
	// after which a peer is removed from the registry.
	FailuresBeforeBlacklist int
	// SelfAddress is the normalized public address of this node.
	SelfAddress string
	Logger      logging.Logger
}

// PeerStatus is a snapshot of the synchronization with one peer.
type PeerStatus struct {
	Address             string        `json:"address"`
	State               string        `json:"state"`
	Checkpoint          entity.Cursor `json:"checkpoint"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastSync            *time.Time    `json:"lastSync,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
}

type Synchronizer struct {
	registry      Registry
	catalog       *catalog.Catalog
	deployer      *deployer.Deployer
	store         *contentstore.Store
	statestore    storage.StateStorer
	newPeerClient func(addr string) peerclient.Interface
	interval      time.Duration
	peerTimeout   time.Duration
	pageSize      int
	blobWorkers   int64
	maxFailures   int
	self          string
	logger        logging.Logger
	metrics       metrics

	peersMtx sync.Mutex
	peers    map[string]*syncPeer // key is peer address

	cursorsMtx sync.Mutex
	cursors    map[string]entity.Cursor

	blobs singleflight.Group

	rounds *atomic.Uint64
	closed *atomic.Bool
	wg     sync.WaitGroup
	quit   chan struct{}
	once   sync.Once
}

type syncPeer struct {
	client peerclient.Interface
	state  *atomic.Int32

	// guarded by Synchronizer.peersMtx
	listed   bool
	stopped  bool // running cycle cancelled because the peer left
	cancel   context.CancelFunc
	failures int
	lastSync time.Time
	lastErr  string
}

func New(o Options) *Synchronizer {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.PeerTimeout <= 0 {
		o.PeerTimeout = defaultPeerTimeout
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.BlobConcurrency <= 0 {
		o.BlobConcurrency = defaultBlobConcurrency
	}
	if o.FailuresBeforeBlacklist <= 0 {
		o.FailuresBeforeBlacklist = defaultFailures
	}
	if o.NewPeerClient == nil {
		o.NewPeerClient = func(addr string) peerclient.Interface {
			return peerclient.New(addr, nil)
		}
	}
	return &Synchronizer{
		registry:      o.Registry,
		catalog:       o.Catalog,
		deployer:      o.Deployer,
		store:         o.Store,
		statestore:    o.StateStore,
		newPeerClient: o.NewPeerClient,
		interval:      o.Interval,
		peerTimeout:   o.PeerTimeout,
		pageSize:      o.PageSize,
		blobWorkers:   int64(o.BlobConcurrency),
		maxFailures:   o.FailuresBeforeBlacklist,
		self:          o.SelfAddress,
		logger:        o.Logger,
		metrics:       newMetrics(),
		peers:         make(map[string]*syncPeer),
		cursors:       make(map[string]entity.Cursor),
		rounds:        atomic.NewUint64(0),
		closed:        atomic.NewBool(false),
		quit:          make(chan struct{}),
	}
}

// Start runs a round immediately and then on every interval until Close.
func (s *Synchronizer) Start() {
	s.wg.Add(1)
	go s.manage()
}

func (s *Synchronizer) manage() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.quit
		cancel()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.round(ctx)
		select {
		case <-ticker.C:
		case <-s.quit:
			return
		}
	}
}

// SyncOnce runs one round and waits for the cycles it started.
func (s *Synchronizer) SyncOnce(ctx context.Context) {
	s.round(ctx).Wait()
}

// Rounds returns the number of rounds started.
func (s *Synchronizer) Rounds() uint64 {
	return s.rounds.Load()
}

// round reconciles the peer set with the registry and starts a cycle for
// every listed peer that is idle.
func (s *Synchronizer) round(ctx context.Context) *sync.WaitGroup {
	var started sync.WaitGroup
	if s.closed.Load() {
		return &started
	}
	s.rounds.Inc()

	servers, err := s.registry.GetAllServers(ctx)
	if err != nil {
		s.logger.Errorf("synchronizer: get servers: %v", err)
		s.metrics.RegistryErrors.Inc()
		return &started
	}

	listed := make(map[string]struct{}, len(servers))
	for _, addr := range servers {
		if addr == s.self {
			continue
		}
		listed[addr] = struct{}{}
	}

	s.peersMtx.Lock()
	defer s.peersMtx.Unlock()

	for addr, p := range s.peers {
		if _, ok := listed[addr]; ok {
			continue
		}
		// the checkpoint of a peer that left is kept for its return
		p.listed = false
		if p.cancel != nil {
			p.stopped = true
			p.cancel()
		} else {
			delete(s.peers, addr)
		}
		s.logger.Debugf("synchronizer: peer %s no longer listed", addr)
	}

	for addr := range listed {
		p, ok := s.peers[addr]
		if !ok {
			p = &syncPeer{
				client: s.newPeerClient(addr),
				state:  atomic.NewInt32(int32(StateIdle)),
			}
			s.peers[addr] = p
		}
		p.listed = true
		if s.closed.Load() || !p.state.CAS(int32(StateIdle), int32(StateFetching)) {
			// the previous cycle of this peer is still running
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, s.peerTimeout)
		p.cancel = cancel
		started.Add(1)
		s.wg.Add(1)
		go func(addr string, p *syncPeer) {
			defer s.wg.Done()
			defer started.Done()
			defer cancel()

			err := s.cycle(cctx, p)
			s.finishCycle(cctx, addr, p, err)
		}(addr, p)
	}
	s.metrics.Peers.Set(float64(len(listed)))
	return &started
}

func (s *Synchronizer) finishCycle(ctx context.Context, addr string, p *syncPeer, err error) {
	s.peersMtx.Lock()
	defer s.peersMtx.Unlock()

	stopped := p.stopped
	p.cancel = nil
	p.stopped = false
	p.state.Store(int32(StateIdle))
	if !p.listed {
		if cur, ok := s.peers[addr]; ok && cur == p {
			delete(s.peers, addr)
		}
	}

	if err == nil {
		p.failures = 0
		p.lastErr = ""
		p.lastSync = time.Now()
		s.metrics.CyclesCount.Inc()
		return
	}

	p.lastErr = err.Error()
	if stopped || !p.listed || s.closed.Load() {
		// cancelled on purpose, not the peer's fault
		s.logger.Debugf("synchronizer: peer %s cycle stopped: %v", addr, err)
		return
	}

	s.metrics.CycleFailures.Inc()
	p.failures++
	if isMalformed(err) {
		p.failures++
	}
	s.logger.Warningf("synchronizer: peer %s cycle failed (%d consecutive): %v", addr, p.failures, err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.metrics.CycleTimeouts.Inc()
	}

	if p.failures >= s.maxFailures {
		s.logger.Infof("synchronizer: removing peer %s after %d failures", addr, p.failures)
		s.registry.Remove(addr)
		s.metrics.BlacklistedCount.Inc()
		p.failures = 0
	}
}

func isMalformed(err error) bool {
	return errors.Is(err, peerclient.ErrMalformedResponse) || errors.Is(err, hashing.ErrDigestMismatch)
}

// cycle pulls the peer history after its checkpoint. The checkpoint is
// advanced only when every delta of the cycle was applied.
func (s *Synchronizer) cycle(ctx context.Context, p *syncPeer) error {
	addr := p.client.Address()
	start := time.Now()
	defer func() {
		s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	from, err := s.Checkpoint(addr)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	cursor := from
	var admitted int
	for {
		p.state.Store(int32(StateFetching))
		deltas, more, err := p.client.GetChangedEntities(ctx, cursor, s.pageSize)
		if err != nil {
			return err
		}

		p.state.Store(int32(StateApplying))
		for _, d := range deltas {
			ok, err := s.apply(ctx, p.client, d)
			if err != nil {
				return fmt.Errorf("entity %s: %w", d.EntityID, err)
			}
			if ok {
				admitted++
			}
			cursor = entity.CursorOf(d)
		}
		if !more || len(deltas) == 0 {
			break
		}
	}

	if cursor != from {
		if err := s.setCheckpoint(addr, cursor); err != nil {
			return fmt.Errorf("store checkpoint: %w", err)
		}
	}
	if admitted > 0 {
		s.logger.Infof("synchronizer: admitted %d entities from %s", admitted, addr)
	}
	return nil
}

// apply fetches the entity of the delta and its missing content and admits
// it. It reports whether a new entity was admitted.
func (s *Synchronizer) apply(ctx context.Context, peer peerclient.Interface, d entity.Delta) (bool, error) {
	known, err := s.catalog.Has(d.EntityID)
	if err != nil {
		return false, err
	}
	if known {
		s.metrics.EntitiesSkipped.Inc()
		return false, nil
	}

	e, file, err := peer.GetEntity(ctx, d.EntityID)
	if err != nil {
		return false, fmt.Errorf("get entity: %w", err)
	}

	hashes := e.ContentHashes()
	exist, err := s.store.ExistMultiple(ctx, hashes)
	if err != nil {
		return false, err
	}

	sem := semaphore.NewWeighted(s.blobWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hashes {
		if exist[h] {
			continue
		}
		h := h
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return s.fetchBlob(gctx, peer, h)
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	res, err := s.deployer.Apply(ctx, e, file)
	if err != nil {
		return false, err
	}
	if res == catalog.AlreadyKnown {
		s.metrics.EntitiesSkipped.Inc()
		return false, nil
	}
	s.metrics.EntitiesAdmitted.Inc()
	return true, nil
}

// fetchBlob downloads a blob from the peer and stores it. Concurrent
// downloads of the same blob by different cycles are merged. When a merged
// download from another peer fails the blob is fetched again from this one.
func (s *Synchronizer) fetchBlob(ctx context.Context, peer peerclient.Interface, id string) error {
	_, shared, err := s.blobs.Do(ctx, id, func(ctx context.Context) (interface{}, error) {
		return nil, s.download(ctx, peer, id)
	})
	if shared {
		s.metrics.BlobsShared.Inc()
	}
	if err != nil && shared && ctx.Err() == nil {
		err = s.download(ctx, peer, id)
	}
	if err != nil {
		return fmt.Errorf("content %s: %w", id, err)
	}
	return nil
}

func (s *Synchronizer) download(ctx context.Context, peer peerclient.Interface, id string) error {
	if ok, err := s.store.Exist(ctx, id); err == nil && ok {
		return nil
	}
	rc, err := peer.GetContent(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := s.deployer.Store(ctx, id, hashing.VerifyingReader(id, rc)); err != nil {
		return err
	}
	s.metrics.BlobsFetched.Inc()
	return nil
}

func checkpointKey(addr string) string {
	return checkpointKeyPrefix + addr
}

// Checkpoint returns the stored cursor of the peer. Peers never synced
// have the zero cursor.
func (s *Synchronizer) Checkpoint(addr string) (entity.Cursor, error) {
	s.cursorsMtx.Lock()
	defer s.cursorsMtx.Unlock()

	if c, ok := s.cursors[addr]; ok {
		return c, nil
	}
	var c entity.Cursor
	if err := s.statestore.Get(checkpointKey(addr), &c); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return entity.Cursor{}, err
	}
	s.cursors[addr] = c
	return c, nil
}

func (s *Synchronizer) setCheckpoint(addr string, c entity.Cursor) error {
	s.cursorsMtx.Lock()
	defer s.cursorsMtx.Unlock()

	if err := s.statestore.Put(checkpointKey(addr), c); err != nil {
		return err
	}
	s.cursors[addr] = c
	return nil
}

// ResetCheckpoint forgets the cursor of the peer so that its whole history
// is pulled again.
func (s *Synchronizer) ResetCheckpoint(addr string) error {
	s.cursorsMtx.Lock()
	defer s.cursorsMtx.Unlock()

	if err := s.statestore.Delete(checkpointKey(addr)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	delete(s.cursors, addr)
	return nil
}

// Status returns the state of every listed peer, ordered by address.
func (s *Synchronizer) Status() []PeerStatus {
	s.peersMtx.Lock()
	statuses := make([]PeerStatus, 0, len(s.peers))
	for addr, p := range s.peers {
		if !p.listed {
			continue
		}
		st := PeerStatus{
			Address:             addr,
			State:               State(p.state.Load()).String(),
			ConsecutiveFailures: p.failures,
			LastError:           p.lastErr,
		}
		if !p.lastSync.IsZero() {
			t := p.lastSync
			st.LastSync = &t
		}
		statuses = append(statuses, st)
	}
	s.peersMtx.Unlock()

	for i := range statuses {
		if c, err := s.Checkpoint(statuses[i].Address); err == nil {
			statuses[i].Checkpoint = c
		}
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Address < statuses[j].Address
	})
	return statuses
}

// Close stops new rounds, cancels running cycles and waits for them to
// return. Content writes in progress either complete or are discarded.
func (s *Synchronizer) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.quit)

		s.peersMtx.Lock()
		for _, p := range s.peers {
			if p.cancel != nil {
				p.cancel()
			}
		}
		s.peersMtx.Unlock()
	})
	s.wg.Wait()
	return nil
}
