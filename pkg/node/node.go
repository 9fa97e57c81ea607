// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node wires the storage, catalog, synchronization and API
// components of a catalyst content server together.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/catalystnet/catalyst/pkg/api"
	"github.com/catalystnet/catalyst/pkg/catalog"
	"github.com/catalystnet/catalyst/pkg/contentstore"
	"github.com/catalystnet/catalyst/pkg/dao"
	"github.com/catalystnet/catalyst/pkg/deployer"
	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/catalystnet/catalyst/pkg/statestore/leveldb"
	"github.com/catalystnet/catalyst/pkg/storage"
	"github.com/catalystnet/catalyst/pkg/synchronizer"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var ErrShutdownInProgress = errors.New("shutdown in progress")

type Node struct {
	apiServer        *http.Server
	apiAddr          net.Addr
	syncCloser       io.Closer
	registryCloser   io.Closer
	stateStoreCloser io.Closer
	errorLogWriter   *io.PipeWriter

	shutdownInProgress bool
	shutdownMutex      sync.Mutex
}

type Options struct {
	// DataDir holds the state store and the content. An empty DataDir keeps
	// everything in memory.
	DataDir            string
	APIAddr            string
	PublicURL          string
	CORSAllowedOrigins []string
	Logger             logging.Logger

	SyncInterval                time.Duration
	SyncPeerTimeout             time.Duration
	SyncPageSize                int
	SyncBlobConcurrency         int
	PeerFailuresBeforeBlacklist int
	BlacklistDuration           time.Duration

	// DAOStaticServers replaces the contract registry with a fixed list.
	DAOStaticServers   []string
	DAOEthEndpoint     string
	DAOContractAddress string

	CompressContent bool
}

func NewNode(ctx context.Context, o Options) (_ *Node, err error) {
	logger := o.Logger
	n := &Node{
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
	}
	defer func() {
		// release what was built so far
		if err != nil {
			if cerr := n.close(context.Background()); cerr != nil {
				logger.Debugf("node: close after failed start: %v", cerr)
			}
		}
	}()

	var (
		stateStore storage.StateStorer
		store      *contentstore.Store
	)
	if o.DataDir == "" {
		logger.Warning("using in-memory storage, no state or content will be persisted")
		ss, err := leveldb.NewInMemoryStateStore(logger)
		if err != nil {
			return nil, fmt.Errorf("statestore: %w", err)
		}
		n.stateStoreCloser = ss
		stateStore = ss
		store, err = contentstore.New(afero.NewMemMapFs(), "/contents", logger)
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
	} else {
		ss, err := leveldb.NewStateStore(filepath.Join(o.DataDir, "statestore"), logger)
		if err != nil {
			return nil, fmt.Errorf("statestore: %w", err)
		}
		n.stateStoreCloser = ss
		stateStore = ss
		store, err = contentstore.NewOnDisk(filepath.Join(o.DataDir, "contents"), logger)
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
	}

	cat, err := catalog.New(stateStore, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	dep := deployer.New(store, cat, logger, o.CompressContent)

	registry, err := n.newRegistry(ctx, o)
	if err != nil {
		return nil, err
	}
	daoClient := dao.NewClient(registry, dao.ClientOptions{
		BlacklistDuration: o.BlacklistDuration,
		Logger:            logger,
	})

	var self string
	if o.PublicURL != "" {
		if self, err = dao.Normalize(o.PublicURL); err != nil {
			return nil, fmt.Errorf("public url: %w", err)
		}
	}

	syncer := synchronizer.New(synchronizer.Options{
		Registry:                daoClient,
		Catalog:                 cat,
		Deployer:                dep,
		Store:                   store,
		StateStore:              stateStore,
		Interval:                o.SyncInterval,
		PeerTimeout:             o.SyncPeerTimeout,
		PageSize:                o.SyncPageSize,
		BlobConcurrency:         o.SyncBlobConcurrency,
		FailuresBeforeBlacklist: o.PeerFailuresBeforeBlacklist,
		SelfAddress:             self,
		Logger:                  logger,
	})
	n.syncCloser = syncer

	apiService := api.New(api.Options{
		Store:              store,
		Catalog:            cat,
		Deployer:           dep,
		Sync:               syncer,
		Logger:             logger,
		CORSAllowedOrigins: o.CORSAllowedOrigins,
	})
	apiService.MustRegisterMetrics(logger.Metrics()...)
	apiService.MustRegisterMetrics(store.Metrics()...)
	apiService.MustRegisterMetrics(cat.Metrics()...)
	apiService.MustRegisterMetrics(syncer.Metrics()...)

	apiListener, err := net.Listen("tcp", o.APIAddr)
	if err != nil {
		return nil, fmt.Errorf("api listener: %w", err)
	}
	n.apiAddr = apiListener.Addr()

	apiServer := &http.Server{
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		Handler:           apiService,
		ErrorLog:          log.New(n.errorLogWriter, "", 0),
	}
	go func() {
		logger.Infof("api address: %s", apiListener.Addr())

		if err := apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debugf("api server: %v", err)
			logger.Error("unable to serve api")
		}
	}()
	n.apiServer = apiServer

	syncer.Start()

	return n, nil
}

func (n *Node) newRegistry(ctx context.Context, o Options) (dao.Registry, error) {
	if len(o.DAOStaticServers) > 0 {
		o.Logger.Infof("using static server list %v", o.DAOStaticServers)
		return dao.NewStaticRegistry(o.DAOStaticServers), nil
	}
	if o.DAOEthEndpoint == "" {
		o.Logger.Warning("no server registry configured, running without peers")
		return dao.NewStaticRegistry(nil), nil
	}

	contract := o.DAOContractAddress
	if contract == "" {
		contract = dao.DefaultContractAddress
	}
	registry, closer, err := dao.DialContractRegistry(ctx, o.DAOEthEndpoint, contract)
	if err != nil {
		return nil, fmt.Errorf("server registry: %w", err)
	}
	n.registryCloser = closer
	o.Logger.Infof("using server registry contract %s", contract)
	return registry, nil
}

// APIAddr returns the address the API listens on.
func (n *Node) APIAddr() net.Addr {
	return n.apiAddr
}

// Shutdown stops the synchronizer and the API server and closes the
// storage. Content writes in progress either complete or remove their
// temporary files before the state store is closed.
func (n *Node) Shutdown(ctx context.Context) error {
	n.shutdownMutex.Lock()
	if n.shutdownInProgress {
		n.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	n.shutdownInProgress = true
	n.shutdownMutex.Unlock()

	return n.close(ctx)
}

func (n *Node) close(ctx context.Context) error {
	var mErr error

	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	if n.apiServer != nil {
		if err := n.apiServer.Shutdown(ctx); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("api server: %w", err))
		}
	}

	tryClose(n.syncCloser, "synchronizer")
	tryClose(n.registryCloser, "server registry")
	tryClose(n.stateStoreCloser, "statestore")
	tryClose(n.errorLogWriter, "error log writer")

	return mErr
}
