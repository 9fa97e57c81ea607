// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystnet/catalyst"
	"github.com/catalystnet/catalyst/pkg/node"
	"github.com/spf13/cobra"
)

const (
	defaultSyncInterval      = 30 * time.Second
	defaultSyncPeerTimeout   = 5 * time.Minute
	defaultBlacklistDuration = time.Hour
	shutdownTimeout          = 15 * time.Second
)

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a catalyst content server",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			logger, logCloser, err := newLogger(cmd, c.config.GetString(optionNameVerbosity), c.config.GetString(optionNameLogFile))
			if err != nil {
				return err
			}
			if logCloser != nil {
				defer logCloser.Close()
			}

			logger.Infof("version: %v", catalyst.Version)

			n, err := node.NewNode(context.Background(), node.Options{
				DataDir:                     c.config.GetString(optionNameDataDir),
				APIAddr:                     c.config.GetString(optionNameAPIAddr),
				PublicURL:                   c.config.GetString(optionNamePublicURL),
				CORSAllowedOrigins:          c.config.GetStringSlice(optionCORSAllowedOrigins),
				Logger:                      logger,
				SyncInterval:                c.config.GetDuration(optionNameSyncInterval),
				SyncPeerTimeout:             c.config.GetDuration(optionNameSyncPeerTimeout),
				SyncPageSize:                c.config.GetInt(optionNameSyncPageSize),
				SyncBlobConcurrency:         c.config.GetInt(optionNameSyncBlobConcurrency),
				PeerFailuresBeforeBlacklist: c.config.GetInt(optionNamePeerFailuresBeforeBlacklist),
				BlacklistDuration:           c.config.GetDuration(optionNameBlacklistDuration),
				DAOStaticServers:            c.config.GetStringSlice(optionNameDAOStaticServers),
				DAOEthEndpoint:              c.config.GetString(optionNameDAOEthEndpoint),
				DAOContractAddress:          c.config.GetString(optionNameDAOContractAddress),
				CompressContent:             c.config.GetBool(optionNameCompressContent),
			})
			if err != nil {
				return fmt.Errorf("start node: %w", err)
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := c.interrupt
			if interruptChannel == nil {
				interruptChannel = make(chan os.Signal, 1)
				signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(interruptChannel)
			}

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			// Shutdown
			done := make(chan struct{})
			go func() {
				defer func() {
					if err := recover(); err != nil {
						logger.Errorf("shutdown panic: %v", err)
					}
				}()
				defer close(done)

				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := n.Shutdown(ctx); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case <-done:
			}

			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}
