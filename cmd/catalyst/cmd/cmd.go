// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/catalystnet/catalyst/pkg/dao"
	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	optionNameDataDir                     = "data-dir"
	optionNameAPIAddr                     = "api-addr"
	optionNamePublicURL                   = "public-url"
	optionNameVerbosity                   = "verbosity"
	optionNameLogFile                     = "log-file"
	optionNameSyncInterval                = "sync-interval"
	optionNameSyncPeerTimeout             = "sync-peer-timeout"
	optionNameSyncPageSize                = "sync-page-size"
	optionNameSyncBlobConcurrency         = "sync-blob-concurrency"
	optionNamePeerFailuresBeforeBlacklist = "peer-failures-before-blacklist"
	optionNameBlacklistDuration           = "blacklist-duration"
	optionNameDAOStaticServers            = "dao-static-servers"
	optionNameDAOEthEndpoint              = "dao-eth-endpoint"
	optionNameDAOContractAddress          = "dao-contract-address"
	optionNameCompressContent             = "compress-content"
	optionCORSAllowedOrigins              = "cors-allowed-origins"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root      *cobra.Command
	config    *viper.Viper
	cfgFile   string
	homeDir   string
	interrupt chan os.Signal
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "catalyst",
			Short:         "Catalyst content server",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
		},
	}

	for _, o := range opts {
		o(c)
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	if err := c.initStartCmd(); err != nil {
		return nil, err
	}

	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.catalyst.yaml)")
}

func (c *command) initConfig() (err error) {
	config := viper.New()
	configName := ".catalyst"
	if c.cfgFile != "" {
		// Use config file from the flag.
		config.SetConfigFile(c.cfgFile)
	} else {
		// Search config in home directory with name ".catalyst" (without extension).
		config.AddConfigPath(c.homeDir)
		config.SetConfigName(configName)
	}

	// Environment
	config.SetEnvPrefix("catalyst")
	config.AutomaticEnv() // read in environment variables that match
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if c.homeDir != "" && c.cfgFile == "" {
		c.cfgFile = filepath.Join(c.homeDir, configName+".yaml")
	}

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return err
		}
	}
	c.config = config
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}

func (c *command) setAllFlags(cmd *cobra.Command) {
	cmd.Flags().String(optionNameDataDir, filepath.Join(c.homeDir, ".catalyst"), "data directory, empty keeps everything in memory")
	cmd.Flags().String(optionNameAPIAddr, ":6969", "HTTP API listen address")
	cmd.Flags().String(optionNamePublicURL, "", "public address of this server, excluded from the synchronization peers")
	cmd.Flags().String(optionNameVerbosity, "info", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	cmd.Flags().String(optionNameLogFile, "", "write logs to a rotated file instead of the standard output")
	cmd.Flags().Duration(optionNameSyncInterval, defaultSyncInterval, "time between synchronization rounds")
	cmd.Flags().Duration(optionNameSyncPeerTimeout, defaultSyncPeerTimeout, "maximum duration of a synchronization cycle with one server")
	cmd.Flags().Int(optionNameSyncPageSize, 500, "number of history entries requested at once")
	cmd.Flags().Int(optionNameSyncBlobConcurrency, 8, "number of parallel content downloads per server")
	cmd.Flags().Int(optionNamePeerFailuresBeforeBlacklist, 3, "consecutive failed cycles after which a server is ignored")
	cmd.Flags().Duration(optionNameBlacklistDuration, defaultBlacklistDuration, "how long an ignored server stays ignored, 0 for the process lifetime")
	cmd.Flags().StringSlice(optionNameDAOStaticServers, nil, "fixed list of servers to synchronize with instead of the registry contract")
	cmd.Flags().String(optionNameDAOEthEndpoint, "", "ethereum endpoint to read the server registry contract from")
	cmd.Flags().String(optionNameDAOContractAddress, dao.DefaultContractAddress, "server registry contract address")
	cmd.Flags().Bool(optionNameCompressContent, true, "keep a gzip compressed variant of stored content when it is smaller")
	cmd.Flags().StringSlice(optionCORSAllowedOrigins, []string{}, "origins with CORS headers enabled")
}

func newLogger(cmd *cobra.Command, verbosity, logFile string) (logging.Logger, io.Closer, error) {
	level, err := logging.ParseVerbosity(verbosity)
	if err != nil {
		return nil, nil, err
	}
	if level == 0 {
		return logging.New(io.Discard, 0), nil, nil
	}
	if logFile == "" {
		return logging.New(cmd.OutOrStdout(), level), nil, nil
	}
	w := logging.NewFileWriter(logging.FileOptions{Path: logFile})
	return logging.New(w, level), w, nil
}
