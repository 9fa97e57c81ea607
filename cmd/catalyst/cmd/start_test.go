// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd_test

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/catalystnet/catalyst/cmd/catalyst/cmd"
)

func TestStartCmd(t *testing.T) {
	interrupt := make(chan os.Signal, 1)
	c := newCommand(t,
		cmd.WithArgs("start",
			"--api-addr", "127.0.0.1:0",
			"--data-dir", t.TempDir(),
			"--verbosity", "silent",
			"--sync-interval", "10ms",
		),
		cmd.WithInterrupt(interrupt),
	)

	done := make(chan error, 1)
	go func() {
		done <- c.Execute()
	}()

	time.Sleep(100 * time.Millisecond)
	interrupt <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("start command did not stop")
	}
}

func TestStartCmdConfig(t *testing.T) {
	t.Run("config file", func(t *testing.T) {
		cfg := filepath.Join(t.TempDir(), "catalyst.yaml")
		if err := os.WriteFile(cfg, []byte("verbosity: loud\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		err := newCommand(t,
			cmd.WithCfgFile(cfg),
			cmd.WithArgs("start", "--api-addr", "127.0.0.1:0", "--data-dir", ""),
		).Execute()
		if err == nil || !strings.Contains(err.Error(), "loud") {
			t.Fatalf("got error %v, want unknown verbosity", err)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("CATALYST_VERBOSITY", "noisy")
		err := newCommand(t,
			cmd.WithArgs("start", "--api-addr", "127.0.0.1:0", "--data-dir", ""),
		).Execute()
		if err == nil || !strings.Contains(err.Error(), "noisy") {
			t.Fatalf("got error %v, want unknown verbosity", err)
		}
	})

	t.Run("flag over environment", func(t *testing.T) {
		t.Setenv("CATALYST_VERBOSITY", "noisy")
		err := newCommand(t,
			cmd.WithArgs("start", "--api-addr", "127.0.0.1:0", "--data-dir", "", "--verbosity", "0", "--public-url", "ftp://node.example"),
		).Execute()
		if err == nil || !strings.Contains(err.Error(), `scheme "ftp"`) {
			t.Fatalf("got error %v, want invalid public url", err)
		}
	})
}
