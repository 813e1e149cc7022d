// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package run orchestrates a single remote run: it locks the source tree,
// archives it, pushes it to the target host and runs a command there.
package run

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/internal/command"
)

// configFileName is the optional per-tree config file read from the root of
// the source directory. Values set on the command line take precedence.
const configFileName = ".telerun.yaml"

const defaultConnectTimeout = 10 * time.Second

// Config describes a remote run.
type Config struct {
	// Target is the host to run on, in "[user@]host[:port]" form.
	Target string
	// SrcDir is the source tree to push.
	SrcDir string
	// Command is the command line to run in the pushed tree.
	Command []string

	KeyFile string // path to a private SSH key; may be empty
	KeyDir  string // directory scanned for private SSH keys; may be empty

	// RemoteDir is an existing directory on the target to extract the tree
	// into. If empty, a fresh temporary directory is created and removed
	// after the run unless Keep is set. A caller-supplied RemoteDir is
	// never removed.
	RemoteDir string

	ConnectTimeout time.Duration // timeout for establishing the SSH connection

	NoWait bool // fail instead of waiting if another run holds the source tree
	Keep   bool // do not remove the remote directory after the run
	TTY    bool // run the command on a pseudo-terminal

	// SSHPath is the ssh client binary used to run the command once the
	// tree is pushed. Unit tests substitute a fake.
	SSHPath string
}

// NewConfig returns a new Config with default values. Callers are expected to
// parse flags into it, apply the tree config file and then call
// DeriveDefaults.
func NewConfig() *Config {
	return &Config{SSHPath: "ssh"}
}

// SetFlags adds run-related flags to f that store values in c.
func (c *Config) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.SrcDir, "dir", ".", "source directory to push")
	f.StringVar(&c.KeyFile, "keyfile", "", "path to private SSH key")
	f.StringVar(&c.KeyDir, "keydir", "", "directory containing SSH keys (default: ~/.ssh)")
	f.StringVar(&c.RemoteDir, "remotedir", "", "existing remote directory to extract into (default: new temporary directory)")
	f.Var(command.NewDurationFlag(time.Second, &c.ConnectTimeout, defaultConnectTimeout), "connecttimeout", "timeout for connecting to the target in seconds")
	f.BoolVar(&c.NoWait, "nowait", false, "fail instead of waiting if another run holds the source tree")
	f.BoolVar(&c.Keep, "keep", false, "keep the remote directory after the run")
	f.BoolVar(&c.TTY, "tty", false, "run the command on a pseudo-terminal")
}

// fileConfig mirrors the subset of Config that may be stored in the tree
// config file.
type fileConfig struct {
	Target    string   `yaml:"target"`
	Command   []string `yaml:"command"`
	KeyFile   string   `yaml:"keyfile"`
	KeyDir    string   `yaml:"keydir"`
	RemoteDir string   `yaml:"remotedir"`
	Keep      bool     `yaml:"keep"`
}

// LoadFileConfig reads the tree config file from the root of c.SrcDir, if
// present, and fills fields of c that were not set on the command line.
func (c *Config) LoadFileConfig() error {
	b, err := os.ReadFile(filepath.Join(c.SrcDir, configFileName))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "failed to read %s", configFileName)
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(b, &fc); err != nil {
		return errors.Wrapf(err, "failed to parse %s", configFileName)
	}
	setIfEmpty(&c.Target, fc.Target)
	if len(c.Command) == 0 {
		c.Command = fc.Command
	}
	setIfEmpty(&c.KeyFile, fc.KeyFile)
	setIfEmpty(&c.KeyDir, fc.KeyDir)
	setIfEmpty(&c.RemoteDir, fc.RemoteDir)
	if fc.Keep {
		c.Keep = true
	}
	return nil
}

// DeriveDefaults sets default config values to unset members and validates
// that the config describes a runnable command. It should be called after
// flags and the tree config file have been applied.
func (c *Config) DeriveDefaults() error {
	if c.Target == "" {
		return errors.New("no target host specified")
	}
	if len(c.Command) == 0 {
		return errors.New("no command to run")
	}
	src, err := filepath.Abs(c.SrcDir)
	if err != nil {
		return err
	}
	c.SrcDir = src
	if c.KeyFile == "" && c.KeyDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			if kd := filepath.Join(home, ".ssh"); dirExists(kd) {
				c.KeyDir = kd
			}
		}
	}
	return nil
}

func setIfEmpty(p *string, s string) {
	if *p == "" {
		*p = s
	}
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
