// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/telerun/testutil"
)

func TestLoadFileConfig(t *testing.T) {
	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{
		configFileName: `target: deep@thought:2222
command: [make, test]
keyfile: /path/to/key
remotedir: /data
keep: true
`,
	}); err != nil {
		t.Fatal(err)
	}

	cfg := NewConfig()
	cfg.SrcDir = src
	cfg.Target = "other" // set on the command line; the file must not override it
	if err := cfg.LoadFileConfig(); err != nil {
		t.Fatal("LoadFileConfig failed: ", err)
	}

	if cfg.Target != "other" {
		t.Errorf("Target = %q; want %q", cfg.Target, "other")
	}
	if diff := cmp.Diff([]string{"make", "test"}, cfg.Command); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
	if cfg.KeyFile != "/path/to/key" {
		t.Errorf("KeyFile = %q; want %q", cfg.KeyFile, "/path/to/key")
	}
	if cfg.RemoteDir != "/data" {
		t.Errorf("RemoteDir = %q; want %q", cfg.RemoteDir, "/data")
	}
	if !cfg.Keep {
		t.Error("Keep = false; want true")
	}
}

func TestLoadFileConfigMissing(t *testing.T) {
	cfg := NewConfig()
	cfg.SrcDir = testutil.TempDir(t)
	if err := cfg.LoadFileConfig(); err != nil {
		t.Error("LoadFileConfig failed for a tree without a config file: ", err)
	}
}

func TestLoadFileConfigUnknownKey(t *testing.T) {
	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{configFileName: "bogus: 1\n"}); err != nil {
		t.Fatal(err)
	}
	cfg := NewConfig()
	cfg.SrcDir = src
	if err := cfg.LoadFileConfig(); err == nil {
		t.Error("LoadFileConfig unexpectedly accepted an unknown key")
	}
}

func TestDeriveDefaults(t *testing.T) {
	cfg := NewConfig()
	cfg.Target = "host"
	cfg.Command = []string{"true"}
	cfg.SrcDir = "."
	cfg.KeyFile = "/path/to/key"
	if err := cfg.DeriveDefaults(); err != nil {
		t.Fatal("DeriveDefaults failed: ", err)
	}
	if !filepath.IsAbs(cfg.SrcDir) {
		t.Errorf("SrcDir = %q; want an absolute path", cfg.SrcDir)
	}
}

func TestDeriveDefaultsErrors(t *testing.T) {
	for _, cfg := range []*Config{
		{Command: []string{"true"}}, // no target
		{Target: "host"},            // no command
	} {
		if err := cfg.DeriveDefaults(); err == nil {
			t.Errorf("DeriveDefaults unexpectedly succeeded for %+v", cfg)
		}
	}
}
