// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"testing"

	"github.com/google/subcommands"

	"go.chromium.org/telerun/testutil"
)

// executeListCmd creates a listCmd and executes it using the supplied args.
func executeListCmd(t *testing.T, stdout io.Writer, args []string) subcommands.ExitStatus {
	t.Helper()
	cmd := newListCmd(stdout)
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	cmd.SetFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd.Execute(context.Background(), flags)
}

func TestListFiles(t *testing.T) {
	src := testutil.TempDir(t)
	if err := testutil.WriteFiles(src, map[string]string{
		"mod.py":      "",
		"sub/util.py": "",
		".testr.conf": "",
		"mod.pyc":     "",
		".git/config": "",
	}); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	args := []string{"-dir", src}
	if status := executeListCmd(t, &stdout, args); status != subcommands.ExitSuccess {
		t.Fatalf("listCmd.Execute(%v) returned status %v; want %v", args, status, subcommands.ExitSuccess)
	}
	if exp := ".testr.conf\nmod.py\nsub/util.py\n"; stdout.String() != exp {
		t.Errorf("listCmd.Execute(%v) printed %q; want %q", args, stdout.String(), exp)
	}
}

func TestListFilesBadDir(t *testing.T) {
	var stdout bytes.Buffer
	args := []string{"-dir", "/this/does/not/exist"}
	if status := executeListCmd(t, &stdout, args); status == subcommands.ExitSuccess {
		t.Errorf("listCmd.Execute(%v) unexpectedly succeeded", args)
	}
}
