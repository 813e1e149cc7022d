// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/exp/slices"

	"go.chromium.org/telerun/internal/archive"
	"go.chromium.org/telerun/internal/command"
)

// listCmd implements subcommands.Command to support listing the files that
// would be pushed to the target.
type listCmd struct {
	dir    string    // source directory to list
	stdout io.Writer // where to write file names
}

var _ = subcommands.Command(&listCmd{})

// newListCmd returns a new listCmd that will write file names to stdout.
func newListCmd(stdout io.Writer) *listCmd {
	return &listCmd{stdout: stdout}
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list files that would be pushed" }
func (*listCmd) Usage() string {
	return `Usage: list [flag]...

Description:
    Lists the files the run subcommand would push to the target, one per
    line, without connecting to it.

Flag:
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&lc.dir, "dir", ".", "source directory to list")
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := archive.Build(ctx, lc.dir, archive.DefaultFilters())
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(os.Stderr, err))
	}

	names := make([]string, len(a.Entries))
	for i, e := range a.Entries {
		names[i] = e.Name
	}
	slices.Sort(names)

	for _, n := range names {
		if _, err := fmt.Fprintln(lc.stdout, n); err != nil {
			return subcommands.ExitStatus(command.WriteError(os.Stderr, err))
		}
	}
	return subcommands.ExitSuccess
}
