// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"go.chromium.org/telerun/internal/command"
	"go.chromium.org/telerun/internal/logging"
	"go.chromium.org/telerun/internal/run"
	"go.chromium.org/telerun/internal/timing"
)

// runCmd implements subcommands.Command to support running a command on a
// target host.
type runCmd struct {
	cfg       *run.Config // shared config for running commands
	timingLog string      // file to write timing information to; unset to skip
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd() *runCmd {
	return &runCmd{cfg: run.NewConfig()}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a command on a target host" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]... [target] [command arg]...

Description:
    Pushes the source directory to the target host and runs the command in
    the pushed copy, streaming its output. The remote command's exit code
    becomes telerun's exit code.

Target:
    The target is an SSH connection spec of the form "[user@]host[:port]".
    If no arguments are given, the target and the command are read from
    .telerun.yaml at the root of the source directory.

Flag:
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.timingLog, "timinglog", "", "file to write timing information to")
	r.cfg.SetFlags(f)
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tl := &timing.Log{}
	ctx = timing.NewContext(ctx, tl)

	if args := f.Args(); len(args) > 0 {
		r.cfg.Target = args[0]
		r.cfg.Command = args[1:]
	}
	if err := r.cfg.LoadFileConfig(); err != nil {
		logging.Info(ctx, "Failed to load config: ", err)
		return subcommands.ExitFailure
	}
	if err := r.cfg.DeriveDefaults(); err != nil {
		logging.Infof(ctx, "%v\n\n%s", err, r.Usage())
		return subcommands.ExitUsageError
	}

	if r.cfg.KeyFile != "" {
		logging.Debug(ctx, "Using SSH key ", r.cfg.KeyFile)
	}
	if r.cfg.KeyDir != "" {
		logging.Debug(ctx, "Using SSH dir ", r.cfg.KeyDir)
	}

	// Write the timing log after the command finishes.
	if r.timingLog != "" {
		defer func() {
			if err := writeTimingLog(tl, r.timingLog); err != nil {
				logging.Info(ctx, "Failed to write timing log: ", err)
			}
		}()
	}

	code, err := run.Run(ctx, r.cfg, os.Stdout, os.Stderr)
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(os.Stderr, err))
	}
	return subcommands.ExitStatus(code)
}

func writeTimingLog(tl *timing.Log, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return tl.Write(f)
}
