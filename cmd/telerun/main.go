// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the telerun executable, used to run commands on a
// remote host against a copy of a local source tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"go.chromium.org/telerun/internal/command"
	"go.chromium.org/telerun/internal/logging"
)

// Version is the version info of this command. It is filled in at build time.
var Version = "<unknown>"

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions run before os.Exit makes the program exit
// immediately.
func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newRunCmd(), "")
	subcommands.Register(newListCmd(os.Stdout), "")

	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", false, "include timestamps in logs")
	flag.Parse()

	if *version {
		fmt.Printf("telerun version %s\n", Version)
		return 0
	}

	// Logs go to stderr; stdout carries the remote command's output.
	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewSinkLogger(level, *logTime, logging.NewWriterSink(os.Stderr))
	ctx := logging.AttachLogger(context.Background(), logger)

	command.InstallSignalHandler(os.Stderr, func(os.Signal) {})

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
