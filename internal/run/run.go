// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/internal/archive"
	"go.chromium.org/telerun/internal/command"
	"go.chromium.org/telerun/internal/lock"
	"go.chromium.org/telerun/internal/logging"
	"go.chromium.org/telerun/internal/proc"
	"go.chromium.org/telerun/internal/pump"
	"go.chromium.org/telerun/internal/timing"
	"go.chromium.org/telerun/ssh"
	"go.chromium.org/telerun/ssh/linuxssh"
)

// statusBusy is the exit status for a run that gave up immediately because
// another run holds the source tree (sysexits EX_TEMPFAIL).
const statusBusy = 75

// sshFailureCode is the exit status the ssh client reports for its own
// failures, e.g. a lost connection. A remote command exiting with the same
// status is indistinguishable.
const sshFailureCode = 255

// remoteDirPattern returns the mktemp template for the remote staging
// directory of srcDir.
func remoteDirPattern(srcDir string) string {
	return "telerun." + filepath.Base(srcDir) + ".XXXXXXXX"
}

// Run pushes cfg.SrcDir to cfg.Target and runs cfg.Command there, forwarding
// its output to stdout and stderr. The returned exit code is the remote
// command's; it is meaningful only when err is nil.
func Run(ctx context.Context, cfg *Config, stdout, stderr io.Writer) (int, error) {
	st := timing.Start(ctx, "lock")
	lk, err := lock.Acquire(ctx, lock.Path(cfg.SrcDir), !cfg.NoWait)
	st.End()
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return 0, command.NewStatusErrorf(statusBusy, "another run is using %s (drop -nowait to wait)", cfg.SrcDir)
		}
		return 0, errors.Wrapf(err, "failed to lock %s", cfg.SrcDir)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logging.Infof(ctx, "Failed to release %s: %v", lk.Path(), err)
		}
	}()

	// Archiving the tree and connecting to the target are independent;
	// overlap them.
	var (
		tarPath   string
		hst       *ssh.Conn
		remoteDir string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st := timing.Start(gctx, "build")
		defer st.End()
		a, err := archive.Build(gctx, cfg.SrcDir, archive.DefaultFilters())
		if err != nil {
			return err
		}
		logging.Infof(gctx, "Archived %d file(s) from %s", len(a.Entries), a.Root)
		p, err := a.WriteTemp()
		if err != nil {
			return err
		}
		tarPath = p
		return nil
	})
	g.Go(func() error {
		st := timing.Start(gctx, "connect")
		defer st.End()
		c, err := connect(gctx, cfg)
		if err != nil {
			return err
		}
		hst = c
		if cfg.RemoteDir != "" {
			remoteDir = cfg.RemoteDir
			return nil
		}
		d, err := linuxssh.MkTemp(gctx, c, remoteDirPattern(cfg.SrcDir))
		if err != nil {
			return errors.Wrap(err, "failed to create remote directory")
		}
		remoteDir = d
		return nil
	})
	err = g.Wait()
	if tarPath != "" {
		defer os.Remove(tarPath)
	}
	if hst != nil {
		defer hst.Close(ctx)
	}
	if err != nil {
		return 0, err
	}

	if cfg.RemoteDir == "" && !cfg.Keep {
		// Registered after hst.Close above, so it runs while the
		// connection is still open.
		defer func() {
			if err := linuxssh.RemoveAll(ctx, hst, remoteDir); err != nil {
				logging.Infof(ctx, "Failed to remove %s:%s: %v", cfg.Target, remoteDir, err)
			}
		}()
	} else if cfg.Keep {
		defer logging.Infof(ctx, "Keeping %s:%s", cfg.Target, remoteDir)
	}

	if err := push(ctx, cfg, hst, tarPath, remoteDir); err != nil {
		return 0, err
	}
	return execCommand(ctx, cfg, remoteDir, stdout, stderr)
}

// connect establishes the SSH connection used to stage the source tree.
func connect(ctx context.Context, cfg *Config) (*ssh.Conn, error) {
	o := &ssh.Options{
		KeyFile:        cfg.KeyFile,
		KeyDir:         cfg.KeyDir,
		ConnectTimeout: cfg.ConnectTimeout,
		WarnFunc:       func(msg string) { logging.Info(ctx, msg) },
	}
	if err := ssh.ParseTarget(cfg.Target, o); err != nil {
		return nil, err
	}

	// The context bounds the dial and handshake together; a zero
	// ConnectTimeout leaves the attempt unbounded.
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	c, err := ssh.New(ctx, o)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", cfg.Target)
	}
	logging.Infof(ctx, "Connected to %s", cfg.Target)
	return c, nil
}

// push streams the archive at tarPath into remoteDir on the target.
func push(ctx context.Context, cfg *Config, hst *ssh.Conn, tarPath, remoteDir string) error {
	st := timing.Start(ctx, "push")
	defer st.End()
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := linuxssh.PutTar(ctx, hst, remoteDir, f)
	if err != nil {
		return errors.Wrapf(err, "failed to push source tree to %s", remoteDir)
	}
	logging.Infof(ctx, "Pushed %d byte(s) to %s:%s", n, cfg.Target, remoteDir)
	return nil
}

// execCommand runs cfg.Command in remoteDir through the local ssh client and
// pumps its output to stdout and stderr. It returns the command's exit code.
func execCommand(ctx context.Context, cfg *Config, remoteDir string, stdout, stderr io.Writer) (int, error) {
	st := timing.Start(ctx, "exec")
	defer st.End()

	args, err := sshArgs(cfg, remoteDir)
	if err != nil {
		return 0, err
	}
	logging.Debugf(ctx, "Running %s %s", cfg.SSHPath, strings.Join(args, " "))
	child := proc.Command(cfg.SSHPath, args...)
	child.TTY = cfg.TTY
	if err := child.Start(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to start ssh")
	}
	defer func() {
		for _, ch := range child.Channels() {
			ch.Close()
		}
	}()

	var routes []pump.Route
	for _, ch := range child.Channels() {
		w := stdout
		if ch.Name() == "stderr" {
			w = stderr
		}
		routes = append(routes, pump.Route{Channel: ch, Sink: w})
	}
	p := &pump.Pump{Routes: routes, Status: statusWriter(stderr)}
	code, err := p.Run(ctx, child)
	if err != nil {
		return 0, err
	}
	if code == sshFailureCode {
		logging.Debug(ctx, "Exit status 255 may indicate an ssh connection failure")
	}
	return code, nil
}

// sshArgs builds the argument list for the local ssh client. The command
// string follows the destination; everything before it is option territory,
// terminated with -- so that odd hostnames cannot be taken for options.
func sshArgs(cfg *Config, remoteDir string) ([]string, error) {
	var o ssh.Options
	if err := ssh.ParseTarget(cfg.Target, &o); err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(o.Hostname)
	if err != nil {
		return nil, err
	}
	args := []string{"-p", port}
	if cfg.KeyFile != "" {
		args = append(args, "-i", cfg.KeyFile)
	}
	if cfg.TTY {
		// The child itself runs on a local pseudo-terminal; -tt makes
		// ssh allocate one on the remote side as well.
		args = append(args, "-tt")
	}
	args = append(args, "--", o.User+"@"+host, ssh.ShellCommand(remoteDir, cfg.Command))
	return args, nil
}

// statusWriter returns the writer the liveness spinner is drawn on: stderr
// when it is a terminal, nil otherwise.
func statusWriter(stderr io.Writer) io.Writer {
	f, ok := stderr.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return f
}
