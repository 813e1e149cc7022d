// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package proc starts local child processes whose output is consumed by
// cooperative polling rather than by per-stream goroutines.
//
// Output channels expose raw file descriptors so that callers can use
// poll(2) and non-blocking reads directly. os.File is deliberately avoided
// for reads: its Read re-enters the runtime poller and blocks even when the
// descriptor is non-blocking.
package proc

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/internal/logging"
)

// Cmd represents a local child process.
type Cmd struct {
	// Path is the name or path of the program. It is looked up in PATH if it
	// does not contain a separator.
	Path string
	// Args are the arguments to the program, not including the program name.
	Args []string
	// TTY makes the child run on a pseudo-terminal. Its stdout and stderr are
	// then merged into a single channel named "tty".
	TTY bool
	// Stdin is handed to the child as its standard input. It must be an
	// *os.File; leaving it nil gives the child /dev/null. Ignored when TTY
	// is set.
	Stdin *os.File

	pid      int
	channels []*Channel
	exited   bool
	status   unix.WaitStatus
}

// Command returns a Cmd to run name with the given arguments.
func Command(name string, args ...string) *Cmd {
	return &Cmd{Path: name, Args: args}
}

// Start starts the process. The output channels are available from Channels
// once it returns successfully.
func (c *Cmd) Start(ctx context.Context) error {
	if c.TTY {
		return c.startTTY(ctx)
	}

	cmd := exec.Command(c.Path, c.Args...)
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		return errors.Wrap(err, "failed to create stdout pipe")
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		unix.Close(stdoutR)
		stdoutW.Close()
		return errors.Wrap(err, "failed to create stderr pipe")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	err = cmd.Start()
	// The child owns its copies of the write ends now (or was never started);
	// ours must go so that the read ends see EOF when it exits.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		unix.Close(stdoutR)
		unix.Close(stderrR)
		return errors.Wrapf(err, "failed to start %s", c.Path)
	}
	c.pid = cmd.Process.Pid
	c.channels = []*Channel{
		{name: "stdout", fd: stdoutR},
		{name: "stderr", fd: stderrR},
	}
	logging.Debugf(ctx, "Started %s (pid %d)", c.Path, c.pid)
	return nil
}

func (c *Cmd) startTTY(ctx context.Context) error {
	cmd := exec.Command(c.Path, c.Args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return errors.Wrapf(err, "failed to start %s on a pty", c.Path)
	}
	c.pid = cmd.Process.Pid
	// Grab the descriptor once. Channel reads bypass os.File, so the blocking
	// mode switch done by Fd is irrelevant; the file is retained only to keep
	// the descriptor alive and to close it.
	c.channels = []*Channel{
		{name: "tty", fd: int(f.Fd()), file: f},
	}
	logging.Debugf(ctx, "Started %s (pid %d) on %s", c.Path, c.pid, f.Name())
	return nil
}

func pipe() (int, *os.File, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return 0, nil, err
	}
	return p[0], os.NewFile(uintptr(p[1]), "|1"), nil
}

// Pid returns the process ID of the started process.
func (c *Cmd) Pid() int {
	return c.pid
}

// Channels returns the output channels of the started process.
func (c *Cmd) Channels() []*Channel {
	return c.channels
}

// Poll reaps the process if it has exited and reports whether it did. It
// never blocks. Once Poll has reported an exit it keeps reporting it.
func (c *Cmd) Poll() (bool, error) {
	if c.exited {
		return true, nil
	}
	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, errors.Wrapf(err, "failed to poll process %d", c.pid)
		}
		if pid == 0 {
			return false, nil
		}
		break
	}
	c.exited = true
	c.status = ws
	return true, nil
}

// ExitCode returns the exit code of the process, following the shell
// convention of 128+signo for signaled exits. It is meaningful only after
// Poll has reported the exit.
func (c *Cmd) ExitCode() int {
	if c.status.Signaled() {
		return 128 + int(c.status.Signal())
	}
	return c.status.ExitStatus()
}

// Channel is a readable output stream of a process, addressed by its raw
// file descriptor.
type Channel struct {
	name   string
	fd     int
	file   *os.File // owns fd when non-nil
	closed bool
}

// Name identifies the channel ("stdout", "stderr" or "tty").
func (c *Channel) Name() string {
	return c.name
}

// FD returns the raw file descriptor for use with poll(2).
func (c *Channel) FD() int {
	return c.fd
}

// SetNonblock puts the descriptor into non-blocking mode.
func (c *Channel) SetNonblock() error {
	if err := unix.SetNonblock(c.fd, true); err != nil {
		return errors.Wrapf(err, "failed to make %s non-blocking", c.name)
	}
	return nil
}

// Read reads up to len(p) bytes. It returns io.EOF once the stream is
// exhausted, and unix.EAGAIN when a non-blocking read finds no data.
func (c *Channel) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Close releases the descriptor. It is safe to call more than once.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.file != nil {
		return c.file.Close()
	}
	return unix.Close(c.fd)
}
