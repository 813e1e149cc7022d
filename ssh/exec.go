// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/shutil"
)

// Cmd represents an external command being prepared or run on a remote host.
//
// This type implements an interface similar to os/exec, but there are several
// notable differences.
//
// Command does not accept context.Context, but Cmd's methods do. This is to
// support use cases where we want to use different deadlines for different
// operations (e.g. Start and Wait) on the same command execution.
type Cmd struct {
	// Args holds command line arguments, including the command as Args[0].
	Args []string

	// Dir specifies the working directory of the command.
	// If Dir is the empty string, Run runs the command in the default
	// directory, typically the home directory of the SSH user.
	Dir string

	// Stdin specifies the process's standard input.
	Stdin io.Reader

	// Stdout specifies the process's standard output.
	Stdout io.Writer

	// Stderr specifies the process's standard error.
	Stderr io.Writer

	conn *Conn

	state cmdState
	abort chan struct{} // closed when Abort is called
	sess  *ssh.Session
}

// cmdState represents a state of a Cmd. cmdState is used to prevent typical
// misuse of Cmd methods, though it does not catch all concurrent cases.
type cmdState int

const (
	stateNew     cmdState = iota // newly created
	stateStarted                 // after Start is called
	stateClosing                 // after waitAndClose is called
	stateDone                    // after waitAndClose is returned or initialization failed
)

func (s cmdState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateStarted:
		return "started"
	case stateClosing:
		return "closing"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("invalid(%d)", int(s))
	}
}

// Command returns the Cmd struct to execute the named program with the given
// arguments.
//
// It is fine to call this method with nil receiver; subsequent method calls
// will just fail.
func (s *Conn) Command(name string, args ...string) *Cmd {
	return &Cmd{
		Args:  append([]string{name}, args...),
		conn:  s,
		abort: make(chan struct{}),
	}
}

// Run starts the specified command and waits for it to complete.
//
// The command is aborted when ctx's deadline is reached.
func (c *Cmd) Run(ctx context.Context) error {
	if err := c.startSession(ctx); err != nil {
		return err
	}
	return c.waitAndClose(ctx, func() error {
		return c.sess.Run(c.shellCmd())
	})
}

// Output runs the command and returns its standard output.
//
// The command is aborted when ctx's deadline is reached.
func (c *Cmd) Output(ctx context.Context) ([]byte, error) {
	if err := c.startSession(ctx); err != nil {
		return nil, err
	}
	var out []byte
	err := c.waitAndClose(ctx, func() error {
		var err error
		out, err = c.sess.Output(c.shellCmd())
		return err
	})
	return out, err
}

// Start starts the specified command but does not wait for it to complete.
//
// The command is aborted when ctx's deadline is reached.
func (c *Cmd) Start(ctx context.Context) error {
	if err := c.startSession(ctx); err != nil {
		return err
	}
	if err := doAsync(ctx, func() error {
		return c.sess.Start(c.shellCmd())
	}, func() {
		c.sess.Close()
	}); err != nil {
		c.state = stateDone
		return err
	}
	return nil
}

// Wait waits for the command to exit.
//
// This method can be called only if the command was started by Start. It is
// an error to call this method multiple times, but it will not panic as long
// as it is not called in parallel.
//
// The command is aborted when ctx's deadline is reached. Note that the
// deadline of the context passed to Start also applies.
func (c *Cmd) Wait(ctx context.Context) error {
	if c.state != stateStarted {
		return errors.New("process not active")
	}
	return c.waitAndClose(ctx, func() error {
		return c.sess.Wait()
	})
}

// Abort requests to abort the command execution.
//
// This method does not block, but you still need to call Wait. It is safe to
// call this method while calling Wait/Run/Output in another goroutine. After
// calling this method, Wait/Run/Output will return immediately. This method
// can be called at most once.
func (c *Cmd) Abort() {
	close(c.abort)
}

// startSession starts a new SSH session and sets c.sess.
func (c *Cmd) startSession(ctx context.Context) error {
	if c.state != stateNew {
		return errors.New("can not start sessions multiple times")
	}
	if c.conn == nil {
		return errors.New("SSH connection is not available")
	}

	// Set the state early to reject startSession to be called twice.
	c.state = stateStarted

	var sess *ssh.Session
	if err := doAsync(ctx, func() error {
		var err error
		sess, err = c.conn.cl.NewSession()
		if err != nil {
			return err
		}
		sess.Stdin = c.Stdin
		sess.Stdout = c.Stdout
		sess.Stderr = c.Stderr
		return nil
	}, func() {
		if sess != nil {
			sess.Close()
		}
	}); err != nil {
		c.state = stateDone
		return errors.Wrap(err, "failed to create session")
	}

	c.sess = sess
	return nil
}

// waitAndClose runs f which waits for the command to finish, and closes the
// session.
func (c *Cmd) waitAndClose(ctx context.Context, f func() error) error {
	if c.state != stateStarted {
		return errors.Errorf("waitAndClose called in invalid state (%v)", c.state)
	}

	c.state = stateClosing

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel the context when Abort is called.
	go func() {
		select {
		case <-c.abort:
			cancel()
		case <-ctx.Done():
		}
	}()

	retErr := doAsync(ctx, f, nil)

	if err := doAsync(ctx, func() error {
		c.sess.Signal(ssh.SIGKILL) // in case the command is still running
		return c.sess.Close()
	}, nil); err != nil && err != io.EOF && retErr == nil { // Close returns io.EOF on success
		retErr = err
	}

	c.state = stateDone
	return retErr
}

// ShellCommand builds the shell command line that runs args on the remote
// host. If dir is non-empty, the command runs there instead of the login
// directory and fails with exit status 125 if the directory is missing.
func ShellCommand(dir string, args []string) string {
	cmd := "exec " + shutil.EscapeSlice(args)
	if dir != "" {
		// Return 125 (chosen arbitrarily) if the directory does not exist.
		cmd = fmt.Sprintf("cd %s > /dev/null 2>&1 || exit 125; %s", shutil.Escape(dir), cmd)
	}
	return cmd
}

func (c *Cmd) shellCmd() string {
	return ShellCommand(c.Dir, c.Args)
}
