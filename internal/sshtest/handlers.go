// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sshtest

import (
	"io"
	"os/exec"
	"strings"
)

// Process implements a simulated process started by the test SSH server.
type Process func(stdin io.Reader, stdout, stderr io.Writer) int

// Handler receives a command requested by an SSH client and decides whether
// to handle the request.
// If it returns true, a reply is sent to the client indicating that the
// command is accepted, and returned Process is called with
// stdin/stdout/stderr. If it returns false, the next handler is consulted.
type Handler func(cmd string) (Process, bool)

// ExactMatchHandler constructs a Handler that replies to a command request by
// proc if it exactly matches with cmd.
func ExactMatchHandler(cmd string, proc Process) Handler {
	return func(c string) (Process, bool) {
		if c != cmd {
			return nil, false
		}
		return proc, true
	}
}

// ShellHandler constructs a Handler that replies to a command request by
// running it as is with "sh -c" if its prefix matches with the given prefix.
func ShellHandler(prefix string) Handler {
	return func(c string) (Process, bool) {
		if !strings.HasPrefix(c, prefix) {
			return nil, false
		}
		return func(stdin io.Reader, stdout, stderr io.Writer) int {
			cmd := exec.Command("sh", "-c", c)
			cmd.Stdin = stdin
			cmd.Stdout = stdout
			cmd.Stderr = stderr
			err := cmd.Run()
			if err != nil {
				if xerr, ok := err.(*exec.ExitError); ok {
					return xerr.ExitCode()
				}
				return 255
			}
			return 0
		}, true
	}
}

// Dispatch builds an ExecHandler that hands each "exec" request to the first
// handler accepting its command. Requests no handler accepts are rejected.
func Dispatch(handlers ...Handler) ExecHandler {
	return func(req *ExecReq) {
		for _, handler := range handlers {
			proc, ok := handler(req.Cmd)
			if !ok {
				continue
			}
			req.Start(true)
			status := proc(req, req, req.Stderr())
			req.CloseOutput()
			req.End(status)
			return
		}
		req.Start(false)
	}
}
