// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pump forwards the output of a child process to local sinks from a
// single goroutine, using readiness polling over the process's channels.
package pump

import (
	"context"
	"io"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/internal/logging"
	"go.chromium.org/telerun/internal/proc"
)

const (
	// chunkSize bounds a single read from a channel.
	chunkSize = 128
	// pollTimeout bounds one readiness wait over the open channels.
	pollTimeout = 50 * time.Millisecond
	// interval paces iterations of the forwarding loop.
	interval = 100 * time.Millisecond
)

// clk is replaced in unit tests to use fake clocks.
var clk clock.Clock = clock.NewClock()

// flusher is implemented by sinks that buffer writes.
type flusher interface {
	Flush() error
}

// Route connects a process output channel to a local sink.
type Route struct {
	Channel *proc.Channel
	Sink    io.Writer
}

// Pump forwards process output along its routes until the process exits.
type Pump struct {
	Routes []Route
	// Status receives a cosmetic progress spinner while the process runs.
	// nil disables the spinner. It must not alias any route sink.
	Status io.Writer
}

// Run puts every route channel into non-blocking mode, forwards output until
// cmd exits, drains the channels one final time and returns cmd's exit code.
// A failed read marks its channel closed and is not fatal; all bytes read are
// forwarded. Run does not close the channels, and it does not return early on
// ctx cancellation: once the process is running the only way out is its exit.
// ctx is used for logging.
func (p *Pump) Run(ctx context.Context, cmd *proc.Cmd) (int, error) {
	type routeState struct {
		route Route
		open  bool
	}
	states := make([]routeState, len(p.Routes))
	for i, r := range p.Routes {
		if err := r.Channel.SetNonblock(); err != nil {
			return 0, err
		}
		states[i] = routeState{route: r, open: true}
	}

	buf := make([]byte, chunkSize)
	// drainChannel reads st's channel until it has no more data for now,
	// forwarding every chunk. On end of stream or failure the channel is
	// marked closed and no longer polled.
	drainChannel := func(st *routeState) {
		for {
			n, err := st.route.Channel.Read(buf)
			if n > 0 {
				if werr := forward(st.route.Sink, buf[:n]); werr != nil {
					logging.Debugf(ctx, "Failed to forward %s: %v", st.route.Channel.Name(), werr)
					st.open = false
					return
				}
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err != nil {
				if err != io.EOF {
					logging.Debugf(ctx, "Failed to read %s: %v", st.route.Channel.Name(), err)
				}
				st.open = false
				return
			}
		}
	}

	spin := newSpinner(p.Status)
	for {
		exited, err := cmd.Poll()
		if err != nil {
			return 0, err
		}
		if exited {
			break
		}

		fds := make([]unix.PollFd, 0, len(states))
		idx := make([]int, 0, len(states))
		for i := range states {
			if states[i].open {
				fds = append(fds, unix.PollFd{Fd: int32(states[i].route.Channel.FD()), Events: unix.POLLIN})
				idx = append(idx, i)
			}
		}
		if len(fds) > 0 {
			for {
				_, err := unix.Poll(fds, int(pollTimeout.Milliseconds()))
				if err == unix.EINTR {
					continue
				}
				if err != nil {
					return 0, errors.Wrap(err, "failed to poll output channels")
				}
				break
			}
			for j := range fds {
				if fds[j].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) == 0 {
					continue
				}
				drainChannel(&states[idx[j]])
			}
		}

		spin.tick()
		clk.Sleep(interval)
	}

	// The process is gone but its channels may still hold buffered output.
	// Drain them all regardless of their state.
	for i := range states {
		drainChannel(&states[i])
	}
	spin.clear()
	return cmd.ExitCode(), nil
}

func forward(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}
