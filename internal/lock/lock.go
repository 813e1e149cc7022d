// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package lock provides an advisory, path-scoped lock that serializes runs
// against the same source tree.
//
// The lock is backed by flock(2), so mutual exclusion holds across processes
// on the same host as long as they derive the lock path the same way, and the
// kernel releases the lock automatically if the owning process dies.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/internal/logging"
)

const (
	// pollInterval is how often blocking acquisition retries.
	pollInterval = 10 * time.Millisecond

	// lockSuffix is appended to the source directory's base name to form
	// the lock file name.
	lockSuffix = ".remote_lock"
)

// clk is swapped with a fake clock in unit tests.
var clk clock.Clock = clock.NewClock()

// ErrBusy is reported by non-blocking Acquire when another process already
// holds the lock. Use errors.Is to test for it.
var ErrBusy = errors.New("lock is held by another process")

// Lock represents a held lock. Release it on every exit path, typically with
// defer.
type Lock struct {
	path string
	f    *os.File
}

// Path returns the conventional lock path for a source directory:
// <system temp dir>/<base name>.remote_lock. All invocations that target the
// same tree derive the same path, which is what makes them serialize.
func Path(srcDir string) string {
	return filepath.Join(os.TempDir(), filepath.Base(filepath.Clean(srcDir))+lockSuffix)
}

// Acquire takes an exclusive lock on path, creating the lock file if needed.
//
// In non-blocking mode a single attempt is made; if the lock is held
// elsewhere, the returned error wraps ErrBusy. In blocking mode the attempt
// is retried every 10ms until it succeeds, with no upper bound on the total
// wait: a holder that never releases starves the caller. Cancel ctx to give
// up waiting.
//
// Failures other than contention (opening the lock file, flock itself) are
// returned as ordinary errors, distinct from ErrBusy.
func Acquire(ctx context.Context, path string, blocking bool) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock file")
	}

	logged := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{path: path, f: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, errors.Wrapf(err, "failed to lock %s", path)
		}
		if !blocking {
			f.Close()
			return nil, errors.Wrapf(ErrBusy, "failed to lock %s", path)
		}
		if err := ctx.Err(); err != nil {
			f.Close()
			return nil, err
		}
		if !logged {
			logging.Infof(ctx, "Lock %s is held by another process; waiting", path)
			logged = true
		}
		clk.Sleep(pollInterval)
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. It is safe to call on an already
// released lock, in which case it does nothing.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return errors.Wrapf(err, "failed to unlock %s", l.path)
	}
	return nil
}
