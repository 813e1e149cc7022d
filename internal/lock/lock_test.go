// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"

	"go.chromium.org/telerun/testutil"
)

func TestPath(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want string
	}{
		{"/home/user/mytree", "mytree.remote_lock"},
		{"/home/user/mytree/", "mytree.remote_lock"},
		{"rel/dir", "dir.remote_lock"},
	} {
		want := filepath.Join(os.TempDir(), tc.want)
		if got := Path(tc.src); got != want {
			t.Errorf("Path(%q) = %q; want %q", tc.src, got, want)
		}
	}
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.remote_lock")
	ctx := context.Background()

	l, err := Acquire(ctx, path, false)
	if err != nil {
		t.Fatalf("Acquire(%q) failed: %v", path, err)
	}
	if got := l.Path(); got != path {
		t.Errorf("Path() = %q; want %q", got, path)
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	// Releasing again is a no-op.
	if err := l.Release(); err != nil {
		t.Errorf("Second Release failed: %v", err)
	}

	// The lock must be acquirable again after release.
	l2, err := Acquire(ctx, path, false)
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	l2.Release()
}

func TestAcquireBusy(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.remote_lock")
	ctx := context.Background()

	held, err := Acquire(ctx, path, false)
	if err != nil {
		t.Fatalf("Acquire(%q) failed: %v", path, err)
	}
	defer held.Release()

	if _, err := Acquire(ctx, path, false); err == nil {
		t.Error("Non-blocking Acquire succeeded while lock was held")
	} else if !errors.Is(err, ErrBusy) {
		t.Errorf("Non-blocking Acquire returned %v; want ErrBusy", err)
	}
}

func TestAcquireError(t *testing.T) {
	// Opening a directory as a lock file fails with an ordinary error,
	// not ErrBusy.
	dir := testutil.TempDir(t)

	if _, err := Acquire(context.Background(), dir, false); err == nil {
		t.Error("Acquire on a directory unexpectedly succeeded")
	} else if errors.Is(err, ErrBusy) {
		t.Errorf("Acquire on a directory returned ErrBusy: %v", err)
	}
}

func TestAcquireBlocking(t *testing.T) {
	fake := fakeclock.NewFakeClock(time.Unix(0, 0))
	clk = fake
	defer func() { clk = clock.NewClock() }()

	path := filepath.Join(testutil.TempDir(t), "tree.remote_lock")
	ctx := context.Background()

	held, err := Acquire(ctx, path, false)
	if err != nil {
		t.Fatalf("Acquire(%q) failed: %v", path, err)
	}

	type result struct {
		l   *Lock
		err error
	}
	ch := make(chan result, 1)
	go func() {
		l, err := Acquire(ctx, path, true)
		ch <- result{l, err}
	}()

	// Let the waiter go through a few poll intervals; it must stay blocked
	// while the lock is held.
	for i := 0; i < 3; i++ {
		fake.WaitForWatcherAndIncrement(pollInterval)
	}
	select {
	case res := <-ch:
		t.Fatalf("Blocking Acquire returned (%v, %v) while lock was held", res.l, res.err)
	default:
	}

	if err := held.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// One more poll interval after release and the waiter should win.
	fake.WaitForWatcherAndIncrement(pollInterval)
	res := <-ch
	if res.err != nil {
		t.Fatalf("Blocking Acquire failed: %v", res.err)
	}
	res.l.Release()
}

func TestAcquireBlockingCanceled(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.remote_lock")

	held, err := Acquire(context.Background(), path, false)
	if err != nil {
		t.Fatalf("Acquire(%q) failed: %v", path, err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, path, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Blocking Acquire with canceled context returned %v; want %v", err, context.Canceled)
	}
}
