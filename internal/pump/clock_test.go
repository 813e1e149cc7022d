// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pump

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
	"golang.org/x/sys/unix"

	"go.chromium.org/telerun/internal/proc"
)

// useFakeClock installs a fake clock initialized with the UNIX epoch.
// restore must be called later to uninstall the fake clock.
func useFakeClock() (fclk *fakeclock.FakeClock, restore func()) {
	fclk = fakeclock.NewFakeClock(time.Unix(0, 0))
	clk = fclk
	return fclk, func() { clk = clock.NewClock() }
}

func TestRunPacing(t *testing.T) {
	fclk, restore := useFakeClock()
	defer restore()

	c := proc.Command("sleep", "30")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		for _, ch := range c.Channels() {
			ch.Close()
		}
	}()

	var status bytes.Buffer
	var routes []Route
	for _, ch := range c.Channels() {
		routes = append(routes, Route{Channel: ch, Sink: io.Discard})
	}
	p := &Pump{Routes: routes, Status: &status}

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := p.Run(context.Background(), c)
		done <- result{code, err}
	}()

	// Let the loop run a few iterations, then take the child down and keep
	// the clock moving until the loop observes the exit.
	for i := 0; i < 3; i++ {
		fclk.WaitForWatcherAndIncrement(interval)
	}
	if err := unix.Kill(c.Pid(), unix.SIGKILL); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	var res result
loop:
	for {
		select {
		case res = <-done:
			break loop
		case <-time.After(10 * time.Millisecond):
			if fclk.WatcherCount() > 0 {
				fclk.Increment(interval)
			}
		}
	}

	if res.err != nil {
		t.Fatalf("Run failed: %v", res.err)
	}
	if want := 128 + int(unix.SIGKILL); res.code != want {
		t.Errorf("Run returned exit code %d; want %d", res.code, want)
	}
	// One glyph per iteration; three iterations ran before the kill.
	if ticks := strings.Count(status.String(), "\b"); ticks < 3 {
		t.Errorf("Spinner advanced %d time(s); want at least 3", ticks)
	}
}
