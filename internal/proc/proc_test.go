// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package proc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"go.chromium.org/telerun/internal/proc"
	"go.chromium.org/telerun/testutil"
)

// waitExit polls c until the process exits and returns its exit code.
func waitExit(t *testing.T, c *proc.Cmd) int {
	t.Helper()
	for i := 0; i < 1000; i++ {
		exited, err := c.Poll()
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if exited {
			return c.ExitCode()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Process did not exit")
	return 0
}

// drain reads ch until it is closed. Call it only after the process exited,
// so that reads cannot block indefinitely.
func drain(t *testing.T, ch *proc.Channel) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 128)
	for {
		n, err := ch.Read(buf)
		out = append(out, buf[:n]...)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			return string(out)
		}
	}
}

func channelByName(t *testing.T, c *proc.Cmd, name string) *proc.Channel {
	t.Helper()
	for _, ch := range c.Channels() {
		if ch.Name() == name {
			return ch
		}
	}
	t.Fatalf("Process has no channel %q", name)
	return nil
}

func closeChannels(c *proc.Cmd) {
	for _, ch := range c.Channels() {
		ch.Close()
	}
}

func TestOutput(t *testing.T) {
	t.Parallel()
	c := proc.Command("sh", "-c", "echo out; echo err 1>&2")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer closeChannels(c)

	if code := waitExit(t, c); code != 0 {
		t.Errorf("Process exited with %d; want 0", code)
	}
	if out := drain(t, channelByName(t, c, "stdout")); out != "out\n" {
		t.Errorf("stdout = %q; want %q", out, "out\n")
	}
	if out := drain(t, channelByName(t, c, "stderr")); out != "err\n" {
		t.Errorf("stderr = %q; want %q", out, "err\n")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	c := proc.Command("sh", "-c", "exit 3")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer closeChannels(c)

	if code := waitExit(t, c); code != 3 {
		t.Errorf("Process exited with %d; want 3", code)
	}
}

func TestKilled(t *testing.T) {
	t.Parallel()
	c := proc.Command("sleep", "30")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer closeChannels(c)

	if exited, err := c.Poll(); err != nil {
		t.Fatalf("Poll failed: %v", err)
	} else if exited {
		t.Fatal("Poll reported an exit for a running process")
	}
	if err := unix.Kill(c.Pid(), unix.SIGKILL); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if code := waitExit(t, c); code != 128+int(unix.SIGKILL) {
		t.Errorf("Process exited with %d; want %d", code, 128+int(unix.SIGKILL))
	}
}

func TestNonblockingRead(t *testing.T) {
	t.Parallel()
	c := proc.Command("sh", "-c", "sleep 0.3; echo done")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer closeChannels(c)

	ch := channelByName(t, c, "stdout")
	if err := ch.SetNonblock(); err != nil {
		t.Fatalf("SetNonblock failed: %v", err)
	}
	buf := make([]byte, 128)
	if n, err := ch.Read(buf); err != unix.EAGAIN {
		t.Errorf("Read before output returned (%d, %v); want EAGAIN", n, err)
	}
	if code := waitExit(t, c); code != 0 {
		t.Errorf("Process exited with %d; want 0", code)
	}
	if out := drain(t, ch); out != "done\n" {
		t.Errorf("stdout = %q; want %q", out, "done\n")
	}
}

func TestStdin(t *testing.T) {
	t.Parallel()
	td := testutil.TempDir(t)
	fn := filepath.Join(td, "input.txt")
	if err := os.WriteFile(fn, []byte("ping\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	c := proc.Command("cat")
	c.Stdin = f
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer closeChannels(c)

	if code := waitExit(t, c); code != 0 {
		t.Errorf("Process exited with %d; want 0", code)
	}
	if out := drain(t, channelByName(t, c, "stdout")); out != "ping\n" {
		t.Errorf("stdout = %q; want %q", out, "ping\n")
	}
}

func TestTTY(t *testing.T) {
	t.Parallel()
	c := proc.Command("sh", "-c", "echo hi")
	c.TTY = true
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer closeChannels(c)

	if n := len(c.Channels()); n != 1 {
		t.Fatalf("Process has %d channels; want 1", n)
	}
	ch := channelByName(t, c, "tty")
	if code := waitExit(t, c); code != 0 {
		t.Errorf("Process exited with %d; want 0", code)
	}
	// The pty cooks the output, so match loosely.
	if out := drain(t, ch); !strings.Contains(out, "hi") {
		t.Errorf("tty output = %q; want it to contain %q", out, "hi")
	}
}

func TestStartError(t *testing.T) {
	t.Parallel()
	c := proc.Command(filepath.Join(testutil.TempDir(t), "missing"))
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start unexpectedly succeeded for a missing binary")
	}
}
