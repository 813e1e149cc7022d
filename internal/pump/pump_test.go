// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pump_test

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"go.chromium.org/telerun/internal/proc"
	"go.chromium.org/telerun/internal/pump"
)

func startShell(t *testing.T, script string) *proc.Cmd {
	t.Helper()
	c := proc.Command("sh", "-c", script)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		for _, ch := range c.Channels() {
			ch.Close()
		}
	})
	return c
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

func TestRunForwardsStreams(t *testing.T) {
	t.Parallel()
	c := startShell(t, "echo OUT1; echo ERR1 1>&2; sleep 0.2; echo OUT2; echo ERR2 1>&2")

	var out, errOut bytes.Buffer
	p := &pump.Pump{Routes: []pump.Route{
		{Channel: channelByName(t, c, "stdout"), Sink: &out},
		{Channel: channelByName(t, c, "stderr"), Sink: &errOut},
	}}
	code, err := p.Run(context.Background(), c)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Run returned exit code %d; want 0", code)
	}
	if want := "OUT1\nOUT2\n"; out.String() != want {
		t.Errorf("stdout sink = %q; want %q", out.String(), want)
	}
	if want := "ERR1\nERR2\n"; errOut.String() != want {
		t.Errorf("stderr sink = %q; want %q", errOut.String(), want)
	}
}

func TestRunExitCode(t *testing.T) {
	t.Parallel()
	c := startShell(t, "echo x; exit 3")

	var out bytes.Buffer
	p := &pump.Pump{Routes: []pump.Route{{Channel: channelByName(t, c, "stdout"), Sink: &out}}}
	code, err := p.Run(context.Background(), c)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 3 {
		t.Errorf("Run returned exit code %d; want 3", code)
	}
	if want := "x\n"; out.String() != want {
		t.Errorf("stdout sink = %q; want %q", out.String(), want)
	}
}

func TestRunLargeOutput(t *testing.T) {
	t.Parallel()
	// The output exceeds the kernel pipe buffer, so the child blocks until
	// the pump drains it.
	c := startShell(t, "seq 1 20000")

	var out bytes.Buffer
	p := &pump.Pump{Routes: []pump.Route{{Channel: channelByName(t, c, "stdout"), Sink: &out}}}
	code, err := p.Run(context.Background(), c)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Run returned exit code %d; want 0", code)
	}
	var want bytes.Buffer
	for i := 1; i <= 20000; i++ {
		fmt.Fprintf(&want, "%d\n", i)
	}
	if out.Len() != want.Len() {
		t.Errorf("stdout sink has %d bytes; want %d", out.Len(), want.Len())
	}
	if !bytes.Equal(out.Bytes(), want.Bytes()) {
		t.Error("stdout sink does not match the bytes the process wrote")
	}
}

// recordingSink counts flushes so tests can tell output was not left sitting
// in a buffer.
type recordingSink struct {
	bytes.Buffer
	flushes int
}

func (s *recordingSink) Flush() error {
	s.flushes++
	return nil
}

func TestRunFlushesSinks(t *testing.T) {
	t.Parallel()
	c := startShell(t, "echo hello")

	var out recordingSink
	p := &pump.Pump{Routes: []pump.Route{{Channel: channelByName(t, c, "stdout"), Sink: &out}}}
	if _, err := p.Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := "hello\n"; out.String() != want {
		t.Errorf("stdout sink = %q; want %q", out.String(), want)
	}
	if out.flushes == 0 {
		t.Error("Run never flushed the sink")
	}
}

func TestRunSpinner(t *testing.T) {
	t.Parallel()
	c := startShell(t, "echo data; sleep 0.3")

	var out, status bytes.Buffer
	p := &pump.Pump{
		Routes: []pump.Route{{Channel: channelByName(t, c, "stdout"), Sink: &out}},
		Status: &status,
	}
	if _, err := p.Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := "data\n"; out.String() != want {
		t.Errorf("stdout sink = %q; want %q", out.String(), want)
	}
	s := status.String()
	if s == "" {
		t.Fatal("Run wrote no spinner output")
	}
	if matched := regexp.MustCompile(`^[|/\-\\\x08 ]+$`).MatchString(s); !matched {
		t.Errorf("Spinner output %q contains unexpected characters", s)
	}
	if !strings.HasSuffix(s, "\b \b") {
		t.Errorf("Spinner output %q was not cleared", s)
	}
}

func TestRunNoRoutes(t *testing.T) {
	t.Parallel()
	c := startShell(t, "exit 7")

	p := &pump.Pump{}
	code, err := p.Run(context.Background(), c)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("Run returned exit code %d; want 7", code)
	}
}
