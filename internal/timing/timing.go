// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timing is used to collect and write timing information about a run.
package timing

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type key int // unexported context.Context key type to avoid collisions with other packages

const (
	logKey key = iota // key used for attaching a Log to a context.Context
)

type timeFunc func() time.Time

// Log contains timing information about the stages of a run.
// It is safe for concurrent use.
type Log struct {
	Stages  []*Stage `json:"stages"`
	fakeNow timeFunc // if unset, time.Now is called

	mu sync.Mutex // protects Stages
}

// NewContext returns a new context that carries value l.
func NewContext(ctx context.Context, l *Log) context.Context {
	return context.WithValue(ctx, logKey, l)
}

// FromContext returns the Log value stored in ctx, if any.
func FromContext(ctx context.Context) (*Log, bool) {
	l, ok := ctx.Value(logKey).(*Log)
	return l, ok
}

// Start starts and returns a new top-level Stage named name within the Log
// attached to ctx. If no Log is attached to ctx, nil is returned. It is safe
// to call End on a nil stage.
//
// Example usage to report the time used until the end of the current function:
//
//	defer timing.Start(ctx, "my_stage").End()
func Start(ctx context.Context, name string) *Stage {
	l, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return l.Start(name)
}

// Empty returns true if l doesn't contain any stages.
func (l *Log) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Stages) == 0
}

// Write writes timing information to w as JSON, consisting of an array
// of stages, each represented by an array consisting of the stage's duration,
// name, and an optional array of child stages.
//
// Note that this format is lossy and differs from that used by json.Marshaler.
//
// Output is intended to improve human readability:
//
//	[[4.000, "stage0", [
//	         [3.000, "stage1"],
//	         [1.000, "stage2"]]],
//	 [0.531, "stage3"]]
func (l *Log) Write(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Use a bufio.Writer to avoid any further writes after an error is encountered.
	bw := bufio.NewWriter(w)

	io.WriteString(bw, "[")
	for i, s := range l.Stages {
		// The first top-level stage is on the same line as the opening '['.
		// Indent its children and all subsequent stages by a single space so they line up.
		var indent string
		if i > 0 {
			indent = " "
		}
		if err := s.write(bw, indent, " ", i == len(l.Stages)-1); err != nil {
			return err
		}
	}

	io.WriteString(bw, "]\n")
	return bw.Flush() // returns first error encountered during earlier writes
}

// Start creates and returns a new top-level timing stage. Stage.End should be
// called when the stage is completed. Stages of overlapping phases are
// recorded as siblings; use Stage.StartChild to record nesting.
func (l *Log) Start(name string) *Stage {
	now := l.fakeNow
	if now == nil {
		now = time.Now
	}

	s := &Stage{
		Name:      name,
		StartTime: now(),
		now:       now,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Stages = append(l.Stages, s)
	return s
}

// Stage represents a discrete unit of work that is being timed.
type Stage struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Children  []*Stage  `json:"children"`

	mu  sync.Mutex // protects EndTime and Children
	now timeFunc
}

func (s *Stage) clock() timeFunc {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

// StartChild creates and returns a new named timing stage as a child of s.
// If s has already ended, nil is returned; it is safe to call End on a nil
// stage.
func (s *Stage) StartChild(name string) *Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.EndTime.IsZero() {
		return nil
	}
	c := &Stage{
		Name:      name,
		StartTime: s.clock()(),
		now:       s.now,
	}
	s.Children = append(s.Children, c)
	return c
}

// Elapsed returns the amount of time that passed between the start and end of the stage.
// If the stage hasn't been completed, it returns the time since the start of the stage.
func (s *Stage) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed()
}

func (s *Stage) elapsed() time.Duration {
	if s.EndTime.IsZero() {
		return s.clock()().Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// End ends the stage. Child stages are recursively examined and also ended
// (although we expect them to have already been ended). It is safe to call
// End on a nil stage.
func (s *Stage) End() {
	// Handle nil receivers returned by the package-level Start function.
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.EndTime.IsZero() {
		return
	}
	for _, c := range s.Children {
		c.End()
	}
	s.EndTime = s.clock()()
}

// write writes information about the stage and its children to w as a JSON array.
// The first line of output is indented by initialIndent, while any subsequent lines (e.g.
// for child stages) are indented by followIndent. last should be true if this is the last
// entry in its parent array; otherwise a trailing comma and newline are appended.
// The caller is responsible for checking w for errors encountered while writing.
func (s *Stage) write(w *bufio.Writer, initialIndent, followIndent string, last bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Start the stage's array.
	mn, err := json.Marshal(&s.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s[%0.3f, %s", initialIndent, s.elapsed().Seconds(), mn)

	// Print children in a nested array.
	if len(s.Children) > 0 {
		io.WriteString(w, ", [\n")
		ci := followIndent + strings.Repeat(" ", 8)
		for i, c := range s.Children {
			if err := c.write(w, ci, ci, i == len(s.Children)-1); err != nil {
				return err
			}
		}
		io.WriteString(w, "]")
	}

	// End the stage's array.
	io.WriteString(w, "]")
	if !last {
		io.WriteString(w, ",\n")
	}
	return nil
}
