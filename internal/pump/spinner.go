// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pump

import "io"

// glyphs is the cyclic progress indicator alphabet.
const glyphs = `|/-\`

// spinner renders a one-character progress indicator that overwrites itself
// in place. All writes are cosmetic; failures are ignored.
type spinner struct {
	w       io.Writer
	i       int
	started bool
}

func newSpinner(w io.Writer) *spinner {
	return &spinner{w: w}
}

// tick draws the next glyph over the previous one.
func (s *spinner) tick() {
	if s.w == nil {
		return
	}
	if s.started {
		io.WriteString(s.w, "\b")
	}
	io.WriteString(s.w, string(glyphs[s.i]))
	s.i = (s.i + 1) % len(glyphs)
	s.started = true
}

// clear erases the glyph so that subsequent output starts on a clean column.
func (s *spinner) clear() {
	if s.w == nil || !s.started {
		return
	}
	io.WriteString(s.w, "\b \b")
	s.started = false
}
