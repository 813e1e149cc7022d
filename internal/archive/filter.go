// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

// Filter is a predicate deciding whether a candidate file should be excluded
// from an archive. rel is the file's path relative to the archive root. If the
// file should be skipped, a short human-readable reason is returned with
// skip=true.
type Filter interface {
	Skip(rel string) (reason string, skip bool)
}

// hiddenAllowList contains hidden names that stay in archives even though
// they start with a dot. Matching is by exact segment name, not prefix.
var hiddenAllowList = []string{
	".coveragerc",
	".gitignore",
	".gitmodules",
	".gitreview",
	".mailmap",
	".testr.conf",
}

// bytecodeExts lists extensions of compiled bytecode artifacts that never
// belong in a source snapshot. Matched case-insensitively.
var bytecodeExts = []string{".pyc", ".pyo"}

// DefaultFilters returns the fixed filter chain used for run and list
// operations: hidden path segments (with the conventional allow-list) and
// bytecode artifacts.
func DefaultFilters() []Filter {
	return []Filter{
		NewHiddenFilter(hiddenAllowList),
		NewExtensionFilter(bytecodeExts),
	}
}

// hiddenFilter skips files with a path segment starting with a dot unless the
// segment is allow-listed.
type hiddenFilter struct {
	allow []string
}

// NewHiddenFilter returns a Filter skipping paths that contain a hidden
// segment. Segments exactly matching a name in allow are kept.
func NewHiddenFilter(allow []string) Filter {
	return &hiddenFilter{allow: allow}
}

func (f *hiddenFilter) Skip(rel string) (string, bool) {
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(seg, ".") && !slices.Contains(f.allow, seg) {
			return fmt.Sprintf("hidden path segment %q", seg), true
		}
	}
	return "", false
}

// extensionFilter skips files whose extension is blocklisted.
type extensionFilter struct {
	exts []string
}

// NewExtensionFilter returns a Filter skipping files whose extension
// case-insensitively matches one of exts. Extensions include the leading dot
// and must be given in lower case.
func NewExtensionFilter(exts []string) Filter {
	return &extensionFilter{exts: exts}
}

func (f *extensionFilter) Skip(rel string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(rel))
	if ext != "" && slices.Contains(f.exts, ext) {
		return fmt.Sprintf("blocklisted extension %q", ext), true
	}
	return "", false
}
