// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package archive builds filtered tar snapshots of a source tree for
// transfer to a remote host.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/internal/logging"
)

// ErrNotDir is returned by Build when the archive root does not exist or is
// not a directory.
var ErrNotDir = errors.New("not a directory")

// EscapeError reports a file whose resolved path falls outside the archive
// root. It aborts the whole build; no partial archive is produced.
type EscapeError struct {
	// Path is the offending path as seen by the walk, before resolution.
	Path string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("path %s resolves outside the archive root", e.Path)
}

// Entry is a single file selected for archiving.
type Entry struct {
	// Name is the archive-relative path of the file, with the root stripped.
	Name string
	// Path is the absolute path of the file on the local filesystem.
	Path string
}

// Archive is a set of files rooted at a source directory, ready to be
// serialized with WriteTar or WriteTemp.
type Archive struct {
	// Root is the absolute path of the source directory.
	Root string
	// Entries lists the selected files. They appear in the order the walk
	// yielded them; callers must not rely on any particular order.
	Entries []Entry
}

// Build walks the tree rooted at root and selects the regular files that pass
// every filter. Skipped files are reported to the debug log with the filter's
// reason. Symlinked files are resolved; a file resolving outside root aborts
// the build with an EscapeError. Build returns ErrNotDir (wrapped) if root
// does not exist or is not a directory.
func Build(ctx context.Context, root string, filters []Filter) (*Archive, error) {
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return nil, errors.Wrapf(ErrNotDir, "invalid archive root %s", root)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve archive root %s", root)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve archive root %s", root)
	}

	a := &Archive{Root: absRoot}
	seen := make(map[string]struct{})
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Stat follows symlinks, so a symlink to a regular file is a
		// candidate while sockets, FIFOs and dangling links are not.
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		for _, f := range filters {
			if reason, skip := f.Skip(rel); skip {
				logging.Debugf(ctx, "Skipping %s: %s", rel, reason)
				return nil
			}
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(resolved, resolvedRoot+string(os.PathSeparator)) {
			return &EscapeError{Path: path}
		}
		if _, ok := seen[resolved]; ok {
			return nil
		}
		seen[resolved] = struct{}{}
		a.Entries = append(a.Entries, Entry{Name: rel, Path: path})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build archive of %s", root)
	}
	return a, nil
}

// WriteTar serializes the archive as an uncompressed tar stream to w.
func (a *Archive) WriteTar(w io.Writer) error {
	tw := tar.NewWriter(w)
	for _, e := range a.Entries {
		if err := writeEntry(tw, e); err != nil {
			return errors.Wrapf(err, "failed to archive %s", e.Name)
		}
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "failed to finalize archive")
	}
	return nil
}

func writeEntry(tw *tar.Writer, e Entry) error {
	info, err := os.Stat(e.Path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(e.Name)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}

// WriteTemp serializes the archive to a file in the system temporary
// directory whose name ends with the source directory's base name, and
// returns its path. The caller is responsible for removing the file.
func (a *Archive) WriteTemp() (string, error) {
	f, err := os.CreateTemp("", "*."+filepath.Base(a.Root)+".tar")
	if err != nil {
		return "", errors.Wrap(err, "failed to create archive file")
	}
	if err := a.WriteTar(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "failed to close archive file")
	}
	return f.Name(), nil
}
