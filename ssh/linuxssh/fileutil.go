// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package linuxssh provides Linux specific operations conducted via SSH.
package linuxssh

import (
	"context"
	"io"
	"strings"

	"go.chromium.org/telerun/errors"
	"go.chromium.org/telerun/ssh"
)

// countingReader is an io.Reader wrapper that counts the transferred bytes.
type countingReader struct {
	r     io.Reader
	bytes int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	c, err := r.r.Read(p)
	r.bytes += int64(c)
	return c, err
}

// PutTar streams an uncompressed tar archive from r and extracts it into dir
// on the host. dir must already exist. bytes is the amount of data sent over
// the wire.
func PutTar(ctx context.Context, s *ssh.Conn, dir string, r io.Reader) (bytes int64, err error) {
	cr := &countingReader{r: r}
	cmd := s.Command("tar", "-x", "--no-same-owner", "-p", "-C", dir)
	cmd.Stdin = cr
	if err := cmd.Run(ctx); err != nil {
		return 0, errors.Wrap(err, "remote tar failed")
	}
	return cr.bytes, nil
}

// MkTemp creates a new temporary directory on the host using pattern as the
// mktemp template and returns its path.
func MkTemp(ctx context.Context, s *ssh.Conn, pattern string) (string, error) {
	out, err := s.Command("mktemp", "-d", "--tmpdir", pattern).Output(ctx)
	if err != nil {
		return "", errors.Wrap(err, "remote mktemp failed")
	}
	return strings.TrimSpace(string(out)), nil
}

// RemoveAll recursively removes path and its children on the host.
func RemoveAll(ctx context.Context, s *ssh.Conn, path string) error {
	if err := s.Command("rm", "-rf", "--", path).Run(ctx); err != nil {
		return errors.Wrap(err, "remote rm failed")
	}
	return nil
}
