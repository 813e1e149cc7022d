// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sshtest

import (
	"context"
	"crypto/rsa"
	"os"

	"go.chromium.org/telerun/ssh"
)

// TestData contains common data that can be used by tests that interact with
// an SSHServer.
type TestData struct {
	Srv         *SSHServer
	UserKeyFile string
}

// NewTestData initializes and returns a TestData struct. Panics on error.
func NewTestData(userKey, hostKey *rsa.PrivateKey, handler ExecHandler) *TestData {
	d := TestData{}
	var err error
	if d.Srv, err = NewSSHServer(&userKey.PublicKey, hostKey, handler); err != nil {
		panic(err)
	}
	if d.UserKeyFile, err = WriteKey(userKey); err != nil {
		d.Srv.Close()
		panic(err)
	}
	return &d
}

// Close stops the SSHServer and deletes the user key file.
func (d *TestData) Close() {
	d.Srv.Close()
	os.Remove(d.UserKeyFile)
}

// ConnectToServer establishes a connection to srv using key.
// base is used as a base set of options.
func ConnectToServer(ctx context.Context, srv *SSHServer, key *rsa.PrivateKey, base *ssh.Options) (*ssh.Conn, error) {
	keyFile, err := WriteKey(key)
	if err != nil {
		return nil, err
	}
	defer os.Remove(keyFile)

	o := *base
	o.KeyFile = keyFile
	if err := ssh.ParseTarget(srv.Addr().String(), &o); err != nil {
		return nil, err
	}
	return ssh.New(ctx, &o)
}
