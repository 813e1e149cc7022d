// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testutil_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/telerun/testutil"
)

func TestWriteAndReadFiles(t *testing.T) {
	t.Parallel()
	td := testutil.TempDir(t)

	want := map[string]string{
		"a.txt":         "first",
		"sub/dir/b.txt": "second",
		"sub/c.txt":     "",
	}
	if err := testutil.WriteFiles(td, want); err != nil {
		t.Fatal("WriteFiles failed: ", err)
	}

	got, err := testutil.ReadFiles(td)
	if err != nil {
		t.Fatal("ReadFiles failed: ", err)
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ReadFiles returned unexpected contents (-got +want):\n%s", diff)
	}
}

func TestAppendToFile(t *testing.T) {
	t.Parallel()
	td := testutil.TempDir(t)

	if err := testutil.WriteFiles(td, map[string]string{"log.txt": "one"}); err != nil {
		t.Fatal("WriteFiles failed: ", err)
	}
	if err := testutil.AppendToFile(td+"/log.txt", " two"); err != nil {
		t.Fatal("AppendToFile failed: ", err)
	}

	got, err := testutil.ReadFiles(td)
	if err != nil {
		t.Fatal("ReadFiles failed: ", err)
	}
	if want := map[string]string{"log.txt": "one two"}; !cmp.Equal(got, want) {
		t.Errorf("Got %v; want %v", got, want)
	}
}
