// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"strconv"
	"time"
)

// DurationFlag implements flag.Value to store a time.Duration supplied on the
// command line as an integer amount of some unit (e.g. seconds).
type DurationFlag struct {
	units time.Duration
	dst   *time.Duration
}

// NewDurationFlag returns a DurationFlag that will store a duration supplied
// in the given units into dst. def is assigned to dst immediately so it is
// used if the flag goes unset.
func NewDurationFlag(units time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{units, dst}
}

func (f *DurationFlag) String() string {
	if f.dst == nil {
		return "0"
	}
	return strconv.FormatInt(int64(*f.dst/f.units), 10)
}

// Set parses v as an integer number of f's units.
func (f *DurationFlag) Set(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*f.dst = time.Duration(n) * f.units
	return nil
}
