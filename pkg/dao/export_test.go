// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dao

import "time"

var CatalystListABI = catalystListABI

// SetNow replaces the blacklist clock and returns a function restoring it.
func SetNow(f func() time.Time) (reset func()) {
	prev := now
	now = f
	return func() { now = prev }
}
