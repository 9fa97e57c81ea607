// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package catalog

// SetNow replaces the local clock and returns a function restoring it.
func SetNow(f func() int64) (reset func()) {
	prev := now
	now = f
	return func() { now = prev }
}
