// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package entity

// Delta is a deployment history record. LocalTimestamp is the time the
// serving node admitted the entity, which orders its history.
type Delta struct {
	EntityID        string   `json:"entityId"`
	EntityType      Type     `json:"entityType"`
	Pointers        []string `json:"pointers"`
	EntityTimestamp int64    `json:"entityTimestamp"`
	LocalTimestamp  int64    `json:"localTimestamp"`
}

// Cursor is a position in a node's deployment history. The zero Cursor is
// before every delta.
type Cursor struct {
	Timestamp int64  `json:"timestamp"`
	LastID    string `json:"lastId,omitempty"`
}

// CursorOf returns the cursor positioned at d.
func CursorOf(d Delta) Cursor {
	return Cursor{Timestamp: d.LocalTimestamp, LastID: d.EntityID}
}

// Before reports whether d comes strictly after the cursor position.
func (c Cursor) Before(d Delta) bool {
	if d.LocalTimestamp != c.Timestamp {
		return d.LocalTimestamp > c.Timestamp
	}
	return d.EntityID > c.LastID
}

// IsZero reports whether the cursor is at the start of the history.
func (c Cursor) IsZero() bool {
	return c.Timestamp == 0 && c.LastID == ""
}
