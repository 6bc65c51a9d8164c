package models

import "time"

// BadgeCounts is one consistent unread snapshot. Total is always the sum of
// both sub-counts; it is never derived from a partially resolved fetch.
type BadgeCounts struct {
	Direct int `json:"direct_messages"`
	Group  int `json:"group_messages"`
	Total  int `json:"total_unread"`
}

// Sum recomputes Total from the sub-counts.
func (c BadgeCounts) Sum() BadgeCounts {
	c.Total = c.Direct + c.Group
	return c
}

// BadgeSnapshot is the last-known-good badge state. Seq is the monotonic
// poll sequence that produced it; a fetch result carrying a lower sequence
// is stale and must be discarded.
type BadgeSnapshot struct {
	Counts    BadgeCounts `json:"counts"`
	Seq       int64       `json:"seq"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BadgeEvent is broadcast to connected client surfaces so every tab renders
// the same value without polling independently.
type BadgeEvent struct {
	Type   string      `json:"type"` // badge
	Counts BadgeCounts `json:"counts"`
}
