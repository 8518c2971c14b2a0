package timeline

import (
	"math"
	"time"
)

// SessionID uniquely identifies a capture session (one recording's timeline).
type SessionID string

// Identity identifies a photo asset within one catalog snapshot.
// It is not guaranteed to be stable across catalog replacements unless the
// upload pipeline supplies its own ids.
type Identity string

// PhotoInput is the external representation of one photo, as supplied by the
// upload pipeline whenever the session's photo set changes. The list carries
// no ordering guarantee; the catalog sorts and derives identities itself.
type PhotoInput struct {
	ID        string     `json:"id,omitempty"`
	URL       string     `json:"url"`
	Offset    float64    `json:"offset_seconds"`
	Caption   string     `json:"caption,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Asset is one immutable photo entry in a catalog snapshot.
type Asset struct {
	Identity  Identity   `json:"identity"`
	URL       string     `json:"url"`
	Offset    float64    `json:"offset_seconds"`
	Caption   string     `json:"caption,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`

	// schedulable is false for malformed entries (non-finite or negative
	// offset). Such assets stay in the catalog but are never prefetched
	// or revealed.
	schedulable bool
}

// Schedulable reports whether the asset participates in prefetch and reveal.
func (a Asset) Schedulable() bool { return a.schedulable }

func validOffset(off float64) bool {
	return !math.IsNaN(off) && !math.IsInf(off, 0) && off >= 0
}

// Clock is the playback clock collaborator. The scheduler only ever polls
// it; seeks are inferred from position deltas, never from callbacks.
type Clock interface {
	// Position returns the current play-head position in seconds.
	// An error means the clock is unreadable this cycle (not fatal).
	Position() (float64, error)
	// Playing reports whether playback is currently running.
	Playing() bool
}
