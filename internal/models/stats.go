package models

import "go.uber.org/atomic"

// Stats counts terminal cache decisions. One Stats belongs to one manager;
// share it between managers only on purpose.
type Stats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

// Hit records a hit.
func (s *Stats) Hit() { s.hits.Inc() }

// Miss records a miss.
func (s *Stats) Miss() { s.misses.Inc() }

// Snapshot returns the current counters. HitRate is 0 before the first
// decision.
func (s *Stats) Snapshot() StatsSnapshot {
	h, m := s.hits.Load(), s.misses.Load()
	snap := StatsSnapshot{Hits: h, Misses: m}
	if total := h + m; total > 0 {
		snap.HitRate = float64(h) / float64(total)
	}
	return snap
}

// Reset zeroes both counters.
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
}
