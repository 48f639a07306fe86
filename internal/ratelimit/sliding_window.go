package ratelimit

import (
	"context"
	"time"
)

// SlidingWindow counts events inside a trailing time window.
// It belongs to a single platform client and is not safe for concurrent use.
type SlidingWindow struct {
	limit  int
	window time.Duration
	stamps []time.Time
}

// NewSlidingWindow allows limit events per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window}
}

// Admit drops events older than the window and reports whether another fits.
func (w *SlidingWindow) Admit(_ context.Context, now time.Time) (bool, error) {
	w.prune(now)
	return len(w.stamps) < w.limit, nil
}

// Record stores one event at now.
func (w *SlidingWindow) Record(_ context.Context, now time.Time) error {
	w.stamps = append(w.stamps, now)
	return nil
}

// Len is the number of events currently held, including stale ones not yet pruned.
func (w *SlidingWindow) Len() int {
	return len(w.stamps)
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept
}
