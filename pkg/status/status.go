// Plot status tracking
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package status tracks the live state of a plot: why it stopped,
// distance statistics, and the bookkeeping needed to pause a plot
// mid-stream and resume it at the right position.
package status

import (
	"sync"

	"plotdrive/pkg/errors"
)

// Tracker is the shared plot state. A stop code is held negative
// while the stop is still being processed (pen raise, queue flush,
// position backout) and negated to its positive value once handling
// completes.
type Tracker struct {
	mu      sync.Mutex
	stopped int

	// CopiesToPlot counts down remaining copies; negative values
	// indicate continuous plotting.
	CopiesToPlot int

	// DelayBetweenCopies is set while waiting out a page delay, so
	// that a pause during the delay stops between copies cleanly.
	DelayBetweenCopies bool

	// Monitor flags, latched from the controller status byte.
	Button     bool
	Limit      bool
	Power      bool
	Connection bool

	Stats  PlotStats
	Resume ResumeStatus
}

// NewTracker returns a Tracker with resume data cleared.
func NewTracker() *Tracker {
	t := &Tracker{CopiesToPlot: 1}
	t.Resume.Reset()
	return t
}

// Stop records a stop request with the given code. It has no effect
// if a stop has already been finalized.
func (t *Tracker) Stop(code errors.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped > 0 {
		return
	}
	t.stopped = -int(code)
}

// Stopped reports whether a stop has been requested or finalized.
func (t *Tracker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped != 0
}

// Processing reports whether a stop is recorded but not yet finalized.
func (t *Tracker) Processing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped < 0
}

// Finalize marks stop handling as complete and returns the stop code.
func (t *Tracker) Finalize() errors.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped < 0 {
		t.stopped = -t.stopped
	}
	return errors.Code(t.stopped)
}

// Code returns the current stop code regardless of processing state.
func (t *Tracker) Code() errors.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped < 0 {
		return errors.Code(-t.stopped)
	}
	return errors.Code(t.stopped)
}

// ClearStop resets the stop state for a new plot.
func (t *Tracker) ClearStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = 0
	t.Button = false
	t.Limit = false
	t.Power = false
	t.Connection = false
}

// AddDist adds the distance of one executed move to the travel
// statistics and the drip cache. doubleQueued marks moves that the
// controller schedules as two FIFO entries; the cache gets a zero
// entry ahead of the distance so queue-depth backout stays aligned.
func (t *Tracker) AddDist(penUp bool, distInch float64, doubleQueued bool) {
	if penUp {
		t.Stats.UpTravel += distInch
		t.Resume.Drip.Push(0)
		return
	}
	t.Stats.DownTravel += distInch
	if doubleQueued {
		t.Resume.Drip.Push(0)
	}
	t.Resume.Drip.Push(distInch)
}

// BackOutQueued subtracts the pen-down distance of moves still in
// the controller queue from the pause position. queueDepth is the
// number of commands reported queued; the pause position never backs
// out past the point where this plot resumed.
func (t *Tracker) BackOutQueued(queueDepth int) {
	t.Stats.DownTravel -= t.Resume.Drip.QueuedDist(queueDepth)
	if t.Stats.DownTravel < t.Resume.PauseDist {
		t.Stats.DownTravel = t.Resume.PauseDist
	}
}

// PlotStats accumulates travel distances and time estimates.
type PlotStats struct {
	UpTravel   float64 // pen-up travel on the current page, inches
	DownTravel float64 // pen-down travel on the current page, inches

	UpTravelTotal   float64
	DownTravelTotal float64

	TimeEstimateMs float64 // preview time estimate, all pages
	PageDelaysMs   float64
	LayerDelaysMs  float64
}

// NextPage folds the current page's travel into the totals and
// zeroes the per-page counters.
func (s *PlotStats) NextPage() {
	s.UpTravelTotal += s.UpTravel
	s.DownTravelTotal += s.DownTravel
	s.UpTravel = 0
	s.DownTravel = 0
}

// Reset clears all statistics.
func (s *PlotStats) Reset() {
	*s = PlotStats{}
}

// ResumeStatus holds the data needed to resume a paused plot.
type ResumeStatus struct {
	// PauseDist is the pen-down travel distance at which to resume,
	// in inches. Negative means no resume data.
	PauseDist float64

	// PauseRef is the travel distance at the original pause, before
	// any manual adjustment.
	PauseRef float64

	Drip DripCache
}

// Reset clears resume data.
func (r *ResumeStatus) Reset() {
	r.PauseDist = -1
	r.PauseRef = -1
	r.Drip.Reset()
}

// AdjustBy offsets the resume position by distInch, clamping to the
// file beginning.
func (r *ResumeStatus) AdjustBy(distInch float64) {
	base := r.PauseDist
	if base < 0 {
		base = 0
	}
	r.PauseDist = base + distInch
	if r.PauseDist <= 0 {
		r.PauseDist = -1
	}
}

// dripCacheDepth matches the controller FIFO depth configured at
// connect time.
const dripCacheDepth = 16

// DripCache keeps the pen-down distance of recent moves, newest
// first, so a pause can compute how much queued travel has not
// actually happened yet.
type DripCache struct {
	dists []float64
}

// Push records the pen-down distance of one queued command.
func (c *DripCache) Push(distInch float64) {
	c.dists = append([]float64{distInch}, c.dists...)
	if len(c.dists) > dripCacheDepth {
		c.dists = c.dists[:dripCacheDepth]
	}
}

// QueuedDist sums the newest n entries.
func (c *DripCache) QueuedDist(n int) float64 {
	if n > len(c.dists) {
		n = len(c.dists)
	}
	var sum float64
	for _, d := range c.dists[:n] {
		sum += d
	}
	return sum
}

// Reset empties the cache.
func (c *DripCache) Reset() {
	c.dists = nil
}
