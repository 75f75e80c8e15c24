// Tests for plot status tracking
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package status

import (
	"math"
	"testing"

	"plotdrive/pkg/errors"
)

func TestStopLifecycle(t *testing.T) {
	tr := NewTracker()
	if tr.Stopped() {
		t.Fatal("new tracker reports stopped")
	}

	tr.Stop(errors.CodeButton)
	if !tr.Stopped() || !tr.Processing() {
		t.Error("Stop() did not enter processing state")
	}
	if got := tr.Code(); got != errors.CodeButton {
		t.Errorf("Code() = %v, want CodeButton", got)
	}

	if got := tr.Finalize(); got != errors.CodeButton {
		t.Errorf("Finalize() = %v, want CodeButton", got)
	}
	if tr.Processing() {
		t.Error("Processing() = true after Finalize()")
	}

	// A finalized stop is not overwritten.
	tr.Stop(errors.CodeKeyboard)
	if got := tr.Code(); got != errors.CodeButton {
		t.Errorf("Code() after second Stop = %v, want CodeButton", got)
	}

	tr.ClearStop()
	if tr.Stopped() {
		t.Error("Stopped() = true after ClearStop()")
	}
}

func TestAddDistSplitsByPenState(t *testing.T) {
	tr := NewTracker()
	tr.AddDist(true, 2.0, false)
	tr.AddDist(false, 1.5, false)
	if tr.Stats.UpTravel != 2.0 {
		t.Errorf("UpTravel = %v, want 2.0", tr.Stats.UpTravel)
	}
	if tr.Stats.DownTravel != 1.5 {
		t.Errorf("DownTravel = %v, want 1.5", tr.Stats.DownTravel)
	}
}

func TestBackOutQueued(t *testing.T) {
	tr := NewTracker()

	// Five pen-down moves of 0.1 inch each; three still queued when
	// the pause lands.
	for i := 0; i < 5; i++ {
		tr.AddDist(false, 0.1, false)
	}
	tr.BackOutQueued(3)
	if math.Abs(tr.Stats.DownTravel-0.2) > 1e-9 {
		t.Errorf("DownTravel after backout = %v, want 0.2", tr.Stats.DownTravel)
	}
}

func TestBackOutQueuedFloorsAtResumePoint(t *testing.T) {
	tr := NewTracker()
	tr.Resume.PauseDist = 0.35 // resumed mid-plot at 0.35 inches
	tr.Stats.DownTravel = 0.40
	tr.Resume.Drip.Push(0.2)

	tr.BackOutQueued(1) // raw backout would land at 0.2, before the resume point
	if math.Abs(tr.Stats.DownTravel-0.35) > 1e-9 {
		t.Errorf("DownTravel = %v, want floor at 0.35", tr.Stats.DownTravel)
	}
}

func TestBackOutSkipsDoubleQueuedPadding(t *testing.T) {
	tr := NewTracker()

	// A double-queued move occupies two FIFO slots but all of its
	// distance is attributed once.
	tr.AddDist(false, 0.2, true)
	tr.AddDist(false, 0.1, false)
	tr.Stats.DownTravel = 0.3

	// Three queued entries: the 0.1 move plus both slots of the 0.2
	// move. Backout removes 0.3 exactly, not 0.5.
	tr.BackOutQueued(3)
	if math.Abs(tr.Stats.DownTravel) > 1e-9 {
		t.Errorf("DownTravel = %v, want 0", tr.Stats.DownTravel)
	}
}

func TestDripCacheEviction(t *testing.T) {
	var c DripCache
	for i := 1; i <= 20; i++ {
		c.Push(float64(i))
	}
	// Only the newest 16 remain: 20 down through 5.
	got := c.QueuedDist(16)
	want := 0.0
	for i := 5; i <= 20; i++ {
		want += float64(i)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("QueuedDist(16) = %v, want %v", got, want)
	}

	if got := c.QueuedDist(2); math.Abs(got-39) > 1e-9 {
		t.Errorf("QueuedDist(2) = %v, want 39", got)
	}
}

func TestPenUpMovesPushZero(t *testing.T) {
	tr := NewTracker()
	tr.AddDist(false, 0.4, false)
	tr.AddDist(true, 1.0, false) // pen-up move queued after the pen-down one

	// One queued command: the pen-up move contributes nothing.
	tr.BackOutQueued(1)
	if math.Abs(tr.Stats.DownTravel-0.4) > 1e-9 {
		t.Errorf("DownTravel = %v, want 0.4", tr.Stats.DownTravel)
	}
}

func TestResumeAdjust(t *testing.T) {
	var r ResumeStatus
	r.Reset()

	r.AdjustBy(0.5)
	if math.Abs(r.PauseDist-0.5) > 1e-9 {
		t.Errorf("PauseDist = %v, want 0.5", r.PauseDist)
	}
	r.AdjustBy(-2)
	if r.PauseDist != -1 {
		t.Errorf("PauseDist = %v, want -1 (file beginning)", r.PauseDist)
	}
}

func TestNextPage(t *testing.T) {
	var s PlotStats
	s.UpTravel = 1
	s.DownTravel = 2
	s.NextPage()
	if s.UpTravelTotal != 1 || s.DownTravelTotal != 2 {
		t.Errorf("totals = %v, %v, want 1, 2", s.UpTravelTotal, s.DownTravelTotal)
	}
	if s.UpTravel != 0 || s.DownTravel != 0 {
		t.Errorf("page counters = %v, %v, want 0, 0", s.UpTravel, s.DownTravel)
	}
}
