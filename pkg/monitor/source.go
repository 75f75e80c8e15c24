// Plot state source for the status server
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package monitor

import (
	"sync"
	"sync/atomic"

	"plotdrive/pkg/ebb"
	"plotdrive/pkg/errors"
	"plotdrive/pkg/motion"
	"plotdrive/pkg/status"
)

// PlotSource adapts the live plot state to PlotterInterface. Its
// PauseRequested method plugs into the drip feeder's pause hook so an
// API pause lands at the next inter-move check.
type PlotSource struct {
	Mach  ebb.Commander
	Track *status.Tracker
	Pos   *motion.PenPosition

	// PosMu guards Pos, which the feed loop mutates.
	PosMu sync.Mutex

	// Plotting is set while a plot is actively feeding moves.
	Plotting atomic.Bool

	pause atomic.Bool
}

// NewPlotSource returns a source over the given plot state.
func NewPlotSource(mach ebb.Commander, track *status.Tracker, pos *motion.PenPosition) *PlotSource {
	return &PlotSource{Mach: mach, Track: track, Pos: pos}
}

// Snapshot implements PlotterInterface.
func (p *PlotSource) Snapshot() Snapshot {
	code := p.Track.Code()

	state := "idle"
	switch {
	case p.Track.Stopped() && code.UserPause():
		state = "paused"
	case p.Track.Stopped():
		state = "stopped"
	case p.Plotting.Load():
		state = "plotting"
	}

	p.PosMu.Lock()
	x, y := p.Pos.X, p.Pos.Y
	defined, penUp := p.Pos.Defined, p.Pos.PenUp
	p.PosMu.Unlock()

	return Snapshot{
		State:          state,
		X:              x,
		Y:              y,
		Defined:        defined,
		PenUp:          penUp,
		StopCode:       code.String(),
		CopiesToPlot:   p.Track.CopiesToPlot,
		UpTravelInch:   p.Track.Stats.UpTravel,
		DownTravelInch: p.Track.Stats.DownTravel,
		TimeEstimateMs: p.Track.Stats.TimeEstimateMs,
		PauseDistInch:  p.Track.Resume.PauseDist,
	}
}

// RequestPause implements PlotterInterface.
func (p *PlotSource) RequestPause() {
	p.pause.Store(true)
}

// PauseRequested reports and clears a pending pause request. Pass
// this to the drip feeder's pause hook.
func (p *PlotSource) PauseRequested() bool {
	return p.pause.Swap(false)
}

// EmergencyStop implements PlotterInterface.
func (p *PlotSource) EmergencyStop() error {
	p.Track.Stop(errors.CodeKeyboard)
	if p.Mach == nil {
		return nil
	}
	if err := p.Mach.EmergencyStop(); err != nil {
		return err
	}
	return p.Mach.EmergencyPenUp()
}
