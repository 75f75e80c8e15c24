// Drip-fed motion execution
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package dripfeed streams planned motion commands to the controller
// one at a time, handling the housekeeping around each: pause input
// checks, preview simulation, travel statistics, position tracking,
// and pacing sleeps so the host stays roughly synchronized with the
// hardware FIFO.
package dripfeed

import (
	"time"

	"plotdrive/pkg/ebb"
	"plotdrive/pkg/errors"
	"plotdrive/pkg/log"
	"plotdrive/pkg/motion"
	"plotdrive/pkg/pen"
	"plotdrive/pkg/status"
)

// wireMove is the subset of motion commands that go to the hardware
// as a single command string.
type wireMove interface {
	motion.Command
	Wire() string
	DurationMs() int64
}

// Feeder executes planned move lists against the controller.
type Feeder struct {
	mach  ebb.Commander
	pen   *pen.Handler
	track *status.Tracker
	pos   *motion.PenPosition

	// Preview skips all hardware commands, accumulating a time
	// estimate and optionally logging moves to Recorder.
	Preview bool

	// Recorder receives simulated moves during preview.
	Recorder *Recorder

	// Utility disables pacing sleeps for short setup moves.
	Utility bool

	// PauseRequested is polled during pause checks for an external
	// pause request (keyboard interrupt or API call). May be nil.
	PauseRequested func() bool

	// ButtonInterval rate-limits status byte polling.
	ButtonInterval time.Duration

	lastPoll      time.Time
	badStatusRead bool

	logger *log.Logger
	sleep  func(time.Duration)
	now    func() time.Time
}

// NewFeeder returns a Feeder operating on the shared position and
// status tracker.
func NewFeeder(mach ebb.Commander, penHandler *pen.Handler, track *status.Tracker, pos *motion.PenPosition) *Feeder {
	return &Feeder{
		mach:           mach,
		pen:            penHandler,
		track:          track,
		pos:            pos,
		ButtonInterval: 50 * time.Millisecond,
		logger:         log.GetLogger("dripfeed"),
		sleep:          time.Sleep,
		now:            time.Now,
	}
}

// Feed executes a planned move list. It returns early without error
// when a stop condition is detected; the stop code lives in the
// status tracker. A hardware error aborts the remaining moves.
func (f *Feeder) Feed(moves []motion.Command) error {
	for _, move := range moves {
		alreadyStopped := f.track.Stopped()
		f.PauseCheck()

		if f.track.Stopped() && !alreadyStopped {
			f.track.CopiesToPlot = 0
			if !f.Preview {
				// Raise now, discarding queued lowering commands.
				if err := f.mach.EmergencyPenUp(); err != nil {
					return err
				}
			}
			return nil
		}

		if !f.pos.Defined {
			return nil
		}

		var err error
		switch m := move.(type) {
		case motion.PenLower:
			err = f.pen.Lower()
		case motion.PenRaise:
			err = f.pen.Raise()
		case motion.SimpleMove:
			err = f.feedWire(m, m.Seg, false)
		case motion.T3Move:
			err = f.feedWire(m, m.Seg, false)
		case motion.TDMove:
			// TD occupies two FIFO entries.
			err = f.feedWire(m, m.Seg, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// feedWire sends one motion command, or simulates it in preview, and
// applies its bookkeeping: travel statistics, the drip cache used
// for pause backout, and the modeled position.
func (f *Feeder) feedWire(m wireMove, seg motion.SegData, doubleQueued bool) error {
	durationMs := m.DurationMs()

	if f.Preview {
		f.track.Stats.TimeEstimateMs += float64(durationMs)
		if f.Recorder != nil {
			f.Recorder.Log(m.Wire(), durationMs, f.pos.PenUp,
				f.pos.X, f.pos.Y, seg.Final.X, seg.Final.Y)
		}
	} else {
		if err := f.mach.Command(m.Wire()); err != nil {
			return err
		}
		if durationMs > 50 && !f.Utility {
			// Sleep through most of the move so the FIFO stays
			// shallow and pause response stays prompt.
			f.sleep(time.Duration(durationMs-30) * time.Millisecond)
		}
	}

	f.track.AddDist(f.pos.PenUp, seg.Dist, doubleQueued)

	f.pos.X = seg.Final.X
	f.pos.Y = seg.Final.Y
	f.pos.Accum1 = seg.Final.Accum1
	f.pos.Accum2 = seg.Final.Accum2
	return nil
}

// PauseCheck polls the pause inputs and, if a stop condition is
// newly present, performs the stop bookkeeping: backing queued moves
// out of the pause position, raising the pen, and finalizing the
// stop code.
func (f *Feeder) PauseCheck() {
	if f.track.Stopped() && !f.track.Processing() {
		return // Already stopped and finalized.
	}

	buttonState := f.checkButton()

	if f.PauseRequested != nil && f.PauseRequested() {
		if f.track.DelayBetweenCopies {
			f.track.Stop(errors.CodeBetweenCopies)
		} else {
			f.track.Stop(errors.CodeKeyboard)
		}
	}

	if f.track.Power {
		f.track.Stop(errors.CodePower)
		f.logger.Info("plot stopped, loss of power detected")
	}

	if f.track.Processing() || buttonState != 0 {
		// Subtract queued pen-down moves from the pause position,
		// except for programmatic pauses, which stop cleanly at a
		// known point in the stream.
		if f.track.Code() != errors.CodeProgram {
			if depth, err := f.mach.QueueDepth(); err == nil {
				f.track.BackOutQueued(depth)
			}
		}
	}

	if buttonState < 0 {
		f.track.Stop(errors.CodeConnection)
		f.logger.Info("USB connection lost during plot, position %.3f mm",
			25.4*f.track.Stats.DownTravel)
	}

	if buttonState > 0 {
		if f.track.DelayBetweenCopies {
			f.track.Stop(errors.CodeBetweenCopies)
		} else {
			f.track.Stop(errors.CodeButton)
		}
	}

	if f.track.Processing() {
		if err := f.pen.Raise(); err != nil {
			f.logger.Error("pen raise during stop: %v", err)
		}
		code := f.track.Finalize()
		f.track.CopiesToPlot = 0
		if code.UserPause() {
			f.track.Resume.PauseDist = f.track.Stats.DownTravel
			f.track.Resume.PauseRef = f.track.Stats.DownTravel
		}
		f.logger.Info("plot stopped: %s, pen-down travel %.3f mm",
			code, 25.4*f.track.Stats.DownTravel)
	}
}

// checkButton polls the controller status byte, rate-limited to one
// query per ButtonInterval. It returns 1 when the pause button has
// been pressed, -1 when the connection has been lost, and 0 otherwise.
func (f *Feeder) checkButton() int {
	if f.Preview {
		return 0
	}
	now := f.now()
	if now.Sub(f.lastPoll) > f.ButtonInterval {
		f.lastPoll = now
		f.readStatusByte()
	}
	if f.track.Button {
		return 1
	}
	if f.track.Connection {
		return -1
	}
	return 0
}

// readStatusByte reads QG and latches any reported events into the
// tracker. A single failed read is tolerated; two in a row flag the
// connection as lost.
func (f *Feeder) readStatusByte() {
	sb, err := f.mach.QueryStatusByte()
	if err != nil {
		if f.badStatusRead {
			f.track.Connection = true
		}
		f.badStatusRead = true
		return
	}
	f.badStatusRead = false

	if sb&ebb.StatusLimit != 0 {
		f.track.Limit = true
	}
	if sb&ebb.StatusButton != 0 {
		f.track.Button = true
	}
	if sb&ebb.StatusPower != 0 {
		if !f.track.Power {
			// First sighting: mark the machine as not homed and
			// record the power loss on the controller.
			f.mach.VarWrite(0, ebb.VarHomed)
			f.mach.VarWrite(0, ebb.VarPower)
			f.mach.ClearSteps()
		}
		f.track.Power = true
	}
}

// PageLayerDelay waits out a configured delay between pages or
// layers, in pause-responsive 100 ms slices. betweenPages marks the
// delay as an inter-copy delay, during which a pause stops the plot
// between copies instead of mid-plot.
func (f *Feeder) PageLayerDelay(delayMs int, betweenPages bool) {
	if f.track.Stopped() {
		return
	}
	if betweenPages {
		if f.track.CopiesToPlot == 0 {
			return
		}
		f.track.DelayBetweenCopies = true
	}
	if delayMs <= 0 {
		f.track.DelayBetweenCopies = false
		return
	}

	remaining := delayMs
	for remaining > 0 && !f.track.Stopped() {
		interval := 100
		if remaining < 150 { // take short remainders in one slice
			interval = remaining
		}
		remaining -= interval

		if betweenPages {
			f.track.Stats.PageDelaysMs += float64(interval)
		} else {
			f.track.Stats.LayerDelaysMs += float64(interval)
		}

		if f.Preview {
			f.track.Stats.TimeEstimateMs += float64(interval)
		} else {
			f.sleep(time.Duration(interval) * time.Millisecond)
			f.PauseCheck()
		}
	}
	f.track.DelayBetweenCopies = false
}

// ExhaustQueue waits until all queued motion has finished executing,
// polling the status byte every 50 ms up to the given timeout. It
// returns false on timeout or read error.
func (f *Feeder) ExhaustQueue(timeout time.Duration) bool {
	if f.Preview {
		return true
	}
	deadline := f.now().Add(timeout)
	for {
		sb, err := f.mach.QueryStatusByte()
		if err != nil {
			return false
		}
		if sb&ebb.StatusMotionMask == 0 {
			return true
		}
		if f.now().After(deadline) {
			return false
		}
		f.sleep(50 * time.Millisecond)
	}
}

// GoToPosition raises the pen and moves directly to (x, y) as a
// utility move, exempt from pacing. The compiler models the move
// from the current tracked position.
func (f *Feeder) GoToPosition(compiler *motion.Compiler, x, y float64) error {
	if !f.pos.Defined {
		return errors.New(errors.CodePlanning, "position undefined, home first")
	}

	work := *f.pos
	work.PenUp = true
	moves := compiler.CompileSegment(motion.Segment{X: x, Y: y}, &work)

	all := make([]motion.Command, 0, len(moves)+1)
	all = append(all, motion.PenRaise{})
	all = append(all, moves...)

	wasUtility := f.Utility
	f.Utility = true
	err := f.Feed(all)
	f.Utility = wasUtility
	return err
}
