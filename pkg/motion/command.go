// Motion command types
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import "fmt"

// Command is one element of a planned move list. The concrete types
// are PenLower, PenRaise, SimpleMove, T3Move, and TDMove.
type Command interface {
	isCommand()
}

// SegData carries bookkeeping for a motion command: the XY distance
// it plots and a snapshot of the modeled position after it executes.
type SegData struct {
	Dist  float64
	Final PenPosition
}

// PenLower lowers the pen with default timing.
type PenLower struct{}

// PenRaise raises the pen with default timing.
type PenRaise struct{}

// SimpleMove is a constant-rate SM step move.
type SimpleMove struct {
	Steps2, Steps1 int64
	TimeMs         int64
	Seg            SegData
}

// T3Params are the integer arguments of a T3 command: a tick count
// and per-motor initial rate, acceleration, and jerk in ISR units.
type T3Params struct {
	Ticks  int64
	Rate1  int64
	Accel1 int64
	Jerk1  int64
	Rate2  int64
	Accel2 int64
	Jerk2  int64
}

// T3Move is a single cubic velocity profile command.
type T3Move struct {
	Params T3Params
	Seg    SegData
}

// TDParams are the integer arguments of a TD command, which the
// controller executes as two back-to-back T3 halves with mirrored
// jerk. Rate1A/Rate2A start the first half; Rate1B/Rate2B and the
// accelerations start the second.
type TDParams struct {
	Ticks  int64
	Rate1A int64
	Rate1B int64
	Accel1 int64
	Jerk1  int64
	Rate2A int64
	Rate2B int64
	Accel2 int64
	Jerk2  int64
}

// TDMove is a double cubic (S-curve) velocity profile command.
type TDMove struct {
	Params TDParams
	Seg    SegData
}

func (PenLower) isCommand()   {}
func (PenRaise) isCommand()   {}
func (SimpleMove) isCommand() {}
func (T3Move) isCommand()     {}
func (TDMove) isCommand()     {}

// Wire returns the firmware command string.
func (m SimpleMove) Wire() string {
	return fmt.Sprintf("SM,%d,%d,%d", m.Steps2, m.Steps1, m.TimeMs)
}

// Wire returns the firmware command string.
func (m T3Move) Wire() string {
	p := m.Params
	return fmt.Sprintf("T3,%d,%d,%d,%d,%d,%d,%d",
		p.Ticks, p.Rate1, p.Accel1, p.Jerk1, p.Rate2, p.Accel2, p.Jerk2)
}

// Wire returns the firmware command string.
func (m TDMove) Wire() string {
	p := m.Params
	return fmt.Sprintf("TD,%d,%d,%d,%d,%d,%d,%d,%d,%d",
		p.Ticks, p.Rate1A, p.Rate1B, p.Accel1, p.Jerk1,
		p.Rate2A, p.Rate2B, p.Accel2, p.Jerk2)
}

// DurationMs returns the execution time in milliseconds.
func (m SimpleMove) DurationMs() int64 { return m.TimeMs }

// DurationMs returns the execution time in milliseconds. T3 runs at
// 25 ticks per millisecond.
func (m T3Move) DurationMs() int64 { return m.Params.Ticks / 25 }

// DurationMs returns the execution time in milliseconds. TD executes
// two T3 halves of Ticks each.
func (m TDMove) DurationMs() int64 { return 2 * m.Params.Ticks / 25 }
