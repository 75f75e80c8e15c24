// Pen position tracking
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"plotdrive/pkg/ebb"
)

// PenPosition is the modeled physical state of the machine: XY
// position in inches, pen height, and the firmware step accumulators.
// The accumulators must be carried between commands so that modeled
// step counts stay bit-identical to what the controller executes.
type PenPosition struct {
	X, Y float64

	// Defined is false until the position has been established by
	// homing or by an explicit position set.
	Defined bool

	// PenUp is the modeled pen height state; it is meaningful only
	// once ZKnown is set.
	PenUp  bool
	ZKnown bool

	Accum1, Accum2 int64
}

// ApplyT3 advances the position by one T3 command, threading the
// accumulators. It returns the steps moved on each motor, the XY
// distance covered in inches, and the final motor rates.
func (p *PenPosition) ApplyT3(cmd T3Params, stepScale float64) (steps1, steps2 int64, dist float64, rate1, rate2 int64) {
	steps1, p.Accum1 = ebb.MoveDistT3(cmd.Ticks, cmd.Rate1, cmd.Accel1, cmd.Jerk1, p.Accum1)
	steps2, p.Accum2 = ebb.MoveDistT3(cmd.Ticks, cmd.Rate2, cmd.Accel2, cmd.Jerk2, p.Accum2)

	d1 := float64(steps1) / (2.0 * stepScale)
	d2 := float64(steps2) / (2.0 * stepScale)
	dx := d1 + d2
	dy := d1 - d2
	dist = math.Hypot(dx, dy)

	p.X += dx
	p.Y += dy

	rate1 = ebb.RateT3(cmd.Ticks, cmd.Rate1, cmd.Accel1, cmd.Jerk1)
	rate2 = ebb.RateT3(cmd.Ticks, cmd.Rate2, cmd.Accel2, cmd.Jerk2)
	return steps1, steps2, dist, rate1, rate2
}

// ApplyTD advances the position by one TD command. The controller
// expands TD into two T3 halves:
//
//	T3,Ticks,Rate1A,0,Jerk1,Rate2A,0,Jerk2
//	T3,Ticks,Rate1B,Accel1,-Jerk1,Rate2B,Accel2,-Jerk2
//
// and this models both halves in order.
func (p *PenPosition) ApplyTD(cmd TDParams, stepScale float64) (steps1, steps2 int64, dist float64, rate1, rate2 int64) {
	halfA := T3Params{Ticks: cmd.Ticks,
		Rate1: cmd.Rate1A, Jerk1: cmd.Jerk1,
		Rate2: cmd.Rate2A, Jerk2: cmd.Jerk2}
	s1a, s2a, distA, _, _ := p.ApplyT3(halfA, stepScale)

	halfB := T3Params{Ticks: cmd.Ticks,
		Rate1: cmd.Rate1B, Accel1: cmd.Accel1, Jerk1: -cmd.Jerk1,
		Rate2: cmd.Rate2B, Accel2: cmd.Accel2, Jerk2: -cmd.Jerk2}
	s1b, s2b, distB, rate1, rate2 := p.ApplyT3(halfB, stepScale)

	return s1a + s1b, s2a + s2b, distA + distB, rate1, rate2
}
