// Fixed-point motion math for the EBB motor controller
//
// The EBB executes T3 motion commands in a 25 kHz interrupt. Each
// tick it updates, per motor, a 32-bit fixed-point state:
//
//	Accel += Jerk
//	Rate  += Accel
//	Accum += Rate
//
// and emits one motor step whenever the accumulator crosses +/-2^31,
// subtracting 2^31 with the step's sign. The closed forms below
// reproduce the exact integer result of running T ticks, so the host
// can predict steps and carry the accumulator between commands
// without drift.
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package ebb

import "math"

const (
	// TickRate is the controller's motion update rate, ticks per second.
	TickRate = 25000

	// FixedScale is the fixed-point scale: one motor step per 2^31
	// accumulated rate units.
	FixedScale = 2147483648
)

// RateT3 returns the rate (velocity, ISR units) after running ticks
// intervals of a T3 command starting with the given rate, accel, and
// jerk.
//
//	rate_T = rate + T*accel + jerk*T*(T+1)/2
func RateT3(ticks int64, rate, accel, jerk int64) int64 {
	return rate + ticks*accel + jerk*ticks*(ticks+1)/2
}

// MoveDistT3 returns the signed motor steps produced by running
// ticks intervals of a T3 command, and the accumulator value left
// over. accum is the carry from the previous command on the same
// axis. The accumulated sum over T ticks is
//
//	S = T*rate + accel*T*(T+1)/2 + jerk*T*(T+1)*(T+2)/6
//
// and steps are the whole multiples of 2^31 in accum+S, with the
// remainder carried forward.
func MoveDistT3(ticks int64, rate, accel, jerk, accum int64) (steps, newAccum int64) {
	if ticks <= 0 {
		return 0, accum
	}
	sum := ticks*rate +
		accel*ticks*(ticks+1)/2 +
		jerk*ticks*(ticks+1)*(ticks+2)/6
	total := accum + sum
	return total / FixedScale, total % FixedScale
}

// VelToISR converts a speed in inch/s along the segment direction to
// per-axis ISR rate units. norm is the axis direction factor
// (see AxisNorms); stepScale is steps per inch on the native axes.
func VelToISR(inchPerSec, stepScale, norm float64) int64 {
	return int64(math.Round(inchPerSec * stepScale * (FixedScale / float64(TickRate)) * norm))
}

// JerkToISR converts a jerk in inch/s^3 to per-axis ISR jerk units,
// unrounded: the fractional value is used for accel synthesis before
// rounding to the wire value.
func JerkToISR(inchPerSec3, stepScale, norm float64) float64 {
	return inchPerSec3 * stepScale * norm * FixedScale /
		(float64(TickRate) * float64(TickRate) * float64(TickRate))
}

// AxisNorms returns the per-axis direction factors for a segment
// moving steps1, steps2 on the native motors. The factors are scaled
// by sqrt(2) as a shortcut for the 45-degree motor geometry, so that
// a speed along the segment direction projects onto each axis.
func AxisNorms(steps1, steps2 int64) (n1, n2 float64) {
	dist := math.Hypot(float64(steps1), float64(steps2))
	if dist == 0 {
		return 0, 0
	}
	n1 = math.Sqrt2 * float64(steps1) / dist
	n2 = math.Sqrt2 * float64(steps2) / dist
	return n1, n2
}
