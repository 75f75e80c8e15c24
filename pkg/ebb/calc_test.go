// Tests for EBB fixed-point motion math
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package ebb

import (
	"math"
	"testing"
)

// simulateT3 runs the firmware's per-tick update literally, stepping
// whenever the accumulator crosses +/-2^31.
func simulateT3(ticks int64, rate, accel, jerk, accum int64) (steps, newAccum, finalRate int64) {
	for t := int64(0); t < ticks; t++ {
		accel += jerk
		rate += accel
		accum += rate
		for accum >= FixedScale {
			accum -= FixedScale
			steps++
		}
		for accum <= -FixedScale {
			accum += FixedScale
			steps--
		}
	}
	return steps, accum, rate
}

func TestMoveDistT3MatchesSimulation(t *testing.T) {
	cases := []struct {
		name                      string
		ticks, rate, accel, jerk  int64
		accum                     int64
	}{
		{"const velocity", 500, 90000000, 0, 0, 0},
		{"const velocity negative", 500, -90000000, 0, 0, 12345},
		{"accel from rest", 120, 0, 0, 5000, 0},
		{"decel second half", 120, 84000000, 600000, -5000, -99999},
		{"slow crawl", 2500, 800000, 0, 0, 0},
		{"carry near threshold", 3, 900000000, 0, 0, FixedScale - 1},
		{"zero ticks", 0, 12345, 67, 89, 42},
	}
	for _, c := range cases {
		wantSteps, wantAccum, wantRate := simulateT3(c.ticks, c.rate, c.accel, c.jerk, c.accum)
		gotSteps, gotAccum := MoveDistT3(c.ticks, c.rate, c.accel, c.jerk, c.accum)
		if gotSteps != wantSteps || gotAccum != wantAccum {
			t.Errorf("%s: MoveDistT3 = (%d, %d), simulation = (%d, %d)",
				c.name, gotSteps, gotAccum, wantSteps, wantAccum)
		}
		if c.ticks > 0 {
			if gotRate := RateT3(c.ticks, c.rate, c.accel, c.jerk); gotRate != wantRate {
				t.Errorf("%s: RateT3 = %d, simulation = %d", c.name, gotRate, wantRate)
			}
		}
	}
}

func TestMoveDistT3AccumulatorThreading(t *testing.T) {
	// Splitting a move into two commands with the accumulator
	// carried across must give the same steps as one long command.
	rate := int64(50000000)
	steps1, accum := MoveDistT3(300, rate, 0, 0, 0)
	steps2, accum := MoveDistT3(300, rate, 0, 0, accum)
	stepsAll, accumAll := MoveDistT3(600, rate, 0, 0, 0)
	if steps1+steps2 != stepsAll || accum != accumAll {
		t.Errorf("split move = (%d, %d), single move = (%d, %d)",
			steps1+steps2, accum, stepsAll, accumAll)
	}
}

func TestVelToISR(t *testing.T) {
	// 1 inch/s along a pure motor-1 diagonal at low resolution.
	n1, n2 := AxisNorms(100, 0)
	if math.Abs(n1-math.Sqrt2) > 1e-12 || n2 != 0 {
		t.Fatalf("AxisNorms(100, 0) = (%v, %v), want (sqrt2, 0)", n1, n2)
	}
	got := VelToISR(1.0, 1016.064, n1)
	want := int64(math.Round(1.0 * 1016.064 * (FixedScale / 25000.0) * math.Sqrt2))
	if got != want {
		t.Errorf("VelToISR = %d, want %d", got, want)
	}
}

func TestAxisNormsZeroMove(t *testing.T) {
	n1, n2 := AxisNorms(0, 0)
	if n1 != 0 || n2 != 0 {
		t.Errorf("AxisNorms(0,0) = (%v, %v), want (0, 0)", n1, n2)
	}
}

func TestAxisNormsDiagonal(t *testing.T) {
	// Equal steps on both motors: pure X motion; each norm is 1.
	n1, n2 := AxisNorms(70, 70)
	if math.Abs(n1-1) > 1e-12 || math.Abs(n2-1) > 1e-12 {
		t.Errorf("AxisNorms(70,70) = (%v, %v), want (1, 1)", n1, n2)
	}
}
