// Tests for S-curve velocity planning
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scurve

import (
	"math"
	"sort"
	"testing"
)

func TestSolveCubicSingleRealRoot(t *testing.T) {
	// x^3 + 2x - 4 has one real root near 1.1795.
	roots := SolveCubic(1, 0, 2, -4)
	if len(roots) != 1 {
		t.Fatalf("SolveCubic(1,0,2,-4) returned %d roots, want 1", len(roots))
	}
	x := roots[0]
	if resid := x*x*x + 2*x - 4; math.Abs(resid) > 1e-9 {
		t.Errorf("root %v gives residual %v, want ~0", x, resid)
	}
}

func TestSolveCubicThreeRealRoots(t *testing.T) {
	// (x-1)(x-2)(x-3) = x^3 - 6x^2 + 11x - 6
	roots := SolveCubic(1, -6, 11, -6)
	if len(roots) != 3 {
		t.Fatalf("got %d roots, want 3", len(roots))
	}
	sort.Float64s(roots)
	want := []float64{1, 2, 3}
	for i, w := range want {
		if math.Abs(roots[i]-w) > 1e-9 {
			t.Errorf("roots[%d] = %v, want %v", i, roots[i], w)
		}
	}
}

func TestSolveCubicQuadraticFallback(t *testing.T) {
	roots := SolveCubic(0, 1, -3, 2) // x^2 - 3x + 2
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	sort.Float64s(roots)
	if math.Abs(roots[0]-1) > 1e-12 || math.Abs(roots[1]-2) > 1e-12 {
		t.Errorf("roots = %v, want [1 2]", roots)
	}
}

func TestPlanDistSymmetry(t *testing.T) {
	// Accel and decel distances between the same speed pair are equal.
	cases := []struct{ vIn, vMax, jerk float64 }{
		{0, 8.6979, 20000},
		{1.5, 6, 14000},
		{0.25, 0.8, 90000},
	}
	for _, c := range cases {
		up := PlanDist(c.vIn, c.vMax, c.jerk, 0)
		down := PlanDist(c.vMax, c.vIn, c.jerk, 0)
		if math.Abs(up-down) > 1e-12 {
			t.Errorf("PlanDist(%v,%v) = %v but reversed = %v",
				c.vIn, c.vMax, up, down)
		}
	}
}

func TestPlanDistAlreadyAtMax(t *testing.T) {
	if got := PlanDist(5, 5, 20000, 0); got != 0 {
		t.Errorf("PlanDist(5,5,...) = %v, want 0", got)
	}
}

func TestPlanVelocityClampsToMax(t *testing.T) {
	vIn, vMax, jerk := 0.0, 8.6979, 20000.0
	dMax := PlanDist(vIn, vMax, jerk, 0)
	for _, dist := range []float64{dMax, dMax * 1.5, dMax * 10} {
		v, ok := PlanVelocity(vIn, vMax, jerk, dist, 0)
		if !ok {
			t.Fatalf("PlanVelocity(dist=%v) failed", dist)
		}
		if v != vMax {
			t.Errorf("PlanVelocity(dist=%v) = %v, want %v", dist, v, vMax)
		}
	}
}

func TestPlanVelocityShortMove(t *testing.T) {
	vIn, vMax, jerk := 0.0, 8.6979, 20000.0
	dMax := PlanDist(vIn, vMax, jerk, 0)

	v, ok := PlanVelocity(vIn, vMax, jerk, dMax/4, 0)
	if !ok {
		t.Fatalf("PlanVelocity failed on short move")
	}
	if v <= 0 || v >= vMax {
		t.Errorf("PlanVelocity = %v, want in (0, %v)", v, vMax)
	}
	// The returned velocity must satisfy the governing cubic:
	// dist = 2*vIn*tm + j*tm^3 with tm = sqrt((v-vIn)/j).
	tm := math.Sqrt((v - vIn) / jerk)
	dist := 2*vIn*tm + jerk*tm*tm*tm
	if math.Abs(dist-dMax/4) > 1e-9 {
		t.Errorf("recovered dist = %v, want %v", dist, dMax/4)
	}
}

func TestPlanVelocityMinTimeDecel(t *testing.T) {
	// Entering fast over a tiny distance: even at constant speed the
	// move is shorter than minTime, so it must plan a deceleration.
	vIn, vMax, jerk := 5.0, 8.6979, 20000.0
	dist := 0.01 // 2 ms at 5 in/s, well under 7 ms
	v, ok := PlanVelocity(vIn, vMax, jerk, dist, 0.007)
	if !ok {
		t.Fatalf("PlanVelocity failed")
	}
	want := math.Max((dist-vIn*0.0035)/0.0035, 0)
	if math.Abs(v-want) > 1e-12 {
		t.Errorf("PlanVelocity = %v, want %v", v, want)
	}
	if v >= vIn {
		t.Errorf("expected deceleration, got v = %v >= vIn %v", v, vIn)
	}
}

func TestPlanVelocityZeroJerkSubstitution(t *testing.T) {
	// Zero jerk must not panic or divide by zero; constant-speed
	// layers call through here.
	v, ok := PlanVelocity(1, 2, 0, 100, 0)
	if !ok || v != 2 {
		t.Errorf("PlanVelocity(jerk=0) = %v, %v; want 2, true", v, ok)
	}
}

func TestSolveJerkRoundTrip(t *testing.T) {
	// Find a reduced jerk, then verify it reproduces the distance
	// and final velocity through the S-curve relations.
	vI, vF, maxJerk := 0.5, 2.0, 20000.0
	// Pick a distance longer than the max-jerk transition needs.
	dist := 2 * PlanDist(vI, vF, maxJerk, 0)

	j, ok := SolveJerk(vI, vF, dist, maxJerk)
	if !ok {
		t.Fatalf("SolveJerk(%v, %v, %v, %v) did not converge", vI, vF, dist, maxJerk)
	}
	tm := math.Sqrt((vF - vI) / j)
	gotDist := 2*vI*tm + j*tm*tm*tm
	if math.Abs(gotDist-dist) > 1e-4 {
		t.Errorf("jerk %v covers %v, want %v", j, gotDist, dist)
	}
	if j > maxJerk*1.25 {
		t.Errorf("jerk %v exceeds relaxed ceiling %v", j, maxJerk*1.25)
	}
}

func TestSolveJerkNoSolution(t *testing.T) {
	// A distance far too short for the velocity change cannot
	// converge within the iteration cap.
	if _, ok := SolveJerk(0, 10, 1e-9, 100); ok {
		t.Errorf("SolveJerk converged on an infeasible move, want failure")
	}
}

func TestTime(t *testing.T) {
	if got := Time(0, 2, 20000); math.Abs(got-2*math.Sqrt(1e-4)) > 1e-15 {
		t.Errorf("Time(0,2,20000) = %v, want %v", got, 2*math.Sqrt(1e-4))
	}
	if got := Time(1, 2, 0); got != 0 {
		t.Errorf("Time(jerk=0) = %v, want 0", got)
	}
}

func TestTriangle(t *testing.T) {
	vI, vF, vMax, jerk := 0.0, 0.0, 8.6979, 20000.0
	dSVM := PlanDist(vI, vMax, jerk, 0) + PlanDist(vF, vMax, jerk, 0)
	dist := dSVM / 2 // too short to reach vMax

	peak := Triangle(vI, vF, vMax, jerk, dist)
	if peak <= 0 || peak >= vMax {
		t.Fatalf("Triangle peak = %v, want in (0, %v)", peak, vMax)
	}
	total := PlanDist(vI, peak, jerk, 0) + PlanDist(vF, peak, jerk, 0)
	if math.Abs(total-dist) > 1e-4 {
		t.Errorf("peak %v covers %v, want %v", peak, total, dist)
	}
}
