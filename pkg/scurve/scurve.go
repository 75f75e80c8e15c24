// S-curve velocity planning
//
// One-dimensional jerk-limited motion math. An S-curve move is a pair
// of collinear constant-jerk halves with acceleration zero at both
// endpoints, so position, velocity, and acceleration stay continuous
// across a chain of such moves. For the symmetric case with midpoint
// time t_m and jerk j:
//
//	dist = 2*v_in*t_m + j*t_m^3
//	v_f  = v_in + j*t_m^2
//	t_m  = sqrt(|v_f - v_in| / j)
//
// Acceleration and deceleration are mathematically identical under
// these relations, so every function here serves both directions.
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scurve

import "math"

// fallbackJerk substitutes a zero jerk input so the math stays
// defined when planning is invoked in constant-velocity contexts.
const fallbackJerk = 1000.0

// isClose reports near-equality with a relative tolerance of 1e-9
// and the given absolute tolerance.
func isClose(a, b, absTol float64) bool {
	return math.Abs(a-b) <= math.Max(1e-9*math.Max(math.Abs(a), math.Abs(b)), absTol)
}

// PlanDist returns the distance needed to accelerate (or, by
// symmetry, decelerate) between vIn and vMax at the given jerk.
// minTime, when positive, enforces a minimum full-move duration by
// stretching to a reduced-jerk solution. A zero minTime disables it.
func PlanDist(vIn, vMax, jerk, minTime float64) float64 {
	vIn = math.Abs(vIn)
	vMax = math.Abs(vMax)
	jerk = math.Abs(jerk)
	if jerk == 0 {
		jerk = fallbackJerk
	}

	tm := math.Sqrt(math.Abs(vMax-vIn) / jerk)
	dMax := 2*vIn*tm + jerk*tm*tm*tm

	if isClose(tm, 0, 0) { // already at max velocity
		return 0
	}

	if minTime > 0 && tm < minTime/2 {
		tm = minTime / 2
		// v_f - v_i = j*t_m^2; holding t_m fixed, solve for a lower jerk.
		jerkNew := math.Abs(vMax-vIn) / (tm * tm)
		dMax = 2*vIn*tm + jerkNew*tm*tm*tm
	}
	return dMax
}

// PlanVelocity returns the velocity reachable from vIn over dist
// without exceeding vMax, at the given jerk. By the symmetry noted
// above it answers both "what final speed can an acceleration reach"
// and "what initial speed still lets a deceleration finish in time".
// minTime, when positive, enforces a minimum full-move duration:
// either by reducing jerk, or, when the move cannot take that long
// even at constant speed, by recomputing it as a deceleration.
// ok is false when the governing cubic has no positive real root.
func PlanVelocity(vIn, vMax, jerk, dist, minTime float64) (v float64, ok bool) {
	vIn = math.Abs(vIn)
	vMax = math.Abs(vMax)
	jerk = math.Abs(jerk)
	if jerk == 0 {
		jerk = fallbackJerk
	}

	tm := math.Sqrt(math.Abs(vMax-vIn) / jerk)
	dMax := 2*vIn*tm + jerk*tm*tm*tm

	if minTime > 0 && tm < minTime/2 {
		tm = minTime / 2
		jerkNew := math.Abs(vMax-vIn) / (tm * tm)
		dMax = 2*vIn*tm + jerkNew*tm*tm*tm
	}

	dist = math.Abs(dist)
	if dist >= dMax || isClose(dist, dMax, 0) {
		return vMax, true
	}

	// Solve j*t_m^3 + 2*v_in*t_m - dist = 0 for the smallest
	// positive real root.
	tm = math.Inf(1)
	for _, root := range SolveCubic(jerk, 0, 2*vIn, -dist) {
		if root > 0 && root <= tm {
			tm = root
		}
	}
	if math.IsInf(tm, 1) {
		return 0, false
	}

	if minTime > 0 && tm < minTime/2 {
		tm = minTime / 2
		if vIn != 0 && dist/vIn < minTime {
			// The move is over before minTime even without
			// accelerating, so it must slow down instead.
			return math.Max((dist-vIn*tm)/tm, 0), true
		}
		jerk = math.Abs(dist-2*vIn*tm) / (tm * tm * tm)
	}

	return math.Min(vMax, vIn+jerk*tm*tm), true
}

// SolveJerk finds a reduced jerk value that covers dist while moving
// between vStart and vEnd, for moves where the full jerk limit would
// finish in less than the available distance. Bisection runs on the
// midpoint time between a floor set by the minimum command length
// and a ceiling from a slightly relaxed jerk limit. ok is false if
// 50 iterations pass without convergence.
func SolveJerk(vStart, vEnd, dist, maxJerk float64) (float64, bool) {
	return solveJerk(vStart, vEnd, dist, maxJerk, 0.003, 1.25)
}

// SolveJerkRelaxed is SolveJerk with a lower time floor and a more
// lenient jerk ceiling, used as a second-chance fallback.
func SolveJerkRelaxed(vStart, vEnd, dist, maxJerk float64) (float64, bool) {
	return solveJerk(vStart, vEnd, dist, maxJerk, 0.002, 1.3)
}

func solveJerk(vStart, vEnd, dist, maxJerk, tmFloor, leniency float64) (float64, bool) {
	vI := math.Min(vStart, vEnd)
	vF := math.Max(vStart, vEnd)

	// The jerk flips sign when dist == 2*v_i*t_m, so t_m must stay
	// below dist/(2*v_i); that forms the true lower bound.
	div := vI
	if div == 0 {
		div = 0.001
	}
	tmLower := math.Max(tmFloor, dist/(2*div))
	tmUpper := math.Sqrt((vF - vI) / (maxJerk * leniency))
	tm := tmLower + tmUpper/10 // start near the lower bound

	for iteration := 0; iteration < 50; iteration++ {
		jTemp := math.Abs(dist-2*vI*tm) / (tm * tm * tm)
		vfTemp := vI + jTemp*tm*tm

		if isClose(vfTemp, vF, 1e-6) {
			return jTemp, true
		}
		if vfTemp > vF { // acceleration runs too long
			tmUpper = tm
		} else {
			tmLower = tm
		}
		tm = (tmLower + tmUpper) / 2.0
	}
	return 0, false
}

// Time returns the full travel time of an S-curve move between vI
// and vF at the given jerk, or 0 if jerk is 0.
func Time(vI, vF, jerk float64) float64 {
	if jerk == 0 {
		return 0
	}
	return 2 * math.Sqrt(math.Abs((vF-vI)/jerk))
}

// Triangle computes the peak velocity of a move built from a
// back-to-back acceleration and deceleration ("triangle" profile):
// long enough to exceed both endpoint speeds, too short to reach
// vMax. Bisection converges on the peak whose accel+decel distance
// matches dist within 1e-5 inch.
func Triangle(vI, vF, vMax, jerk, dist float64) float64 {
	lower := math.Max(vI, vF)
	upper := vMax

	testV := (lower + upper) / 2.0
	for i := 0; i < 200; i++ {
		testV = (lower + upper) / 2.0
		testDist := PlanDist(vI, testV, jerk, 0) + PlanDist(vF, testV, jerk, 0)

		if isClose(testDist, dist, 1e-5) {
			return testV
		}
		if testDist > dist { // peak too high
			upper = testV
		} else {
			lower = testV
		}
	}
	return testV
}
