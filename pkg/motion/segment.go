// Straight segment compilation
//
// Converts one straight stroke with planned entry and exit speeds
// into a short list of T3/TD motion commands. Positions and speeds
// come in as inches and inch/s; within this file they are converted
// to native motor steps and ISR rate units.
//
// Native motor axes are Motor 1 and Motor 2:
//
//	motor_dist1 = dx + dy
//	motor_dist2 = dx - dy
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"plotdrive/pkg/ebb"
	"plotdrive/pkg/params"
	"plotdrive/pkg/scurve"
)

// Maximum distances covered by one motor step in low-res and
// high-res modes, rounded up. Movements shorter than these are
// likely to be under one step and are skipped.
const (
	MaxStepDistLowRes  = 0.000696 // ~1/(1016 sqrt(2)) inch
	MaxStepDistHighRes = 0.000348 // ~1/(2032 sqrt(2)) inch
)

// Subsegment profile codes.
const (
	subsegAccel = 1 // S-curve, accelerating
	subsegDecel = 2 // S-curve, decelerating
	subsegConst = 3 // constant velocity
)

// Segment is one straight stroke to compile: a destination and the
// planned speeds at its two ends.
type Segment struct {
	X, Y   float64 // destination, inches
	VI, VF float64 // entry and exit speed along the segment, inch/s

	// IgnoreLimits skips bounds clipping for this segment.
	IgnoreLimits bool
}

// Compiler turns segments and polylines into motion command lists.
type Compiler struct {
	Plan params.Planner

	// BoundsTolerance is the clipping slack before a destination
	// outside the travel bounds raises the Bounded flag.
	BoundsTolerance float64

	// Bounded latches true once any destination was clipped by more
	// than the tolerance.
	Bounded bool
}

// NewCompiler returns a Compiler for the given planner parameters.
func NewCompiler(plan params.Planner, boundsTolerance float64) *Compiler {
	return &Compiler{Plan: plan, BoundsTolerance: boundsTolerance}
}

func isClose(a, b, absTol float64) bool {
	diff := math.Abs(a - b)
	rel := 1e-9 * math.Max(math.Abs(a), math.Abs(b))
	return diff <= math.Max(rel, absTol)
}

// clipTol clamps value to [lower, upper]. The flagged result is true
// only when the excursion exceeded the tolerance.
func clipTol(value, lower, upper, tolerance float64) (float64, bool) {
	if value > upper {
		return upper, value > upper+tolerance
	}
	if value < lower {
		return lower, value < lower-tolerance
	}
	return value, false
}

// CompileSegment compiles one straight segment starting from pos,
// advancing pos to the modeled end state. It returns nil when the
// move rounds to less than one motor step or cannot be planned.
func (c *Compiler) CompileSegment(seg Segment, pos *PenPosition) []Command {
	if !pos.Defined {
		return nil
	}

	plan := c.Plan
	constVelMode := plan.ConstSpeed && !pos.PenUp

	xDest, yDest := seg.X, seg.Y
	if !seg.IgnoreLimits && !plan.IgnoreBounds {
		var xb, yb bool
		xDest, xb = clipTol(xDest, plan.Bounds.XMin, plan.Bounds.XMax, c.BoundsTolerance)
		yDest, yb = clipTol(yDest, plan.Bounds.YMin, plan.Bounds.YMax, c.BoundsTolerance)
		if xb || yb {
			c.Bounded = true
		}
	}

	dx := xDest - pos.X
	dy := yDest - pos.Y

	stepScale := plan.StepScale()
	motorSteps1 := int64(math.Round(stepScale * (dx + dy)))
	motorSteps2 := int64(math.Round(stepScale * (dx - dy)))

	if motorSteps1 == 0 && motorSteps2 == 0 {
		return nil
	}

	// Track the rounded step distance, not the requested distance.
	dist1 := float64(motorSteps1) / (2.0 * stepScale)
	dist2 := float64(motorSteps2) / (2.0 * stepScale)
	distInch := math.Hypot(dist1+dist2, dist1-dist2)

	jerkUp, jerkDown := plan.EffectiveJerks()
	var speedLimit, jerkRate float64
	if pos.PenUp {
		speedLimit = plan.SpeedPenUp
		jerkRate = jerkUp
	} else {
		speedLimit = plan.SpeedPenDown
		jerkRate = jerkDown
	}

	vi, vf := seg.VI, seg.VF
	if constVelMode {
		vi = speedLimit
		vf = speedLimit
	} else {
		vi = math.Min(vi, speedLimit)
		vf = math.Min(vf, speedLimit)
	}

	// Per-subsegment profile data. The last subsegment always ends at
	// the final position and speed, so dists and vels carry one entry
	// less than subsegs.
	var subsegs []int
	var dists, vels, jerks []float64

	var accelDist, decelDist float64

	caseNum := 0
	constSpeedTime := 100.0 // not a short-duration segment
	if !isClose(vi, 0, 0) {
		constSpeedTime = distInch / vi
	}

	switch {
	case constVelMode || (isClose(vi, speedLimit, 0) && isClose(vf, speedLimit, 0)):
		caseNum = 3

	case isClose(vi, vf, 1e-2) && constSpeedTime < 0.013:
		// Very short transit time; run at constant speed to reduce
		// the number of motion commands.
		caseNum = 3

	case isClose(vi, vf, 1e-2) && constSpeedTime < 0.030 && vi > speedLimit/2:
		caseNum = 3

	default:
		// Distances needed to S-curve to and from the speed limit,
		// and the minimum distance for a direct speed change.
		accelDist = scurve.PlanDist(vi, speedLimit, jerkRate, 0)
		decelDist = scurve.PlanDist(vf, speedLimit, jerkRate, 0)
		distSVM := accelDist + decelDist

		var distSSE float64
		if vi <= vf {
			distSSE = scurve.PlanDist(vi, vf, jerkRate, 0)
		} else {
			distSSE = scurve.PlanDist(vf, vi, jerkRate, 0)
		}

		if distInch >= distSVM {
			// Long enough to reach the speed limit.
			switch {
			case isClose(vi, speedLimit, 0):
				if isClose(distInch, distSVM, 0) {
					caseNum = 2
				} else {
					caseNum = 4
				}
			case isClose(vf, speedLimit, 0):
				if isClose(distInch, distSVM, 0) {
					caseNum = 1
				} else {
					caseNum = 5
				}
			default:
				caseNum = 6
			}
		} else {
			switch {
			case isClose(vi, vf, 1e-3) && isClose(vi, 0, 1e-3):
				// Moves that start and stop at zero speed are always
				// triangle moves.
				caseNum = 7
			case distInch > distSSE:
				caseNum = 7
			case isClose(distInch, distSSE, 1e-3):
				// Only enough room to change directly to the final
				// speed, with tolerance for discretization error.
				if vi < vf {
					caseNum = 1
				} else {
					caseNum = 2
				}
			}
		}
	}

	jerks = append(jerks, jerkRate)

	switch caseNum {
	case 1:
		subsegs = append(subsegs, subsegAccel)
	case 2:
		subsegs = append(subsegs, subsegDecel)
	case 3:
		subsegs = append(subsegs, subsegConst)
	case 4: // constant speed at the limit, then decelerate
		subsegs = append(subsegs, subsegConst)
		dists = append(dists, distInch-decelDist)
		vels = append(vels, speedLimit)

		subsegs = append(subsegs, subsegDecel)
		jerks = append(jerks, jerkRate)
	case 5: // accelerate to the limit, then constant speed
		subsegs = append(subsegs, subsegAccel)
		dists = append(dists, accelDist)
		vels = append(vels, speedLimit)

		subsegs = append(subsegs, subsegConst)
		jerks = append(jerks, jerkRate)
	case 6: // full trapezoid: accelerate, cruise, decelerate
		subsegs = append(subsegs, subsegAccel)
		dists = append(dists, accelDist)
		vels = append(vels, speedLimit)

		subsegs = append(subsegs, subsegConst)
		dists = append(dists, distInch-decelDist)
		vels = append(vels, speedLimit)

		subsegs = append(subsegs, subsegDecel)
		jerks = append(jerks, jerkRate)
		jerks = append(jerks, jerkRate)
	case 7: // triangle move that never reaches the speed limit
		vMid := scurve.Triangle(vi, vf, speedLimit, jerkRate, distInch)

		time1 := scurve.Time(vi, vMid, jerkRate)
		time2 := scurve.Time(vMid, vf, jerkRate)

		time3 := 0.0
		if jTemp, ok := scurve.SolveJerk(vi, vf, distInch, jerkRate); ok {
			time3 = scurve.Time(vi, vf, jTemp)
		}

		// Skip the triangle if it would be slower than a single
		// reduced-jerk move, or too short for two motion commands.
		if time3 != 0 && (time1+time2 > time3 || time1+time2 < 0.012) {
			caseNum = 0
		} else {
			subsegs = append(subsegs, subsegAccel)
			dists = append(dists, scurve.PlanDist(vi, vMid, jerkRate, 0))
			vels = append(vels, vMid)

			subsegs = append(subsegs, subsegDecel)
			jerks = append(jerks, jerkRate)
		}
	}

	if caseNum == 0 {
		// The move needs reduced jerk: its duration was stretched to
		// avoid an overly short command.
		jTemp, ok := scurve.SolveJerk(vi, vf, distInch, jerkRate)
		if !ok {
			jTemp, ok = scurve.SolveJerkRelaxed(vi, vf, distInch, jerkRate)
		}
		if !ok {
			return nil
		}
		jerks[len(jerks)-1] = jTemp
		if vi < vf {
			subsegs = append(subsegs, subsegAccel)
		} else {
			subsegs = append(subsegs, subsegDecel)
		}
	}

	return compileSubsegments(pos, vi, vf, motorSteps1, motorSteps2,
		stepScale, distInch, subsegs, dists, vels, jerks)
}

// compileSubsegments converts the per-subsegment profile data into
// T3/TD commands, threading the modeled position and accumulators.
func compileSubsegments(pos *PenPosition, vi, vf float64, motorSteps1, motorSteps2 int64,
	stepScale, segLen float64, subsegs []int, dists, vels, jerks []float64) []Command {

	// Direction of the full segment gives the direction of velocity,
	// scaled by sqrt(2) as a shortcut for the motor scaling.
	norm1, norm2 := ebb.AxisNorms(motorSteps1, motorSteps2)

	var prevMotor1, prevMotor2 int64
	prevVel1 := ebb.VelToISR(vi, stepScale, norm1)
	prevVel2 := ebb.VelToISR(vi, stepScale, norm2)

	var moves []Command

	for index, kind := range subsegs {
		var dest1, dest2 int64
		var subsegVF float64
		if index == len(subsegs)-1 {
			// The last subsegment always ends at the required final
			// position and speed.
			dest1 = motorSteps1
			dest2 = motorSteps2
			subsegVF = vf
		} else {
			subsegVF = vels[index]
			dest1 = int64(math.Round(float64(motorSteps1) * dists[index] / segLen))
			dest2 = int64(math.Round(float64(motorSteps2) * dists[index] / segLen))
		}

		stepsSubseg1 := dest1 - prevMotor1
		stepsSubseg2 := dest2 - prevMotor2

		velISR1 := ebb.VelToISR(subsegVF, stepScale, norm1)
		velISR2 := ebb.VelToISR(subsegVF, stepScale, norm2)

		jerkISR1 := ebb.JerkToISR(jerks[index], stepScale, norm1)
		jerkISR2 := ebb.JerkToISR(jerks[index], stepScale, norm2)

		switch kind {
		case subsegAccel, subsegDecel:
			// An S-curve is one TD command: a T3 with jerk toward
			// the target speed, then a mirrored T3 carrying the
			// acceleration reached at the midpoint.
			j1 := int64(math.Round(jerkISR1))
			j2 := int64(math.Round(jerkISR2))
			if kind == subsegDecel {
				j1 = -j1
				j2 = -j2
			}

			var t1, t2 int64
			if j1 != 0 {
				t1 = int64(math.Round(math.Sqrt(math.Abs(float64(velISR1-prevVel1) / float64(j1)))))
			}
			if j2 != 0 {
				t2 = int64(math.Round(math.Sqrt(math.Abs(float64(velISR2-prevVel2) / float64(j2)))))
			}

			// Pick the authoritative axis by larger step count; the
			// larger time fails when one axis moves zero steps.
			testDist1, _ := ebb.MoveDistT3(t1, prevVel1, 0, j1, 0)
			testDist2, _ := ebb.MoveDistT3(t2, prevVel2, 0, j2, 0)
			moveTime := t2
			if abs64(testDist1) > abs64(testDist2) {
				moveTime = t1
			}
			if moveTime == 0 {
				continue
			}

			var a1, a2 int64
			if kind == subsegAccel {
				a1 = int64(math.Round(jerkISR1 * float64(moveTime)))
				a2 = int64(math.Round(jerkISR2 * float64(moveTime)))
			} else {
				a1 = int64(math.Round(-jerkISR1 * float64(moveTime)))
				a2 = int64(math.Round(-jerkISR2 * float64(moveTime)))
			}

			// Second half starts at the end rate of the first, with
			// the acceleration applied.
			vel1 := ebb.RateT3(moveTime, prevVel1, 0, j1)
			vel2 := ebb.RateT3(moveTime, prevVel2, 0, j2)

			td := TDParams{
				Ticks:  moveTime,
				Rate1A: prevVel1, Rate1B: vel1 + a1, Accel1: a1, Jerk1: j1,
				Rate2A: prevVel2, Rate2B: vel2 + a2, Accel2: a2, Jerk2: j2,
			}

			tdSteps1, tdSteps2, tdDist, rate1, rate2 := pos.ApplyTD(td, stepScale)
			prevVel1 = rate1
			prevVel2 = rate2
			prevMotor1 += tdSteps1
			prevMotor2 += tdSteps2

			moves = append(moves, TDMove{Params: td, Seg: SegData{Dist: tdDist, Final: *pos}})

		case subsegConst:
			// Constant velocity; transit time is distance over rate.
			var t1, t2 int64
			if velISR1 != 0 {
				t1 = int64(math.Ceil(math.Abs(float64(stepsSubseg1) / (float64(velISR1) / ebb.FixedScale))))
			}
			if velISR2 != 0 {
				t2 = int64(math.Ceil(math.Abs(float64(stepsSubseg2) / (float64(velISR2) / ebb.FixedScale))))
			}

			testDist1, _ := ebb.MoveDistT3(t1, velISR1, 0, 0, 0)
			testDist2, _ := ebb.MoveDistT3(t2, velISR2, 0, 0, 0)
			moveTime := t2
			if abs64(testDist1) > abs64(testDist2) {
				moveTime = t1
			}
			if moveTime == 0 {
				continue
			}

			t3 := T3Params{Ticks: moveTime, Rate1: velISR1, Rate2: velISR2}

			t3Steps1, t3Steps2, t3Dist, rate1, rate2 := pos.ApplyT3(t3, stepScale)
			prevVel1 = rate1
			prevVel2 = rate2
			prevMotor1 += t3Steps1
			prevMotor2 += t3Steps2

			moves = append(moves, T3Move{Params: t3, Seg: SegData{Dist: t3Dist, Final: *pos}})
		}
	}

	return moves
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
