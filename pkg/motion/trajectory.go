// Polyline trajectory planning
//
// Forward and reverse look-ahead over a polyline: junction speeds
// are limited first by what jerk allows over each segment length,
// then by cornering angle, then by a reverse pass that guarantees
// every deceleration fits in the distance available.
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"plotdrive/pkg/params"
	"plotdrive/pkg/scurve"
)

// Vertex is one point of a polyline, in inches.
type Vertex struct {
	X, Y float64
}

// PlotPolyline plans a complete pen-down path: an initial pen
// lowering, the planned trajectory, and a final pen raising. It
// returns nil when the polyline produces no motion.
func (c *Compiler) PlotPolyline(vertices []Vertex, pos *PenPosition) []Command {
	work := *pos
	work.PenUp = false

	middle := c.PlanTrajectory(vertices, &work)
	if middle == nil {
		return nil
	}
	*pos = work

	moves := make([]Command, 0, len(middle)+2)
	moves = append(moves, PenLower{})
	moves = append(moves, middle...)
	moves = append(moves, PenRaise{})
	return moves
}

// PlanTrajectory plans the motion for a polyline, accounting for
// acceleration, and advances pos to the modeled end state.
func (c *Compiler) PlanTrajectory(vertices []Vertex, pos *PenPosition) []Command {
	if len(vertices) < 2 || !pos.Defined {
		return nil
	}

	// Simple two-point paths skip the look-ahead entirely.
	if len(vertices) < 3 {
		last := vertices[len(vertices)-1]
		return c.CompileSegment(Segment{X: last.X, Y: last.Y}, pos)
	}

	speedLimit := c.Plan.SpeedPenDown
	jerkUp, jerkDown := c.Plan.EffectiveJerks()
	jerkRate := jerkDown
	if pos.PenUp {
		speedLimit = c.Plan.SpeedPenUp
		jerkRate = jerkUp
	}

	minDist := MaxStepDistLowRes
	if c.Plan.Resolution == params.ResHigh {
		minDist = MaxStepDistHighRes
	}

	// Collapse near-zero length segments, keeping segment lengths,
	// unit direction vectors, and the usable vertices.
	dists := []float64{0}
	var vectors [][2]float64
	var trimmed []Vertex

	lastIndex := 0
	for i := 1; i < len(vertices); i++ {
		dx := vertices[i].X - vertices[lastIndex].X
		dy := vertices[i].Y - vertices[lastIndex].Y
		dist := math.Hypot(dx, dy)
		if dist < minDist {
			continue
		}
		dists = append(dists, dist)
		vectors = append(vectors, [2]float64{dx / dist, dy / dist})
		trimmed = append(trimmed, vertices[i])
		lastIndex = i
	}

	n := len(dists)
	if n < 2 {
		return nil
	}
	if n < 3 {
		// Just a line after trimming.
		return c.CompileSegment(Segment{X: trimmed[0].X, Y: trimmed[0].Y}, pos)
	}

	// Forward pass: the speed reachable at each junction from jerk
	// alone, then capped by the cornering angle. Movement segments
	// should average at least several ms long, hence the minimum time.
	vels := make([]float64, 1, n)
	for i := 1; i < n-1; i++ {
		vMax, ok := scurve.PlanVelocity(vels[i-1], speedLimit, jerkRate, dists[i], 0.007)
		if !ok {
			vels = append(vels, 0)
			continue
		}

		// Cosine of the angle between incoming and outgoing
		// directions; anything past 90 degrees stops dead.
		cosine := vectors[i-1][0]*vectors[i][0] + vectors[i-1][1]*vectors[i][1]
		if cosine < 0 {
			cosine = 0
		}

		// Fast corners are constrained harder than slow ones,
		// and nothing corners above 80% of the speed limit.
		if vMax > speedLimit*0.5 {
			vMax = math.Min(vMax, vMax*cosine*cosine*cosine*cosine)
		} else if vMax > speedLimit*0.25 {
			vMax = math.Min(vMax, vMax*cosine)
		}
		vMax = math.Min(vMax, speedLimit*0.8)

		vels = append(vels, vMax)
	}
	vels = append(vels, 0) // always stop at the final vertex

	// Reverse pass: limit junction speeds so that every deceleration
	// fits within its segment.
	for i := n - 1; i >= 1; i-- {
		vFinal := vels[i]
		vInitial := vels[i-1]
		if dists[i] <= 0 || vInitial < vFinal || isClose(vInitial, vFinal, 1e-9) {
			continue
		}
		vInitMax, ok := scurve.PlanVelocity(vFinal, speedLimit, jerkRate, dists[i], 0.007)
		if ok {
			vels[i-1] = math.Min(vInitial, vInitMax)
		}
	}

	var moves []Command
	for i := 0; i < n-1; i++ {
		seg := Segment{
			X: trimmed[i].X, Y: trimmed[i].Y,
			VI: vels[i], VF: vels[i+1],
		}
		moves = append(moves, c.CompileSegment(seg, pos)...)
	}
	return moves
}
