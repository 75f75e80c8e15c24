// Preview move recording
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dripfeed

// PreviewMove is one simulated motion command.
type PreviewMove struct {
	Wire       string
	DurationMs int64
	PenUp      bool
	FromX      float64
	FromY      float64
	ToX        float64
	ToY        float64
}

// Polyline is a run of consecutive positions at a constant pen state.
type Polyline struct {
	PenUp  bool
	Points [][2]float64
}

// Recorder accumulates the moves of a preview run, both as the raw
// command list and as polylines split by pen state, suitable for
// rendering the planned plot.
type Recorder struct {
	Moves []PreviewMove

	// Paths holds the travel as polylines, one per continuous run
	// of a single pen state.
	Paths []Polyline
}

// Log records one simulated move.
func (r *Recorder) Log(wire string, durationMs int64, penUp bool, fromX, fromY, toX, toY float64) {
	r.Moves = append(r.Moves, PreviewMove{
		Wire:       wire,
		DurationMs: durationMs,
		PenUp:      penUp,
		FromX:      fromX,
		FromY:      fromY,
		ToX:        toX,
		ToY:        toY,
	})

	n := len(r.Paths)
	if n == 0 || r.Paths[n-1].PenUp != penUp {
		r.Paths = append(r.Paths, Polyline{
			PenUp:  penUp,
			Points: [][2]float64{{fromX, fromY}},
		})
		n++
	}
	r.Paths[n-1].Points = append(r.Paths[n-1].Points, [2]float64{toX, toY})
}

// Reset clears all recorded data.
func (r *Recorder) Reset() {
	r.Moves = nil
	r.Paths = nil
}
