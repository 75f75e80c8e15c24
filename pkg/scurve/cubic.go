// Cubic equation solver for S-curve motion planning
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scurve

import "math"

// SolveCubic returns the real roots of a*x^3 + b*x^2 + c*x + d = 0.
// Degenerate leading coefficients fall through to the quadratic and
// linear cases. Roots are returned in no particular order.
func SolveCubic(a, b, c, d float64) []float64 {
	if a == 0 {
		return solveQuadratic(b, c, d)
	}

	// Depress: substitute x = t - b/(3a) giving t^3 + p*t + q = 0.
	shift := b / (3 * a)
	p := (3*a*c - b*b) / (3 * a * a)
	q := (2*b*b*b - 9*a*b*c + 27*a*a*d) / (27 * a * a * a)

	disc := q*q/4 + p*p*p/27

	switch {
	case disc > 0:
		// One real root.
		s := math.Sqrt(disc)
		t := math.Cbrt(-q/2+s) + math.Cbrt(-q/2-s)
		return []float64{t - shift}

	case disc == 0:
		if p == 0 {
			return []float64{-shift}
		}
		// Repeated roots.
		t1 := 3 * q / p
		t2 := -3 * q / (2 * p)
		return []float64{t1 - shift, t2 - shift}

	default:
		// Three distinct real roots (trigonometric method).
		m := 2 * math.Sqrt(-p/3)
		theta := math.Acos(3*q/(p*m)) / 3
		roots := make([]float64, 0, 3)
		for k := 0; k < 3; k++ {
			t := m * math.Cos(theta-2*math.Pi*float64(k)/3)
			roots = append(roots, t-shift)
		}
		return roots
	}
}

func solveQuadratic(a, b, c float64) []float64 {
	if a == 0 {
		if b == 0 {
			return nil
		}
		return []float64{-c / b}
	}
	disc := b*b - 4*a*c
	if disc < 0 {
		return nil
	}
	s := math.Sqrt(disc)
	return []float64{(-b + s) / (2 * a), (-b - s) / (2 * a)}
}
