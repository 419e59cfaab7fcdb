package domain

import (
	"fmt"
	"math"
)

// InferTransform derives the affine transform of a regular grid from its
// pixel-centre coordinate arrays.
//
// Coordinates increasing with row index (south-up storage) are flipped to
// north-up: the origin moves to the last row and the y scale becomes negative.
// Callers that hold the data must reverse its rows to match (see NeedsFlip).
func InferTransform(x, y []float64) (Affine, error) {
	if len(x) < 2 {
		return Affine{}, &InvalidGridError{Axis: "x", Reason: fmt.Sprintf("need at least 2 samples, got %d", len(x))}
	}
	if len(y) < 2 {
		return Affine{}, &InvalidGridError{Axis: "y", Reason: fmt.Sprintf("need at least 2 samples, got %d", len(y))}
	}

	dx := x[1] - x[0]
	dyRaw := y[1] - y[0]
	if dx == 0 || math.IsNaN(dx) {
		return Affine{}, &InvalidGridError{Axis: "x", Reason: "zero or undefined spacing"}
	}
	if dyRaw == 0 || math.IsNaN(dyRaw) {
		return Affine{}, &InvalidGridError{Axis: "y", Reason: "zero or undefined spacing"}
	}

	// Shift from pixel-centre to pixel-corner convention.
	x0 := x[0] - dx/2

	var y0, dy float64
	if dyRaw > 0 {
		y0 = y[len(y)-1] + dyRaw/2
		dy = -math.Abs(dyRaw)
	} else {
		y0 = y[0] - dyRaw/2
		dy = dyRaw
	}

	return Affine{A: dx, B: 0, C: x0, D: 0, E: dy, F: y0}, nil
}

// NeedsFlip reports whether data stored along y must be reversed to match InferTransform.
func NeedsFlip(y []float64) bool {
	return len(y) >= 2 && y[1]-y[0] > 0
}

// CheckRegular verifies that coordinates are evenly spaced within relTol of the first step.
func CheckRegular(axis string, coords []float64, relTol float64) error {
	if len(coords) < 2 {
		return &InvalidGridError{Axis: axis, Reason: fmt.Sprintf("need at least 2 samples, got %d", len(coords))}
	}
	step := coords[1] - coords[0]
	if step == 0 || math.IsNaN(step) {
		return &InvalidGridError{Axis: axis, Reason: "zero or undefined spacing"}
	}
	tol := math.Abs(step) * relTol
	for i := 2; i < len(coords); i++ {
		d := coords[i] - coords[i-1]
		if math.Abs(d-step) > tol {
			return &InvalidGridError{
				Axis:   axis,
				Reason: fmt.Sprintf("irregular spacing at index %d: %g vs %g", i, d, step),
			}
		}
	}
	return nil
}
