// Package interp samples rasters at fractional pixel positions and reduces
// them to coarser resolutions.
package interp

import (
	"fmt"
	"math"
	"strings"

	"go.ngs.io/disp-cog/internal/domain"
)

// Method selects how a value is taken from a raster between pixel centres.
type Method string

const (
	Nearest  Method = "nearest"
	Bilinear Method = "bilinear"
)

// ParseMethod accepts "nearest" or "bilinear" (case-insensitive); empty means nearest.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", Nearest:
		return Nearest, nil
	case Bilinear:
		return Bilinear, nil
	}
	return "", fmt.Errorf("unknown sampling method %q (expected nearest or bilinear)", s)
}

// GridCell represents a cell in a regular grid with four corner values.
type GridCell struct {
	// Corner coordinates (forming a rectangle).
	X0, X1 float64
	Y0, Y1 float64

	// Values at the four corners:
	// V00: value at (X0, Y0).
	// V10: value at (X1, Y0).
	// V01: value at (X0, Y1).
	// V11: value at (X1, Y1).
	V00, V10, V01, V11 float64
}

// BilinearInterpolate performs bilinear interpolation within a grid cell
// Formula:
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// where:
//
//	t = (x - x0) / (x1 - x0)
//	u = (y - y0) / (y1 - y0)
//
// NaN corners are left out and the remaining weights renormalized; the result
// is NaN only when every contributing corner is NaN.
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	// Validate grid cell.
	if cell.X1 <= cell.X0 {
		return 0, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if cell.Y1 <= cell.Y0 {
		return 0, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	// Check if point is within cell (with small tolerance for floating point).
	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return 0, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return 0, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, cell.Y0, cell.Y1)
	}

	// Calculate normalized coordinates (0 to 1).
	t := (x - cell.X0) / (cell.X1 - cell.X0)
	u := (y - cell.Y0) / (cell.Y1 - cell.Y0)

	// Clamp to [0, 1] to handle edge cases with floating point precision.
	t = math.Max(0, math.Min(1, t))
	u = math.Max(0, math.Min(1, u))

	weights := [4]float64{(1 - t) * (1 - u), t * (1 - u), (1 - t) * u, t * u}
	values := [4]float64{cell.V00, cell.V10, cell.V01, cell.V11}
	var sum, wsum float64
	for i, v := range values {
		if weights[i] == 0 || math.IsNaN(v) {
			continue
		}
		sum += weights[i] * v
		wsum += weights[i]
	}
	if wsum == 0 {
		return math.NaN(), nil
	}
	return sum / wsum, nil
}

// Sample returns the value of r at the fractional pixel position (col, row),
// where (0, 0) is the upper-left corner of the first pixel.
// Positions outside the raster yield NaN.
func Sample(r *domain.Raster, col, row float64, m Method) float64 {
	if col < 0 || row < 0 || col >= float64(r.Cols) || row >= float64(r.Rows) || math.IsNaN(col) || math.IsNaN(row) {
		return math.NaN()
	}
	if m != Bilinear {
		return r.At(int(row), int(col))
	}

	// Bilinear works between pixel centres; edge pixels repeat outwards.
	cx := col - 0.5
	cy := row - 0.5
	c0 := clamp(int(math.Floor(cx)), 0, r.Cols-1)
	r0 := clamp(int(math.Floor(cy)), 0, r.Rows-1)
	c1 := clamp(c0+1, 0, r.Cols-1)
	r1 := clamp(r0+1, 0, r.Rows-1)
	cell := GridCell{
		X0: float64(c0), X1: float64(c0) + 1,
		Y0: float64(r0), Y1: float64(r0) + 1,
		V00: r.At(r0, c0), V10: r.At(r0, c1),
		V01: r.At(r1, c0), V11: r.At(r1, c1),
	}
	x := math.Max(cell.X0, math.Min(cell.X1, cx))
	y := math.Max(cell.Y0, math.Min(cell.Y1, cy))
	v, err := BilinearInterpolate(cell, x, y)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Resample builds a raster on target's grid whose cells are sampled from src.
// toSrc maps target model coordinates into src model coordinates.
func Resample(src, target *domain.Raster, toSrc func(x, y float64) (float64, float64, error), m Method) (*domain.Raster, error) {
	out := domain.NewRaster(src.Name, target.Rows, target.Cols)
	out.Geo = target.Geo
	for k, v := range src.Attrs {
		out.Attrs[k] = v
	}
	for i := 0; i < target.Rows; i++ {
		for j := 0; j < target.Cols; j++ {
			x, y := target.PixelCenter(i, j)
			sx, sy, err := toSrc(x, y)
			if err != nil {
				out.Set(i, j, math.NaN())
				continue
			}
			col, row, err := src.Geo.Transform.Invert(sx, sy)
			if err != nil {
				return nil, fmt.Errorf("failed to invert source transform: %w", err)
			}
			out.Set(i, j, Sample(src, col, row, m))
		}
	}
	return out, nil
}

func clamp(value, minVal, maxVal int) int {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}
