// Package domain holds the raster model shared by every stage of the
// extraction pipeline: georeferencing, 2D rasters, subsetting windows and
// the error taxonomy.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Affine maps pixel (col, row) indices to model coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// (col, row) = (0, 0) is the upper-left corner of the upper-left pixel.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps a pixel position to model coordinates.
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// Invert maps model coordinates back to fractional pixel coordinates.
func (a Affine) Invert(x, y float64) (col, row float64, err error) {
	det := a.A*a.E - a.B*a.D
	if det == 0 {
		return 0, 0, fmt.Errorf("affine transform is not invertible: %v", a)
	}
	dx := x - a.C
	dy := y - a.F
	col = (a.E*dx - a.B*dy) / det
	row = (a.A*dy - a.D*dx) / det
	return col, row, nil
}

// Translate returns the transform whose origin is moved to pixel (col, row).
func (a Affine) Translate(col, row int) Affine {
	x, y := a.Apply(float64(col), float64(row))
	out := a
	out.C = x
	out.F = y
	return out
}

// Scale returns the transform of a grid whose pixels are factor times larger.
func (a Affine) Scale(factorX, factorY float64) Affine {
	out := a
	out.A *= factorX
	out.D *= factorX
	out.B *= factorY
	out.E *= factorY
	return out
}

// Equal reports whether both transforms agree within a relative tolerance.
func (a Affine) Equal(b Affine, relTol float64) bool {
	pairs := [][2]float64{{a.A, b.A}, {a.B, b.B}, {a.C, b.C}, {a.D, b.D}, {a.E, b.E}, {a.F, b.F}}
	for _, p := range pairs {
		scale := math.Max(math.Abs(p[0]), math.Abs(p[1]))
		if scale == 0 {
			continue
		}
		if math.Abs(p[0]-p[1]) > relTol*math.Max(scale, 1) {
			return false
		}
	}
	return true
}

// Coefficients returns (a, b, c, d, e, f) in row-major order.
func (a Affine) Coefficients() [6]float64 {
	return [6]float64{a.A, a.B, a.C, a.D, a.E, a.F}
}

// NorthUp reports whether the transform has no rotation, a positive x scale and a negative y scale.
func (a Affine) NorthUp() bool {
	return a.B == 0 && a.D == 0 && a.A > 0 && a.E < 0
}

// String formats the coefficients.
func (a Affine) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g, %g, %g)", a.A, a.B, a.C, a.D, a.E, a.F)
}

// Georeference ties a raster grid to the earth.
type Georeference struct {
	CRS       string // EPSG:n, WKT or PROJ string.
	Transform Affine
}

// BoundingBox is an axis-aligned box in a stated reference system.
type BoundingBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
	CRS        string // Empty means EPSG:4326.
}

// Validate checks the min < max invariant.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox values must be finite: %v", b)
		}
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return fmt.Errorf("bbox must satisfy minx < maxx and miny < maxy: got %g,%g,%g,%g", b.MinX, b.MinY, b.MaxX, b.MaxY)
	}
	return nil
}

// Intersects reports whether two boxes in the same reference system overlap.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// ParseBoundingBox parses "minx,miny,maxx,maxy".
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bbox must be 'minx,miny,maxx,maxy', got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("invalid bbox value %q: %w", p, err)
		}
		vals[i] = v
	}
	b := BoundingBox{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Window is a half-open row/column index range.
// A negative stop means "to the array edge".
type Window struct {
	RowStart, RowStop int
	ColStart, ColStop int
}

// Resolve clamps the window to an array of the given size.
func (w Window) Resolve(rows, cols int) (r0, r1, c0, c1 int) {
	r0, r1 = resolveRange(w.RowStart, w.RowStop, rows)
	c0, c1 = resolveRange(w.ColStart, w.ColStop, cols)
	return r0, r1, c0, c1
}

func resolveRange(start, stop, n int) (int, int) {
	if stop < 0 || stop > n {
		stop = n
	}
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	return start, stop
}

// String formats the window as "y0:y1,x0:x1".
func (w Window) String() string {
	f := func(v int) string {
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	}
	return fmt.Sprintf("%d:%s,%d:%s", w.RowStart, f(w.RowStop), w.ColStart, f(w.ColStop))
}

// ParseWindow parses an index window "y0:y1,x0:x1".
// Empty bounds mean the respective array edge, so ":100,:" is valid.
func ParseWindow(s string) (Window, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("index window must be 'y0:y1,x0:x1', got %q", s)
	}
	r0, r1, err := parseSlice(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("invalid row range: %w", err)
	}
	c0, c1, err := parseSlice(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("invalid column range: %w", err)
	}
	return Window{RowStart: r0, RowStop: r1, ColStart: c0, ColStop: c1}, nil
}

func parseSlice(s string) (int, int, error) {
	bounds := strings.Split(s, ":")
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("expected 'start:stop', got %q", s)
	}
	start, stop := 0, -1
	if bounds[0] != "" {
		v, err := strconv.Atoi(bounds[0])
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("start must be a non-negative integer, got %q", bounds[0])
		}
		start = v
	}
	if bounds[1] != "" {
		v, err := strconv.Atoi(bounds[1])
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("stop must be a non-negative integer, got %q", bounds[1])
		}
		stop = v
	}
	if stop >= 0 && stop <= start {
		return 0, 0, fmt.Errorf("stop (%d) must be greater than start (%d)", stop, start)
	}
	return start, stop, nil
}
