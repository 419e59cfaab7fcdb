package domain

import (
	"fmt"
	"math"
	"strconv"
)

// Role is the semantic purpose of a variable inside a granule.
type Role int

const (
	// RolePrimary is the value being extracted (displacement, water mask).
	RolePrimary Role = iota
	// RoleQuality is a confidence layer such as temporal coherence.
	RoleQuality
	// RoleUncertainty is the per-pixel uncertainty of the primary value.
	RoleUncertainty
	// RoleValidity is a boolean validity layer such as a layover/shadow mask.
	RoleValidity
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary_value"
	case RoleQuality:
		return "quality_confidence"
	case RoleUncertainty:
		return "uncertainty"
	case RoleValidity:
		return "validity_mask"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// Attributes holds variable or dataset attributes.
// Values are strings, float64, int64 or slices of those.
type Attributes map[string]any

// String returns a string attribute.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float64 returns the first element of a numeric attribute.
func (a Attributes) Float64(key string) (float64, bool) {
	vals, ok := a.Float64s(key)
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// Float64s returns a numeric attribute as a slice.
func (a Attributes) Float64s(key string) ([]float64, bool) {
	v, ok := a[key]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case float64:
		return []float64{t}, true
	case int64:
		return []float64{float64(t)}, true
	case []float64:
		return t, true
	case []int64:
		out := make([]float64, len(t))
		for i, x := range t {
			out[i] = float64(x)
		}
		return out, true
	}
	return nil, false
}

// RasterVariable describes one N-dimensional variable of an opened dataset.
type RasterVariable struct {
	Name  string
	Dims  []string
	Shape []int
	Attrs Attributes
	DType string
	Geo   *Georeference
}

// Raster is a georeferenced 2D (y, x) array in row-major order.
// NaN marks invalid cells.
type Raster struct {
	Name  string
	Rows  int
	Cols  int
	Data  []float64
	Geo   Georeference
	Attrs Attributes
}

// NewRaster allocates a zero-filled raster.
func NewRaster(name string, rows, cols int) *Raster {
	return &Raster{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Data:  make([]float64, rows*cols),
		Attrs: Attributes{},
	}
}

// At returns the value at (row, col).
func (r *Raster) At(row, col int) float64 {
	return r.Data[row*r.Cols+col]
}

// Set stores a value at (row, col).
func (r *Raster) Set(row, col int, v float64) {
	r.Data[row*r.Cols+col] = v
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Data = append([]float64(nil), r.Data...)
	out.Attrs = make(Attributes, len(r.Attrs))
	for k, v := range r.Attrs {
		out.Attrs[k] = v
	}
	return &out
}

// Sub returns the half-open [r0, r1) x [c0, c1) window with its transform shifted.
func (r *Raster) Sub(r0, r1, c0, c1 int) (*Raster, error) {
	if r0 < 0 || c0 < 0 || r1 > r.Rows || c1 > r.Cols || r0 >= r1 || c0 >= c1 {
		return nil, fmt.Errorf("window [%d:%d, %d:%d] outside raster %dx%d: %w", r0, r1, c0, c1, r.Rows, r.Cols, ErrNoOverlap)
	}
	out := NewRaster(r.Name, r1-r0, c1-c0)
	for i := r0; i < r1; i++ {
		copy(out.Data[(i-r0)*out.Cols:(i-r0+1)*out.Cols], r.Data[i*r.Cols+c0:i*r.Cols+c1])
	}
	out.Geo = Georeference{CRS: r.Geo.CRS, Transform: r.Geo.Transform.Translate(c0, r0)}
	for k, v := range r.Attrs {
		out.Attrs[k] = v
	}
	return out, nil
}

// FlipRows reverses row order in place.
func (r *Raster) FlipRows() {
	for top, bottom := 0, r.Rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := r.Data[top*r.Cols : (top+1)*r.Cols]
		b := r.Data[bottom*r.Cols : (bottom+1)*r.Cols]
		for j := range a {
			a[j], b[j] = b[j], a[j]
		}
	}
}

// Bounds returns the extent of the raster in its own CRS.
func (r *Raster) Bounds() BoundingBox {
	b := BoundingBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1), CRS: r.Geo.CRS}
	for _, c := range [][2]float64{{0, 0}, {float64(r.Cols), 0}, {0, float64(r.Rows)}, {float64(r.Cols), float64(r.Rows)}} {
		x, y := r.Geo.Transform.Apply(c[0], c[1])
		b.MinX = math.Min(b.MinX, x)
		b.MaxX = math.Max(b.MaxX, x)
		b.MinY = math.Min(b.MinY, y)
		b.MaxY = math.Max(b.MaxY, y)
	}
	return b
}

// PixelCenter returns the model coordinates of the centre of (row, col).
func (r *Raster) PixelCenter(row, col int) (x, y float64) {
	return r.Geo.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
}

// CountNaN returns the number of invalid cells.
func (r *Raster) CountNaN() int {
	n := 0
	for _, v := range r.Data {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
