// Package subset crops rasters to a bounding box, a GeoJSON polygon or an
// index window.
package subset

import (
	"fmt"
	"math"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/domain"
)

// Request selects an area of interest. Exactly one of BBox and Polygon is set.
type Request struct {
	BBox       *domain.BoundingBox
	Polygon    []byte // GeoJSON
	PolygonCRS string // empty means EPSG:4326
}

// Validate fails with *domain.AmbiguousSubsetRequestError unless exactly one
// selector is present.
func (r Request) Validate() error {
	hasBBox, hasPolygon := r.BBox != nil, len(r.Polygon) > 0
	if hasBBox == hasPolygon {
		return &domain.AmbiguousSubsetRequestError{HasBBox: hasBBox, HasPolygon: hasPolygon}
	}
	if hasBBox {
		return r.BBox.Validate()
	}
	return nil
}

// Clip applies the request to r.
func Clip(r *domain.Raster, req Request) (*domain.Raster, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.BBox != nil {
		return ClipBBox(r, *req.BBox)
	}
	return ClipPolygon(r, req.Polygon, req.PolygonCRS)
}

// ClipBBox returns the smallest pixel window of r that intersects bbox. A box
// in another CRS is reprojected by its four corners and replaced by their
// envelope.
func ClipBBox(r *domain.Raster, bbox domain.BoundingBox) (*domain.Raster, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	env, err := toRasterCRS(bbox, r.Geo.CRS)
	if err != nil {
		return nil, err
	}
	return cropToEnvelope(r, env)
}

func toRasterCRS(b domain.BoundingBox, dst string) (domain.BoundingBox, error) {
	src := b.CRS
	if src == "" {
		src = crs.WGS84
	}
	if crs.Same(src, dst) {
		b.CRS = dst
		return b, nil
	}
	tr, err := crs.NewTransformer(src, dst)
	if err != nil {
		return domain.BoundingBox{}, fmt.Errorf("failed to reproject bbox: %w", err)
	}
	env := emptyEnvelope(dst)
	for _, c := range [][2]float64{{b.MinX, b.MinY}, {b.MinX, b.MaxY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}} {
		x, y, err := tr(c[0], c[1])
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("failed to reproject bbox corner (%g, %g): %w", c[0], c[1], err)
		}
		extend(&env, x, y)
	}
	return env, nil
}

func emptyEnvelope(crsString string) domain.BoundingBox {
	return domain.BoundingBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1), CRS: crsString}
}

func extend(b *domain.BoundingBox, x, y float64) {
	b.MinX = math.Min(b.MinX, x)
	b.MaxX = math.Max(b.MaxX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxY = math.Max(b.MaxY, y)
}

// pixelWindow maps an envelope in the raster's CRS to the half-open pixel
// window of every cell it touches, clamped to the raster.
func pixelWindow(r *domain.Raster, env domain.BoundingBox) (r0, r1, c0, c1 int, err error) {
	if !env.Intersects(r.Bounds()) {
		return 0, 0, 0, 0, domain.ErrNoOverlap
	}
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{env.MinX, env.MinY}, {env.MinX, env.MaxY}, {env.MaxX, env.MinY}, {env.MaxX, env.MaxY}} {
		col, row, err := r.Geo.Transform.Invert(c[0], c[1])
		if err != nil {
			return 0, 0, 0, 0, err
		}
		minC, maxC = math.Min(minC, col), math.Max(maxC, col)
		minR, maxR = math.Min(minR, row), math.Max(maxR, row)
	}
	c0 = clampIndex(math.Floor(minC), r.Cols)
	c1 = clampIndex(math.Ceil(maxC), r.Cols)
	r0 = clampIndex(math.Floor(minR), r.Rows)
	r1 = clampIndex(math.Ceil(maxR), r.Rows)
	if c0 >= c1 || r0 >= r1 {
		return 0, 0, 0, 0, domain.ErrNoOverlap
	}
	return r0, r1, c0, c1, nil
}

func clampIndex(v float64, n int) int {
	if v < 0 {
		return 0
	}
	if v > float64(n) {
		return n
	}
	return int(v)
}

func cropToEnvelope(r *domain.Raster, env domain.BoundingBox) (*domain.Raster, error) {
	r0, r1, c0, c1, err := pixelWindow(r, env)
	if err != nil {
		return nil, err
	}
	return r.Sub(r0, r1, c0, c1)
}

// ApplyWindow crops r to an index window. Stops past the edge are clamped.
func ApplyWindow(r *domain.Raster, w domain.Window) (*domain.Raster, error) {
	r0, r1, c0, c1 := w.Resolve(r.Rows, r.Cols)
	if r0 >= r1 || c0 >= c1 {
		return nil, fmt.Errorf("index window %s on %dx%d raster: %w", w, r.Rows, r.Cols, domain.ErrNoOverlap)
	}
	return r.Sub(r0, r1, c0, c1)
}
