package subset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/domain"
)

// ErrNoPolygon is returned when GeoJSON input holds no polygonal geometry.
var ErrNoPolygon = errors.New("no polygon or multipolygon geometry found")

// object covers every GeoJSON type accepted as input.
type object struct {
	Type        string            `json:"type"`
	Coordinates any               `json:"coordinates"`
	Geometry    json.RawMessage   `json:"geometry"`
	Features    []json.RawMessage `json:"features"`
	Geometries  []json.RawMessage `json:"geometries"`
}

// ParsePolygons extracts every polygon from a FeatureCollection, Feature,
// Polygon, MultiPolygon, GeometryCollection or a JSON array of those.
// MultiPolygons are split into their parts. Other geometry types are ignored.
func ParsePolygons(data []byte) ([]geom.Polygon, error) {
	var out []geom.Polygon
	if err := collect(bytes.TrimSpace(data), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoPolygon
	}
	return out, nil
}

func collect(data []byte, out *[]geom.Polygon) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("failed to parse GeoJSON array: %w", err)
		}
		for _, it := range items {
			if err := collect(bytes.TrimSpace(it), out); err != nil {
				return err
			}
		}
		return nil
	}

	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("failed to parse GeoJSON: %w", err)
	}
	switch o.Type {
	case "FeatureCollection":
		for _, f := range o.Features {
			if err := collect(bytes.TrimSpace(f), out); err != nil {
				return err
			}
		}
	case "Feature":
		return collect(bytes.TrimSpace(o.Geometry), out)
	case "GeometryCollection":
		for _, g := range o.Geometries {
			if err := collect(bytes.TrimSpace(g), out); err != nil {
				return err
			}
		}
	case "Polygon":
		p, err := decodePolygon(o.Coordinates)
		if err != nil {
			return err
		}
		*out = append(*out, p)
	case "MultiPolygon":
		parts, ok := o.Coordinates.([]any)
		if !ok {
			return errors.New("invalid MultiPolygon coordinates")
		}
		for _, part := range parts {
			p, err := decodePolygon(part)
			if err != nil {
				return err
			}
			*out = append(*out, p)
		}
	case "":
		return errors.New("GeoJSON object has no type")
	}
	return nil
}

func decodePolygon(coords any) (geom.Polygon, error) {
	g, err := geojson.FromGeoJSON(&geojson.Geometry{Type: "Polygon", Coordinates: to2D(coords)})
	if err != nil {
		return nil, fmt.Errorf("invalid polygon: %w", err)
	}
	p, ok := g.(geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("invalid polygon: decoded %T", g)
	}
	return p, nil
}

// to2D drops any third ordinate from GeoJSON positions.
func to2D(v any) any {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return v
	}
	if _, isNum := arr[0].(float64); isNum {
		if len(arr) > 2 {
			return arr[:2]
		}
		return arr
	}
	out := make([]any, len(arr))
	for i, e := range arr {
		out[i] = to2D(e)
	}
	return out
}

// ClipPolygon crops r to the envelope of the polygons in data, given in
// polygonCRS (EPSG:4326 when empty), and sets cells whose centre lies outside
// every polygon to NaN. Centres on an edge count as inside.
func ClipPolygon(r *domain.Raster, data []byte, polygonCRS string) (*domain.Raster, error) {
	polys, err := ParsePolygons(data)
	if err != nil {
		return nil, err
	}
	if polygonCRS == "" {
		polygonCRS = crs.WGS84
	}
	tr, err := crs.NewTransformer(polygonCRS, r.Geo.CRS)
	if err != nil {
		return nil, fmt.Errorf("failed to reproject polygon: %w", err)
	}

	env := emptyEnvelope(r.Geo.CRS)
	projected := make([]geom.Polygon, 0, len(polys))
	for _, p := range polys {
		g, err := p.Transform(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to reproject polygon: %w", err)
		}
		pp, ok := g.(geom.Polygon)
		if !ok {
			return nil, fmt.Errorf("reprojected polygon has type %T", g)
		}
		b := pp.Bounds()
		extend(&env, b.Min.X, b.Min.Y)
		extend(&env, b.Max.X, b.Max.Y)
		projected = append(projected, pp)
	}
	if math.IsInf(env.MinX, 0) {
		return nil, ErrNoPolygon
	}

	out, err := cropToEnvelope(r, env)
	if err != nil {
		return nil, err
	}
	for i := 0; i < out.Rows; i++ {
		for j := 0; j < out.Cols; j++ {
			x, y := out.PixelCenter(i, j)
			if !insideAny(geom.Point{X: x, Y: y}, projected) {
				out.Set(i, j, math.NaN())
			}
		}
	}
	return out, nil
}

// insideAny tests each polygon separately so overlapping parts do not cancel.
func insideAny(pt geom.Point, polys []geom.Polygon) bool {
	for _, p := range polys {
		if pt.Within(p) != geom.Outside {
			return true
		}
	}
	return false
}
