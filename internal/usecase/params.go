package usecase

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/mask"
	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/domain"
)

// ExtractParams is the textual form of an extraction, as received from the
// command line or an HTTP body.
type ExtractParams struct {
	Source string `json:"source"`

	// Catalog search, used when Source is empty
	GranuleUR  string `json:"granule_ur"`
	ShortName  string `json:"short_name"`
	Temporal   string `json:"temporal"`
	SearchBBox string `json:"search_bbox"`
	Limit      int    `json:"limit"`

	Mode       string          `json:"mode"`
	BBox       string          `json:"bbox"` // "minx,miny,maxx,maxy"
	BBoxCRS    string          `json:"bbox_crs"`
	Polygon    json.RawMessage `json:"polygon"`
	PolygonCRS string          `json:"polygon_crs"`
	IdxWindow  string          `json:"idx_window"` // "y0:y1,x0:x1"

	Threshold          string `json:"threshold"` // e.g. "temporal_coherence<0.2"
	ValidityMask       bool   `json:"validity_mask"`
	ExternalMask       string `json:"external_mask"`
	ExternalMaskMethod string `json:"external_mask_method"`

	TileSize           int    `json:"tile"`
	Compression        string `json:"compress"`
	OverviewResampling string `json:"overview_resampling"`
	BigTIFF            string `json:"bigtiff"`

	OutName string `json:"out_name"`
	OutDir  string `json:"-"`
}

// Defaults fill what ExtractParams leave empty.
type Defaults struct {
	ShortName          string
	CoherenceThreshold float64
	TileSize           int
	Compression        string
	OverviewResampling string
	BigTIFF            string
}

// DefaultOutputName is the output file name for a mode.
func DefaultOutputName(m cog.Mode) string {
	if m == cog.ModeWaterMask {
		return "water_mask_subset.cog.tif"
	}
	return "disp_masked_subset.cog.tif"
}

// DefaultLinkName is the stable link name for a mode.
func DefaultLinkName(m cog.Mode) string {
	if m == cog.ModeWaterMask {
		return "water_mask.tif"
	}
	return "displacement_masked.tif"
}

// Request converts the parameters, trimming whitespace from every string.
func (p ExtractParams) Request(d Defaults) (ExtractRequest, error) {
	trim := strings.TrimSpace
	mode, err := cog.ParseMode(p.Mode)
	if err != nil {
		return ExtractRequest{}, err
	}
	req := ExtractRequest{
		Source:             trim(p.Source),
		Mode:               mode,
		PolygonCRS:         trim(p.PolygonCRS),
		ValidityMask:       p.ValidityMask,
		ExternalMask:       trim(p.ExternalMask),
		ExternalMaskMethod: trim(p.ExternalMaskMethod),
		TileSize:           p.TileSize,
		Compression:        firstNonEmpty(trim(p.Compression), d.Compression),
		OverviewResampling: firstNonEmpty(trim(p.OverviewResampling), d.OverviewResampling),
		BigTIFF:            firstNonEmpty(trim(p.BigTIFF), d.BigTIFF),
	}
	if req.TileSize == 0 {
		req.TileSize = d.TileSize
	}

	if req.Source == "" {
		shortName := firstNonEmpty(trim(p.ShortName), d.ShortName)
		if trim(p.GranuleUR) != "" {
			shortName = ""
		}
		req.Query = &remote.Query{
			ShortName:   shortName,
			GranuleUR:   trim(p.GranuleUR),
			Temporal:    strings.ReplaceAll(trim(p.Temporal), " ", ""),
			BoundingBox: strings.ReplaceAll(trim(p.SearchBBox), " ", ""),
			Limit:       p.Limit,
		}
	}

	if s := trim(p.BBox); s != "" {
		b, err := domain.ParseBoundingBox(s)
		if err != nil {
			return ExtractRequest{}, err
		}
		b.CRS = trim(p.BBoxCRS)
		req.BBox = &b
	}
	if poly := strings.TrimSpace(string(p.Polygon)); poly != "" && poly != "null" {
		req.Polygon = []byte(poly)
	}
	if s := trim(p.IdxWindow); s != "" {
		w, err := domain.ParseWindow(s)
		if err != nil {
			return ExtractRequest{}, err
		}
		req.Window = &w
	}

	switch s := trim(p.Threshold); {
	case s != "":
		expr, err := mask.ParseRule(s)
		if err != nil {
			return ExtractRequest{}, err
		}
		req.Threshold = &expr
	case d.CoherenceThreshold != 0:
		expr := mask.DefaultCoherenceRule
		expr.Value = d.CoherenceThreshold
		req.Threshold = &expr
	}

	name := trim(p.OutName)
	if name == "" {
		name = DefaultOutputName(mode)
	}
	if filepath.Base(name) != name {
		return ExtractRequest{}, fmt.Errorf("output name %q must not contain a directory", name)
	}
	req.Output = filepath.Join(trim(p.OutDir), name)
	return req, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
