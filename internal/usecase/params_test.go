package usecase

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/disp-cog/internal/adapter/mask"
	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/domain"
)

func TestParamsNormalizeWhitespace(t *testing.T) {
	p := ExtractParams{
		Source:    "  s3://bucket/granule.nc\n",
		Mode:      " Water_Mask ",
		BBox:      " -118.5, 33.9 ,-118.1,34.2 ",
		IdxWindow: " 0:100 , 50: ",
		OutDir:    " /output ",
	}
	req, err := p.Request(Defaults{})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/granule.nc", req.Source)
	assert.Nil(t, req.Query)
	assert.Equal(t, cog.ModeWaterMask, req.Mode)
	assert.Equal(t, &domain.BoundingBox{MinX: -118.5, MinY: 33.9, MaxX: -118.1, MaxY: 34.2}, req.BBox)
	assert.Equal(t, &domain.Window{RowStart: 0, RowStop: 100, ColStart: 50, ColStop: -1}, req.Window)
	assert.Equal(t, filepath.Join("/output", "water_mask_subset.cog.tif"), req.Output)
	assert.Nil(t, req.Threshold)
}

func TestParamsCatalogQuery(t *testing.T) {
	req, err := ExtractParams{Temporal: "2023-06-01T00:00:00Z, 2023-07-01T00:00:00Z", Limit: 3}.Request(Defaults{ShortName: remote.DefaultShortName})
	require.NoError(t, err)
	require.NotNil(t, req.Query)
	assert.Equal(t, remote.Query{
		ShortName: remote.DefaultShortName,
		Temporal:  "2023-06-01T00:00:00Z,2023-07-01T00:00:00Z",
		Limit:     3,
	}, *req.Query)

	req, err = ExtractParams{GranuleUR: " OPERA_L3_DISP-S1_IW_F11115_A "}.Request(Defaults{ShortName: remote.DefaultShortName})
	require.NoError(t, err)
	assert.Equal(t, "OPERA_L3_DISP-S1_IW_F11115_A", req.Query.GranuleUR)
	assert.Empty(t, req.Query.ShortName, "a granule UR search ignores the collection")
}

func TestParamsDefaults(t *testing.T) {
	d := Defaults{CoherenceThreshold: 0.3, TileSize: 256, Compression: "ZSTD"}
	req, err := ExtractParams{Source: "a.nc"}.Request(d)
	require.NoError(t, err)
	assert.Equal(t, &mask.Expr{Variable: "temporal_coherence", Op: mask.Less, Value: 0.3}, req.Threshold)
	assert.Equal(t, 256, req.TileSize)
	assert.Equal(t, "ZSTD", req.Compression)
	assert.Equal(t, "disp_masked_subset.cog.tif", req.Output)

	req, err = ExtractParams{Source: "a.nc", Threshold: "coherence_avg<=0.5", TileSize: 512, Compression: "none"}.Request(d)
	require.NoError(t, err)
	assert.Equal(t, &mask.Expr{Variable: "coherence_avg", Op: mask.LessEqual, Value: 0.5}, req.Threshold)
	assert.Equal(t, 512, req.TileSize)
	assert.Equal(t, "none", req.Compression)
}

func TestParamsPolygonFromJSON(t *testing.T) {
	var p ExtractParams
	require.NoError(t, json.Unmarshal([]byte(`{"source":"a.nc","polygon":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"out_name":"aoi.tif"}`), &p))
	req, err := p.Request(Defaults{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, string(req.Polygon))
	assert.Equal(t, "aoi.tif", req.Output)

	require.NoError(t, json.Unmarshal([]byte(`{"source":"a.nc","polygon":null}`), &p))
	req, err = p.Request(Defaults{})
	require.NoError(t, err)
	assert.Nil(t, req.Polygon)
}

func TestParamsErrors(t *testing.T) {
	tests := []struct {
		name string
		p    ExtractParams
	}{
		{"bad mode", ExtractParams{Mode: "velocity"}},
		{"bad bbox", ExtractParams{BBox: "1,2,3"}},
		{"inverted bbox", ExtractParams{BBox: "3,2,1,4"}},
		{"bad window", ExtractParams{IdxWindow: "0:10"}},
		{"bad threshold", ExtractParams{Threshold: "coherence"}},
		{"nested out name", ExtractParams{OutName: "../escape.tif"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.Request(Defaults{})
			assert.Error(t, err)
		})
	}
}
