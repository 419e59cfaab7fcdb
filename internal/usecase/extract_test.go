package usecase

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/disp-cog/internal/adapter/mask"
	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
	"go.ngs.io/disp-cog/internal/domain"
)

// dispGranule is a 4x3 UTM granule with 10 m pixels, origin (0, 40).
func dispGranule(t *testing.T) *granule.Memory {
	t.Helper()
	m := granule.NewMemory(domain.Attributes{"title": "OPERA L3 DISP-S1"})
	require.NoError(t, m.AddVariable("y", []string{"y"}, []int{4}, []float64{35, 25, 15, 5}, nil))
	require.NoError(t, m.AddVariable("x", []string{"x"}, []int{3}, []float64{5, 15, 25}, nil))
	require.NoError(t, m.AddVariable("spatial_ref", nil, nil, []float64{0}, domain.Attributes{"crs_wkt": "EPSG:32611"}))
	gm := domain.Attributes{"grid_mapping": "spatial_ref"}

	disp := make([]float64, 12)
	for i := range disp {
		disp[i] = float64(i) * 0.01
	}
	require.NoError(t, m.AddVariable("displacement", []string{"y", "x"}, []int{4, 3}, disp, gm))

	coh := []float64{
		0.9, 0.9, 0.9,
		0.9, 0.1, 0.9,
		0.2, 0.9, 0.9,
		0.9, 0.9, 0.9,
	}
	require.NoError(t, m.AddVariable("temporal_coherence", []string{"y", "x"}, []int{4, 3}, coh, gm))

	shadow := make([]float64, 12)
	shadow[11] = 1
	require.NoError(t, m.AddVariable("layover_shadow_mask", []string{"y", "x"}, []int{4, 3}, shadow, gm))
	return m
}

func waterGranule(t *testing.T) *granule.Memory {
	t.Helper()
	m := granule.NewMemory(nil)
	require.NoError(t, m.AddVariable("y", []string{"y"}, []int{4}, []float64{35, 25, 15, 5}, nil))
	require.NoError(t, m.AddVariable("x", []string{"x"}, []int{3}, []float64{5, 15, 25}, nil))
	require.NoError(t, m.AddVariable("spatial_ref", nil, nil, []float64{0}, domain.Attributes{"crs_wkt": "EPSG:32611"}))
	require.NoError(t, m.AddVariable("water_mask", []string{"y", "x"}, []int{4, 3}, []float64{
		0, 1, 2,
		0, 3, 0,
		-1, 1, 0,
		1, 1, 1,
	}, domain.Attributes{"grid_mapping": "spatial_ref"}))
	return m
}

// sourceFile is a placeholder local source; the memory backend ignores its bytes.
func sourceFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "granule.nc")
	require.NoError(t, os.WriteFile(p, []byte("CDF\x01"), 0o600))
	return p
}

func newUseCase(t *testing.T, backends ...store.Backend) (*ExtractUseCase, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	uc := NewExtractUseCase(nil, granule.NewOpener(backends, log), cog.NewWriter(cog.Encoder{}, log), log)
	uc.Remote.TempDir = t.TempDir()
	return uc, hook
}

func TestExtractRequestValidate(t *testing.T) {
	box := &domain.BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	tests := []struct {
		name    string
		req     ExtractRequest
		wantErr string
	}{
		{"valid", ExtractRequest{Source: "s3://b/k.nc", Output: "out.tif"}, ""},
		{"catalog query", ExtractRequest{Query: &remote.Query{ShortName: remote.DefaultShortName}, Output: "out.tif"}, ""},
		{"no source", ExtractRequest{Output: "out.tif"}, "either a source URI or a catalog query"},
		{"source and query", ExtractRequest{Source: "a.nc", Query: &remote.Query{GranuleUR: "g"}, Output: "o.tif"}, "mutually exclusive"},
		{"empty query", ExtractRequest{Query: &remote.Query{}, Output: "o.tif"}, "invalid catalog query"},
		{"unknown mode", ExtractRequest{Source: "a.nc", Mode: "velocity", Output: "o.tif"}, "unknown mode"},
		{"bbox and polygon", ExtractRequest{Source: "a.nc", BBox: box, Polygon: []byte(`{}`), Output: "o.tif"}, "mutually exclusive"},
		{"inverted bbox", ExtractRequest{Source: "a.nc", BBox: &domain.BoundingBox{MinX: 1, MaxX: 0, MaxY: 1}, Output: "o.tif"}, "minx < maxx"},
		{"tile not multiple of 16", ExtractRequest{Source: "a.nc", TileSize: 100, Output: "o.tif"}, "tile size"},
		{"tile too large", ExtractRequest{Source: "a.nc", TileSize: 8192, Output: "o.tif"}, "tile size"},
		{"unknown codec", ExtractRequest{Source: "a.nc", Compression: "LZW", Output: "o.tif"}, "unsupported compression"},
		{"unknown resampling", ExtractRequest{Source: "a.nc", OverviewResampling: "cubic", Output: "o.tif"}, "cubic"},
		{"no output", ExtractRequest{Source: "a.nc", Output: "  "}, "output path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	err := (&ExtractRequest{Source: "a.nc", BBox: box, Polygon: []byte(`{}`), Output: "o.tif"}).Validate()
	var ambig *domain.AmbiguousSubsetRequestError
	assert.ErrorAs(t, err, &ambig)
}

func TestExtractDisplacement(t *testing.T) {
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	out := filepath.Join(t.TempDir(), "products", "disp.tif")

	res, err := uc.Execute(context.Background(), ExtractRequest{
		Source:   sourceFile(t),
		TileSize: 16,
		Output:   out,
	})
	require.NoError(t, err)

	assert.Equal(t, "OK", res.Status)
	assert.Equal(t, out, res.Outfile)
	assert.Equal(t, cog.ModeDisplacement, res.Mode)
	assert.Equal(t, "displacement", res.Variable)
	assert.Equal(t, "memory", res.Backend)
	assert.Equal(t, cog.StrategyCOG, res.Strategy)
	assert.Equal(t, "EPSG:32611", res.CRS)
	assert.Equal(t, [6]float64{10, 0, 0, 0, -10, 40}, res.Transform)
	assert.Equal(t, 3, res.Width)
	assert.Equal(t, 4, res.Height)
	assert.InDelta(t, 1.0/12, res.MaskedFraction, 1e-12)
	assert.Greater(t, res.SizeMB, 0.0)

	r, info, err := geotiff.Read(out)
	require.NoError(t, err)
	assert.Len(t, info.Levels, 1, "a single tile needs no overviews")
	assert.Equal(t, "displacement", info.Description)
	assert.True(t, math.IsNaN(r.At(1, 1)), "coherence 0.1 is masked")
	assert.InDelta(t, 0.06, r.At(2, 0), 1e-6, "coherence 0.2 is kept")
	assert.InDelta(t, 0.11, r.At(3, 2), 1e-6, "validity mask is off by default")
	assert.Equal(t, 1, r.CountNaN())
}

func TestExtractMultiEpochWritesFirst(t *testing.T) {
	m := granule.NewMemory(nil)
	require.NoError(t, m.AddVariable("y", []string{"y"}, []int{2}, []float64{15, 5}, nil))
	require.NoError(t, m.AddVariable("x", []string{"x"}, []int{3}, []float64{5, 15, 25}, nil))
	// Epoch 1 is offset by 100.
	require.NoError(t, m.AddVariable("displacement", []string{"time", "y", "x"}, []int{2, 2, 3}, []float64{
		0, 1, 2,
		3, 4, 5,
		100, 101, 102,
		103, 104, 105,
	}, nil))
	require.NoError(t, m.AddVariable("temporal_coherence", []string{"time", "y", "x"}, []int{2, 2, 3}, []float64{
		1, 1, 1, 1, 1, 1,
		0, 0, 0, 0, 0, 0,
	}, nil))

	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: m})
	out := filepath.Join(t.TempDir(), "disp.tif")
	res, err := uc.Execute(context.Background(), ExtractRequest{Source: sourceFile(t), TileSize: 16, Output: out})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "2 epochs")
	assert.Zero(t, res.MaskedFraction, "coherence is read from the first epoch too")

	r, _, err := geotiff.Read(out)
	require.NoError(t, err)
	assert.InDelta(t, 5, r.At(1, 2), 1e-6)
}

func TestExtractDisplacementWithValidityAndBBox(t *testing.T) {
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	out := filepath.Join(t.TempDir(), "disp.tif")
	expr, err := mask.ParseRule("temporal_coherence <= 0.2")
	require.NoError(t, err)

	res, err := uc.Execute(context.Background(), ExtractRequest{
		Source:       sourceFile(t),
		Threshold:    &expr,
		ValidityMask: true,
		BBox:         &domain.BoundingBox{MinX: 12, MinY: 1, MaxX: 28, MaxY: 18, CRS: "EPSG:32611"},
		Output:       out,
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0/12, res.MaskedFraction, 1e-12)
	assert.Equal(t, 2, res.Width)
	assert.Equal(t, 2, res.Height)
	assert.Equal(t, [6]float64{10, 0, 10, 0, -10, 20}, res.Transform)

	r, _, err := geotiff.Read(out)
	require.NoError(t, err)
	assert.InDelta(t, 0.07, r.At(0, 0), 1e-6)
	assert.True(t, math.IsNaN(r.At(1, 1)), "layover/shadow cell is masked")
}

func TestExtractWaterMaskWithWindow(t *testing.T) {
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: waterGranule(t)})
	out := filepath.Join(t.TempDir(), "water.tif")

	res, err := uc.Execute(context.Background(), ExtractRequest{
		Source: sourceFile(t),
		Mode:   cog.ModeWaterMask,
		Window: &domain.Window{RowStart: 1, RowStop: 3, ColStart: 0, ColStop: 2},
		Output: out,
	})
	require.NoError(t, err)
	assert.Equal(t, "water_mask", res.Variable)
	assert.Equal(t, 2, res.Width)
	assert.Equal(t, 2, res.Height)
	assert.Zero(t, res.MaskedFraction)

	r, info, err := geotiff.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 8, info.BitsPerSample)
	assert.Equal(t, []float64{0, 1, 0, 1}, r.Data)
}

func TestExtractNoOverlap(t *testing.T) {
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	out := filepath.Join(t.TempDir(), "disp.tif")
	_, err := uc.Execute(context.Background(), ExtractRequest{
		Source: sourceFile(t),
		BBox:   &domain.BoundingBox{MinX: 100, MinY: 100, MaxX: 200, MaxY: 200, CRS: "EPSG:32611"},
		Output: out,
	})
	assert.ErrorIs(t, err, domain.ErrNoOverlap)
	assert.NoFileExists(t, out)
}

func TestExtractMissingPrimary(t *testing.T) {
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	_, err := uc.Execute(context.Background(), ExtractRequest{
		Source: sourceFile(t),
		Mode:   cog.ModeWaterMask,
		Output: filepath.Join(t.TempDir(), "water.tif"),
	})
	var mp *domain.MissingPrimaryVariableError
	require.ErrorAs(t, err, &mp)
	assert.Contains(t, mp.Candidates, "displacement")
}

func TestExtractAllBackendsFail(t *testing.T) {
	uc, _ := newUseCase(t, granule.Classic{}, granule.MemoryBackend{})
	_, err := uc.Execute(context.Background(), ExtractRequest{
		Source: sourceFile(t),
		Output: filepath.Join(t.TempDir(), "disp.tif"),
	})
	var rae *domain.RemoteAccessError
	require.ErrorAs(t, err, &rae)
	assert.Len(t, rae.Causes, 2)
}

func TestExtractMissingQualityLayerWarns(t *testing.T) {
	m := granule.NewMemory(nil)
	require.NoError(t, m.AddVariable("y", []string{"y"}, []int{2}, []float64{1, 0}, nil))
	require.NoError(t, m.AddVariable("x", []string{"x"}, []int{2}, []float64{0, 1}, nil))
	require.NoError(t, m.AddVariable("displacement", []string{"y", "x"}, []int{2, 2}, []float64{1, 2, 3, 4}, nil))

	uc, hook := newUseCase(t, granule.MemoryBackend{Dataset: m})
	res, err := uc.Execute(context.Background(), ExtractRequest{
		Source: sourceFile(t),
		Output: filepath.Join(t.TempDir(), "disp.tif"),
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "temporal_coherence")
	assert.Equal(t, "EPSG:4326", res.CRS)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}

type fakeCatalog struct {
	url        string
	empty      bool
	searches   int
	credCalls  int
	credErr    error
	lastQuery  remote.Query
	lastCredEP string
}

func (c *fakeCatalog) Search(_ context.Context, q remote.Query) ([]remote.Granule, error) {
	c.searches++
	c.lastQuery = q
	if c.empty {
		return nil, nil
	}
	return []remote.Granule{{GranuleUR: "OPERA_L3_DISP-S1_IW_F11115_A", RelatedURLs: []remote.RelatedURL{{URL: c.url}}}}, nil
}

func (c *fakeCatalog) AccessURL(g remote.Granule) (string, error) {
	if len(g.RelatedURLs) == 0 {
		return "", errors.New("no links")
	}
	return g.RelatedURLs[0].URL, nil
}

func (c *fakeCatalog) Credentials(_ context.Context, endpoint string) (remote.Credentials, error) {
	c.credCalls++
	c.lastCredEP = endpoint
	if c.credErr != nil {
		return remote.Credentials{}, c.credErr
	}
	return remote.Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret", SessionToken: "tok"}, nil
}

func TestExtractFromCatalogLocal(t *testing.T) {
	cat := &fakeCatalog{url: sourceFile(t)}
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	uc.Catalog = cat

	res, err := uc.Execute(context.Background(), ExtractRequest{
		Query:  &remote.Query{GranuleUR: "OPERA_L3_DISP-S1_IW_F11115_A"},
		Output: filepath.Join(t.TempDir(), "disp.tif"),
	})
	require.NoError(t, err)
	assert.Equal(t, "OPERA_L3_DISP-S1_IW_F11115_A", res.GranuleUR)
	assert.Equal(t, cat.url, res.Source)
	assert.Equal(t, 1, cat.searches)
	assert.Zero(t, cat.credCalls, "local sources need no credentials")
}

func TestExtractFromCatalogNoMatches(t *testing.T) {
	cat := &fakeCatalog{empty: true}
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	uc.Catalog = cat
	out := filepath.Join(t.TempDir(), "disp.tif")

	var err error
	require.NotPanics(t, func() {
		_, err = uc.Execute(context.Background(), ExtractRequest{
			Query:  &remote.Query{ShortName: remote.DefaultShortName},
			Output: out,
		})
	})
	require.ErrorIs(t, err, remote.ErrNoGranules)
	assert.Equal(t, 1, cat.searches)
	assert.NoFileExists(t, out)
}

func TestExtractFromCatalogS3(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "granule.nc", time.Time{}, bytes.NewReader([]byte("CDF\x01 synthetic")))
	}))
	defer srv.Close()

	cat := &fakeCatalog{url: "s3://asf-cumulus-prod-opera-products/OPERA/A.nc"}
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	uc.Catalog = cat
	uc.CredentialsEndpoint = "https://example.test/s3credentials"
	uc.Remote.S3Endpoint = srv.URL

	res, err := uc.Execute(context.Background(), ExtractRequest{
		Query:  &remote.Query{ShortName: remote.DefaultShortName, Limit: 1},
		Output: filepath.Join(t.TempDir(), "disp.tif"),
	})
	require.NoError(t, err)
	assert.Equal(t, cat.url, res.Source)
	assert.Equal(t, 1, cat.credCalls)
	assert.Equal(t, "https://example.test/s3credentials", cat.lastCredEP)
	assert.Equal(t, 1, cat.lastQuery.Limit)

	cat.credErr = errors.New("HTTP 401")
	_, err = uc.Execute(context.Background(), ExtractRequest{
		Query:  &remote.Query{ShortName: remote.DefaultShortName},
		Output: filepath.Join(t.TempDir(), "disp2.tif"),
	})
	var rae *domain.RemoteAccessError
	assert.ErrorAs(t, err, &rae)
}

func TestExtractQueryWithoutCatalog(t *testing.T) {
	uc, _ := newUseCase(t, granule.MemoryBackend{Dataset: dispGranule(t)})
	_, err := uc.Execute(context.Background(), ExtractRequest{
		Query:  &remote.Query{GranuleUR: "g"},
		Output: filepath.Join(t.TempDir(), "disp.tif"),
	})
	assert.ErrorContains(t, err, "catalog")
}
