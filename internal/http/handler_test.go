package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/domain"
	"go.ngs.io/disp-cog/internal/usecase"
)

type fakeExtractor struct {
	err  error
	reqs []usecase.ExtractRequest
}

func (f *fakeExtractor) Execute(_ context.Context, req usecase.ExtractRequest) (*usecase.ExtractResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.Output, []byte("II*\x00cog"), 0o600); err != nil {
		return nil, err
	}
	return &usecase.ExtractResult{Status: "OK", Outfile: req.Output, Mode: req.Mode, Strategy: cog.StrategyCOG}, nil
}

func setupTest(t *testing.T, ex Extractor, origins ...string) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	work := t.TempDir()
	h := NewHandler(ex, Options{WorkDir: work, Defaults: usecase.Defaults{TileSize: 256}}, log)
	return SetupRouter(h, origins), work
}

func post(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/extractions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupTest(t, &fakeExtractor{})
	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateAndFetchExtraction(t *testing.T) {
	ex := &fakeExtractor{}
	router, work := setupTest(t, ex)

	w := post(router, `{"source":" s3://bucket/granule.nc ","mode":"water-mask","bbox":"-118,33,-117,34"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec Extraction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "done", rec.Status)
	require.NotNil(t, rec.Result)
	assert.Equal(t, filepath.Join(work, rec.ID, "water_mask_subset.cog.tif"), rec.Result.Outfile)

	require.Len(t, ex.reqs, 1)
	assert.Equal(t, "s3://bucket/granule.nc", ex.reqs[0].Source)
	assert.Equal(t, 256, ex.reqs[0].TileSize, "server defaults apply")

	w = get(router, "/v1/extractions/"+rec.ID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rec.ID)

	w = get(router, "/v1/extractions/"+rec.ID+"/file")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "II*\x00cog", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "water_mask_subset.cog.tif")
}

func TestConcurrentExtractionsUseSeparateDirs(t *testing.T) {
	ex := &fakeExtractor{}
	router, _ := setupTest(t, ex)
	require.Equal(t, http.StatusCreated, post(router, `{"source":"https://host/a.nc"}`).Code)
	require.Equal(t, http.StatusCreated, post(router, `{"source":"https://host/b.nc"}`).Code)
	require.Len(t, ex.reqs, 2)
	assert.NotEqual(t, filepath.Dir(ex.reqs[0].Output), filepath.Dir(ex.reqs[1].Output))
}

func TestCreateExtractionBadRequests(t *testing.T) {
	router, _ := setupTest(t, &fakeExtractor{})
	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"source":`},
		{"local path", `{"source":"/etc/passwd"}`},
		{"external mask", `{"source":"s3://b/k.nc","external_mask":"/data/mask.tif"}`},
		{"bad bbox", `{"source":"s3://b/k.nc","bbox":"1,2,3"}`},
		{"bad mode", `{"source":"s3://b/k.nc","mode":"velocity"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestCreateExtractionFailure(t *testing.T) {
	ex := &fakeExtractor{err: fmt.Errorf("failed to subset: %w", domain.ErrNoOverlap)}
	router, work := setupTest(t, ex)

	w := post(router, `{"source":"s3://b/k.nc"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	id := body["id"]
	require.NotEmpty(t, id)
	assert.NoDirExists(t, filepath.Join(work, id))

	w = get(router, "/v1/extractions/"+id)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"failed"`)

	w = get(router, "/v1/extractions/"+id+"/file")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetExtractionNotFound(t *testing.T) {
	router, _ := setupTest(t, &fakeExtractor{})
	assert.Equal(t, http.StatusNotFound, get(router, "/v1/extractions/missing").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/v1/extractions/missing/file").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: tile", usecase.ErrInvalidRequest), http.StatusBadRequest},
		{&domain.AmbiguousSubsetRequestError{HasBBox: true, HasPolygon: true}, http.StatusBadRequest},
		{domain.ErrNoOverlap, http.StatusUnprocessableEntity},
		{&domain.MissingPrimaryVariableError{}, http.StatusUnprocessableEntity},
		{&domain.InvalidGridError{Axis: "x"}, http.StatusUnprocessableEntity},
		{&domain.RemoteAccessError{Source: "s3://b/k", Causes: []error{errors.New("denied")}}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&domain.EncodingError{Path: "out.tif"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestCORS(t *testing.T) {
	router, _ := setupTest(t, &fakeExtractor{}, "https://allowed.example")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://allowed.example")
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
