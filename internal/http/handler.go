package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go.ngs.io/disp-cog/internal/domain"
	"go.ngs.io/disp-cog/internal/usecase"
)

// Extractor runs one extraction. *usecase.ExtractUseCase implements it.
type Extractor interface {
	Execute(ctx context.Context, req usecase.ExtractRequest) (*usecase.ExtractResult, error)
}

// Options configures the handler.
type Options struct {
	WorkDir  string
	Timeout  time.Duration
	Defaults usecase.Defaults
}

// Extraction is the record kept for each request.
type Extraction struct {
	ID        string                 `json:"id"`
	Status    string                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	Duration  string                 `json:"duration"`
	Result    *usecase.ExtractResult `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Handler handles HTTP requests for extractions.
type Handler struct {
	extractUC Extractor
	opts      Options
	log       logrus.FieldLogger

	mu          sync.RWMutex
	extractions map[string]*Extraction
}

// NewHandler creates a new HTTP handler.
func NewHandler(extractUC Extractor, opts Options, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	return &Handler{
		extractUC:   extractUC,
		opts:        opts,
		log:         log,
		extractions: map[string]*Extraction{},
	}
}

// CreateExtraction handles POST /v1/extractions.
// The extraction runs in its own working directory and the response carries
// the finished record.
func (h *Handler) CreateExtraction(c *gin.Context) {
	var params usecase.ExtractParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if params.ExternalMask != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_mask is only supported by the CLI"})
		return
	}
	if params.Source != "" && !remoteURI(params.Source) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be an s3:// or https:// URI"})
		return
	}

	id := uuid.NewString()
	params.OutDir = filepath.Join(h.opts.WorkDir, id)
	req, err := params.Request(h.opts.Defaults)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := &Extraction{ID: id, Status: "running", CreatedAt: time.Now().UTC()}
	h.store(rec)
	log := h.log.WithField("extraction_id", id)
	log.Info("extraction started")

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.Timeout)
	defer cancel()
	start := time.Now()
	result, err := h.extractUC.Execute(ctx, req)

	h.mu.Lock()
	rec.Duration = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
	} else {
		rec.Status = "done"
		rec.Result = result
	}
	snapshot := *rec
	h.mu.Unlock()

	if err != nil {
		log.WithError(err).Warn("extraction failed")
		_ = os.RemoveAll(params.OutDir)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "id": id})
		return
	}
	log.WithField("outfile", result.Outfile).Info("extraction finished")
	c.JSON(http.StatusCreated, snapshot)
}

// GetExtraction handles GET /v1/extractions/:id.
func (h *Handler) GetExtraction(c *gin.Context) {
	rec, ok := h.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "extraction not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DownloadExtraction handles GET /v1/extractions/:id/file.
func (h *Handler) DownloadExtraction(c *gin.Context) {
	rec, ok := h.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "extraction not found"})
		return
	}
	if rec.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "extraction has no output", "status": rec.Status})
		return
	}
	c.FileAttachment(rec.Result.Outfile, filepath.Base(rec.Result.Outfile))
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) store(rec *Extraction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extractions[rec.ID] = rec
}

func (h *Handler) lookup(id string) (Extraction, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.extractions[id]
	if !ok {
		return Extraction{}, false
	}
	return *rec, true
}

func remoteURI(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "s3" || u.Scheme == "https" || u.Scheme == "http"
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		ambiguous *domain.AmbiguousSubsetRequestError
		grid      *domain.InvalidGridError
		missing   *domain.MissingPrimaryVariableError
		layout    *domain.UnsupportedLayoutError
		align     *domain.AlignmentError
		remote    *domain.RemoteAccessError
	)
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest), errors.As(err, &ambiguous):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoOverlap),
		errors.As(err, &grid), errors.As(err, &missing), errors.As(err, &layout), errors.As(err, &align):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
