package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/adapter/mask"
	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/adapter/resolve"
	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
	"go.ngs.io/disp-cog/internal/adapter/subset"
	"go.ngs.io/disp-cog/internal/domain"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Catalog finds granules and issues credentials for direct S3 access.
// remote.CMRClient implements it.
type Catalog interface {
	Search(ctx context.Context, q remote.Query) ([]remote.Granule, error)
	AccessURL(g remote.Granule) (string, error)
	Credentials(ctx context.Context, endpoint string) (remote.Credentials, error)
}

// ExtractRequest encapsulates one granule-to-COG extraction
type ExtractRequest struct {
	// Source is an s3://, https:// URI or a local path (mutually exclusive with Query)
	Source string
	Query  *remote.Query

	Mode cog.Mode

	// Area of interest, both optional but mutually exclusive
	BBox       *domain.BoundingBox
	Polygon    []byte // GeoJSON
	PolygonCRS string

	// Window is applied before the area of interest
	Window *domain.Window

	// Threshold overrides the quality rule in displacement mode
	Threshold    *mask.Expr
	ValidityMask bool
	ExternalMask string // GeoTIFF path
	// ExternalMaskMethod samples the external mask: nearest (default) or bilinear
	ExternalMaskMethod string

	// Storage overrides, preset values when zero
	TileSize           int
	Compression        string
	OverviewResampling string
	BigTIFF            string

	Output string
}

// ExtractResult is reported on success. Its JSON form is the CLI status line.
type ExtractResult struct {
	Status         string       `json:"status"`
	Outfile        string       `json:"outfile"`
	SizeMB         float64      `json:"size_mb"`
	Source         string       `json:"source"`
	GranuleUR      string       `json:"granule_ur,omitempty"`
	Mode           cog.Mode     `json:"mode"`
	Variable       string       `json:"variable"`
	CRS            string       `json:"crs"`
	Transform      [6]float64   `json:"transform"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	MaskedFraction float64      `json:"masked_fraction"`
	Backend        string       `json:"backend"`
	Strategy       cog.Strategy `json:"strategy"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// Validate checks the request before any I/O happens.
func (r *ExtractRequest) Validate() error {
	hasSource := strings.TrimSpace(r.Source) != ""
	if !hasSource && r.Query == nil {
		return fmt.Errorf("either a source URI or a catalog query must be provided")
	}
	if hasSource && r.Query != nil {
		return fmt.Errorf("source URI and catalog query are mutually exclusive")
	}
	if r.Query != nil {
		if err := r.Query.Validate(); err != nil {
			return fmt.Errorf("invalid catalog query: %w", err)
		}
	}
	if _, err := cog.ParseMode(string(r.Mode)); err != nil {
		return err
	}

	if r.BBox != nil && len(r.Polygon) > 0 {
		return &domain.AmbiguousSubsetRequestError{HasBBox: true, HasPolygon: true}
	}
	if r.BBox != nil {
		if err := r.BBox.Validate(); err != nil {
			return err
		}
	}

	if r.TileSize != 0 && (r.TileSize < 16 || r.TileSize > 4096 || r.TileSize%16 != 0) {
		return fmt.Errorf("tile size must be a multiple of 16 between 16 and 4096, got %d", r.TileSize)
	}
	if r.Compression != "" {
		if _, err := geotiff.ParseCompression(r.Compression); err != nil {
			return err
		}
	}
	if r.OverviewResampling != "" {
		if _, err := interp.ParseResampling(r.OverviewResampling); err != nil {
			return err
		}
	}
	if _, err := geotiff.ParseBigTIFF(r.BigTIFF); err != nil {
		return err
	}
	if _, err := interp.ParseMethod(r.ExternalMaskMethod); err != nil {
		return err
	}

	if strings.TrimSpace(r.Output) == "" {
		return fmt.Errorf("output path must be provided")
	}
	return nil
}

// options returns the mode preset with the request's overrides applied.
func (r *ExtractRequest) options(mode cog.Mode) (geotiff.Options, error) {
	opts, err := cog.Preset(mode)
	if err != nil {
		return opts, err
	}
	if r.TileSize != 0 {
		opts.TileSize = r.TileSize
	}
	if r.Compression != "" {
		c, err := geotiff.ParseCompression(r.Compression)
		if err != nil {
			return opts, err
		}
		opts.Compression = c
		if c == geotiff.CompressionNone {
			opts.Predictor = 1
		}
	}
	if r.OverviewResampling != "" {
		m, err := interp.ParseResampling(r.OverviewResampling)
		if err != nil {
			return opts, err
		}
		opts.Resampling = m
	}
	if r.BigTIFF != "" {
		b, err := geotiff.ParseBigTIFF(r.BigTIFF)
		if err != nil {
			return opts, err
		}
		opts.BigTIFF = b
	}
	return opts, opts.Validate()
}

// ExtractUseCase orchestrates the extraction pipeline
type ExtractUseCase struct {
	// Catalog is optional; requests with a Query fail without it.
	Catalog             Catalog
	CredentialsEndpoint string
	// Remote holds the base options for opening sources.
	Remote remote.Options
	Opener *granule.Opener
	Writer *cog.Writer
	Log    logrus.FieldLogger
}

// NewExtractUseCase creates a new extraction use case
func NewExtractUseCase(catalog Catalog, opener *granule.Opener, writer *cog.Writer, log logrus.FieldLogger) *ExtractUseCase {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExtractUseCase{
		Catalog: catalog,
		Opener:  opener,
		Writer:  writer,
		Log:     log,
	}
}

// Execute performs the extraction
func (uc *ExtractUseCase) Execute(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	mode, _ := cog.ParseMode(string(req.Mode))
	opts, err := req.options(mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	res := &ExtractResult{Status: "OK", Mode: mode}

	// Resolve and open the source
	uri, ropts, err := uc.resolveSource(ctx, req, res)
	if err != nil {
		return nil, err
	}
	res.Source = uri
	log := uc.Log.WithFields(logrus.Fields{"source": uri, "mode": mode})

	handle, err := remote.Open(ctx, uri, ropts)
	if err != nil {
		return nil, &domain.RemoteAccessError{Source: uri, Causes: []error{err}}
	}
	defer func() { _ = handle.Close() }()

	ds, backend, err := uc.Opener.Open(ctx, handle)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()
	res.Backend = backend

	// Resolve variables and georeference the primary layer
	table := resolve.DisplacementRules
	if mode == cog.ModeWaterMask {
		table = resolve.WaterMaskRules
	}
	resolution, err := resolve.New(table).Resolve(ds)
	if err != nil {
		return nil, err
	}
	primaryName, _ := resolution.Name(domain.RolePrimary)
	res.Variable = primaryName
	log = log.WithFields(logrus.Fields{"backend": backend, "variable": primaryName})

	primary, grid, epochs, err := loadPrimary(ds, primaryName)
	if err != nil {
		return nil, err
	}
	if epochs > 1 {
		w := fmt.Sprintf("%s has %d epochs, only the first is written", primaryName, epochs)
		res.Warnings = append(res.Warnings, w)
		log.Warn(w)
	}
	log.WithFields(logrus.Fields{"rows": primary.Rows, "cols": primary.Cols, "crs": primary.Geo.CRS}).Info("loaded primary variable")

	// Mask
	rules, warnings, err := uc.maskRules(ds, grid, resolution, primary, req, mode)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, warnings...)
	for _, w := range warnings {
		log.Warn(w)
	}
	out := primary
	if len(rules) > 0 {
		m, err := mask.Compose(primary, rules...)
		if err != nil {
			return nil, err
		}
		if out, err = mask.Apply(primary, m); err != nil {
			return nil, err
		}
		res.MaskedFraction = m.Fraction()
		log.WithFields(logrus.Fields{"rules": len(rules), "masked": m.Count()}).Info("applied masks")
	}
	if mode == cog.ModeWaterMask {
		out = mask.Binarize(out)
	}

	// Subset
	if req.Window != nil {
		if out, err = subset.ApplyWindow(out, *req.Window); err != nil {
			return nil, fmt.Errorf("failed to apply window %s: %w", req.Window, err)
		}
	}
	if req.BBox != nil || len(req.Polygon) > 0 {
		sub := subset.Request{BBox: req.BBox, Polygon: req.Polygon, PolygonCRS: req.PolygonCRS}
		if out, err = subset.Clip(out, sub); err != nil {
			return nil, fmt.Errorf("failed to subset: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Write
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	opts.Description = primaryName
	wr, err := uc.Writer.Write(ctx, req.Output, cog.Prepare(out, opts), opts)
	if err != nil {
		return nil, err
	}

	res.Outfile = wr.Path
	res.SizeMB = math.Round(float64(wr.Size)/1e6*1000) / 1000
	res.CRS = out.Geo.CRS
	res.Transform = out.Geo.Transform.Coefficients()
	res.Width, res.Height = out.Cols, out.Rows
	res.Strategy = wr.Strategy
	res.Warnings = append(res.Warnings, wr.Warnings...)
	log.WithFields(logrus.Fields{"path": wr.Path, "strategy": wr.Strategy, "size_mb": res.SizeMB}).Info("extraction complete")
	return res, nil
}

// resolveSource turns a catalog query into an access URL and fetches S3
// credentials when the catalog can issue them.
func (uc *ExtractUseCase) resolveSource(ctx context.Context, req ExtractRequest, res *ExtractResult) (string, remote.Options, error) {
	ropts := uc.Remote
	uri := strings.TrimSpace(req.Source)
	if req.Query != nil {
		if uc.Catalog == nil {
			return "", ropts, errors.New("catalog queries are not available without a catalog client")
		}
		granules, err := uc.Catalog.Search(ctx, *req.Query)
		if err != nil {
			return "", ropts, fmt.Errorf("failed to search catalog: %w", err)
		}
		if len(granules) == 0 {
			return "", ropts, remote.ErrNoGranules
		}
		g := granules[0]
		if uri, err = uc.Catalog.AccessURL(g); err != nil {
			return "", ropts, err
		}
		res.GranuleUR = g.GranuleUR
		uc.Log.WithFields(logrus.Fields{"granule_ur": g.GranuleUR, "matches": len(granules)}).Info("resolved granule")
	}

	if strings.HasPrefix(uri, "s3://") && ropts.Credentials == nil && uc.Catalog != nil {
		creds, err := uc.Catalog.Credentials(ctx, uc.CredentialsEndpoint)
		if err != nil {
			return "", ropts, &domain.RemoteAccessError{Source: uri, Causes: []error{err}}
		}
		ropts.Credentials = &creds
	}
	return uri, ropts, nil
}

// loadPrimary reads the primary variable and derives the grid every other
// layer must share. It also returns the length of the time axis.
func loadPrimary(ds store.Dataset, name string) (*domain.Raster, resolve.Grid, int, error) {
	info, err := ds.Variable(name)
	if err != nil {
		return nil, resolve.Grid{}, 0, fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	l, err := resolve.NewLayout(info, ds)
	if err != nil {
		return nil, resolve.Grid{}, 0, err
	}
	grid, err := resolve.InferGrid(ds, l)
	if err != nil {
		return nil, resolve.Grid{}, 0, err
	}
	r, err := loadOnGrid(ds, name, grid)
	if err != nil {
		return nil, resolve.Grid{}, 0, err
	}
	return r, grid, l.Epochs(), nil
}

func loadOnGrid(ds store.Dataset, name string, grid resolve.Grid) (*domain.Raster, error) {
	info, err := ds.Variable(name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	l, err := resolve.NewLayout(info, ds)
	if err != nil {
		return nil, err
	}
	r, err := resolve.Load(ds, l)
	if err != nil {
		return nil, err
	}
	if err := grid.Attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

// maskRules builds the rules for the mode. A missing quality layer only
// produces a warning; missing validity layers are skipped silently.
func (uc *ExtractUseCase) maskRules(ds store.Dataset, grid resolve.Grid, res resolve.Resolution, primary *domain.Raster, req ExtractRequest, mode cog.Mode) ([]mask.Rule, []string, error) {
	var rules []mask.Rule
	var warnings []string

	if mode == cog.ModeDisplacement {
		expr := mask.DefaultCoherenceRule
		if req.Threshold != nil {
			expr = *req.Threshold
		}
		name := qualityVariable(ds, res, expr)
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("no %s layer found, quality mask skipped", expr.Variable))
		} else {
			layer, err := loadOnGrid(ds, name, grid)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load quality layer: %w", err)
			}
			rules = append(rules, expr.Bind(layer))
		}

		if req.ValidityMask {
			if name, ok := res.Name(domain.RoleValidity); ok {
				layer, err := loadOnGrid(ds, name, grid)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to load validity layer: %w", err)
				}
				rules = append(rules, mask.NonZero{Layer: layer})
			} else {
				warnings = append(warnings, "no validity mask layer found, validity mask skipped")
			}
		}
	}

	if req.ExternalMask != "" {
		layer, err := mask.LoadExternal(req.ExternalMask, primary, req.ExternalMaskMethod)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, mask.NonZero{Layer: layer})
	}
	return rules, warnings, nil
}

// qualityVariable returns the variable named by expr, or the resolved
// quality layer when the dataset has no variable of that name.
func qualityVariable(ds store.Dataset, res resolve.Resolution, expr mask.Expr) string {
	for _, v := range ds.Variables() {
		if strings.EqualFold(v, expr.Variable) {
			return v
		}
	}
	if name, ok := res.Name(domain.RoleQuality); ok {
		return name
	}
	return ""
}
