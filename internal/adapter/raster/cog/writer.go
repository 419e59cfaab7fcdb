package cog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/airbusgeo/cogger"
	"github.com/sirupsen/logrus"

	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
	"go.ngs.io/disp-cog/internal/domain"
)

// Strategy names how the final file was produced.
type Strategy string

const (
	StrategyCOG         Strategy = "cog"
	StrategyFallbackCOG Strategy = "fallback-cog"
	StrategyGTiff       Strategy = "gtiff"
)

// Driver encodes a complete cloud-optimized GeoTIFF in one pass.
type Driver interface {
	Name() string
	Write(ctx context.Context, path string, r *domain.Raster, opts geotiff.Options) error
}

// Encoder is the built-in single-pass driver.
type Encoder struct{}

// Name implements Driver.
func (Encoder) Name() string { return "COG" }

// Write encodes into a temp file next to path and renames it into place.
func (Encoder) Write(ctx context.Context, path string, r *domain.Raster, opts geotiff.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return replaceFile(path, func(f *os.File) error {
		bw := bufio.NewWriter(f)
		if err := geotiff.Encode(bw, r, opts); err != nil {
			return err
		}
		return bw.Flush()
	})
}

// LookupDriver returns the named primary driver. An empty name disables the
// primary path and returns nil.
func LookupDriver(name string) (Driver, error) {
	switch name {
	case "":
		return nil, nil
	case "COG", "cog":
		return Encoder{}, nil
	}
	return nil, fmt.Errorf("unknown primary driver %q", name)
}

// Result describes a finished write.
type Result struct {
	Path        string       `json:"path"`
	State       State        `json:"state"`
	Strategy    Strategy     `json:"strategy"`
	Transitions []Transition `json:"transitions"`
	Warnings    []string     `json:"warnings,omitempty"`
	Size        int64        `json:"size"`
}

// Writer runs the primary driver and, when it is missing or fails, the
// tiled-GeoTIFF fallback. The step functions are replaceable for tests.
type Writer struct {
	Primary      Driver
	Factors      []int
	WriteTiled   func(path string, r *domain.Raster, opts geotiff.Options) error
	AddOverviews func(path string, factors []int, m interp.Method) error
	Repack       func(ctx context.Context, src, dst string) error
	Log          logrus.FieldLogger
}

// NewWriter returns a writer using primary (nil for none) and the package's
// fallback steps.
func NewWriter(primary Driver, log logrus.FieldLogger) *Writer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{
		Primary:      primary,
		Factors:      geotiff.DefaultOverviewFactors,
		WriteTiled:   geotiff.WriteTiled,
		AddOverviews: geotiff.AddOverviews,
		Repack:       Repack,
		Log:          log,
	}
}

// IntermediatePath is the fallback's tiled file for dest.
func IntermediatePath(dest string) string {
	return dest + ".tmp.tif"
}

// Write serializes r to dest. r must already be prepared for opts.
func (w *Writer) Write(ctx context.Context, dest string, r *domain.Raster, opts geotiff.Options) (*Result, error) {
	m := &machine{}
	res := &Result{Path: dest}
	log := w.Log.WithField("path", dest)
	finish := func(s Strategy) (*Result, error) {
		res.State, res.Strategy, res.Transitions = m.state, s, m.history
		info, err := os.Stat(res.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat output: %w", err)
		}
		res.Size = info.Size()
		log.WithFields(logrus.Fields{"state": m.state, "strategy": s}).Info("raster written")
		return res, nil
	}

	m.to(PrimaryAttempted)
	primaryErr := fmt.Errorf("primary driver: %w", domain.ErrDriverUnavailable)
	if w.Primary != nil {
		err := w.Primary.Write(ctx, dest, r, opts)
		if err == nil {
			m.to(Done)
			return finish(StrategyCOG)
		}
		primaryErr = fmt.Errorf("%s driver: %w", w.Primary.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.WithError(primaryErr).Warn("single-pass COG write unavailable, using tiled GeoTIFF fallback")
	res.Warnings = append(res.Warnings, primaryErr.Error())

	m.to(FallbackWriting)
	tmp := IntermediatePath(dest)
	fail := func(err error) (*Result, error) {
		m.to(Failed)
		_ = os.Remove(tmp)
		log.WithFields(logrus.Fields{"state": m.state}).WithError(err).Error("fallback write failed")
		return nil, &domain.EncodingError{Path: dest, Primary: primaryErr, Fallback: err}
	}
	if err := w.WriteTiled(tmp, r, opts); err != nil {
		return fail(fmt.Errorf("tiled write: %w", err))
	}
	if err := w.AddOverviews(tmp, w.Factors, opts.Resampling); err != nil {
		return fail(fmt.Errorf("overviews: %w", err))
	}
	m.to(OverviewsBuilt)

	if err := w.Repack(ctx, tmp, dest); err != nil {
		log.WithError(err).Warn("COG repack failed, keeping tiled GeoTIFF")
		if rerr := os.Rename(tmp, dest); rerr != nil {
			return nil, fmt.Errorf("failed to keep intermediate %s: %w", tmp, errors.Join(err, rerr))
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("COG repack failed, kept tiled GeoTIFF: %v", err))
		m.to(Done)
		return finish(StrategyGTiff)
	}
	_ = os.Remove(tmp)
	m.to(Repacked)
	m.to(Done)
	return finish(StrategyFallbackCOG)
}

// Repack rewrites the tiled GeoTIFF at src into COG layout at dst, keeping
// its overviews.
func Repack(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	//nolint:gosec // G304: src is the writer's own intermediate file.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()
	return replaceFile(dst, func(f *os.File) error {
		bw := bufio.NewWriter(f)
		if err := safeRewrite(bw, in); err != nil {
			return fmt.Errorf("failed to rewrite as COG: %w", err)
		}
		return bw.Flush()
	})
}

// rewrite is the COG layout rewriter used by Repack.
var rewrite = func(w io.Writer, in *os.File) error { return cogger.Rewrite(w, in) }

// safeRewrite runs rewrite, turning a panic inside it into an error.
func safeRewrite(w io.Writer, in *os.File) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rewriter panicked: %v", r)
		}
	}()
	return rewrite(w, in)
}

// replaceFile writes through a temp file in path's directory, then renames.
func replaceFile(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
