package geotiff

import (
	"errors"
	"fmt"
	"io"

	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/domain"
)

// DefaultOverviewFactors are the reduction factors added by the fallback writer.
var DefaultOverviewFactors = []int{2, 4, 8, 16, 32}

// AddOverviews rewrites the tiled GeoTIFF at path with reduced-resolution
// levels for the given factors, tagging the resampling method. Factors are
// applied to the base level and stop once a level no longer shrinks in both
// dimensions. Existing overviews are replaced.
func AddOverviews(path string, factors []int, m interp.Method) error {
	if len(factors) == 0 {
		return errors.New("no overview factors given")
	}
	if _, err := interp.ParseResampling(string(m)); err != nil {
		return err
	}
	base, info, err := Read(path)
	if err != nil {
		return err
	}
	opts, err := info.Options()
	if err != nil {
		return fmt.Errorf("failed to add overviews to %s: %w", path, err)
	}
	opts.Resampling = m
	// Keep the requested flavour but let a grown file switch to BigTIFF.
	if !info.BigTIFF {
		opts.BigTIFF = BigTIFFIfNeeded
	}

	levels, err := OverviewLevels(base, factors, m)
	if err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error {
		return writeImages(w, levels, opts, false)
	})
}

// OverviewLevels returns base followed by one reduced level per factor. Every
// overview is strictly smaller than the level before it in both height and
// width; the first factor that fails this ends the list. COG repackers key
// IFDs on their dimensions and reject repeated heights.
func OverviewLevels(base *domain.Raster, factors []int, m interp.Method) ([]*domain.Raster, error) {
	levels := []*domain.Raster{base}
	prev := 1
	for _, f := range factors {
		if f <= prev {
			return nil, fmt.Errorf("overview factors must be increasing and greater than 1, got %v", factors)
		}
		prev = f
		lv, err := interp.Downsample(base, f, m)
		if err != nil {
			return nil, fmt.Errorf("failed to build overview x%d: %w", f, err)
		}
		last := levels[len(levels)-1]
		if lv.Rows >= last.Rows || lv.Cols >= last.Cols {
			break
		}
		levels = append(levels, lv)
	}
	return levels, nil
}
