package mask

import (
	"fmt"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
	"go.ngs.io/disp-cog/internal/domain"
)

// LoadExternal reads a single-band GeoTIFF in any CRS and resamples it onto
// target's grid. Target pixel centres are projected into the file's CRS and
// sampled with the given method (nearest when empty).
func LoadExternal(path string, target *domain.Raster, method string) (*domain.Raster, error) {
	m, err := interp.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	src, _, err := geotiff.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read external mask: %w", err)
	}
	if src.Geo.CRS == "" {
		src.Geo.CRS = crs.WGS84
	}
	tr, err := crs.NewTransformer(target.Geo.CRS, src.Geo.CRS)
	if err != nil {
		return nil, fmt.Errorf("failed to reproject external mask: %w", err)
	}

	grid := domain.NewRaster("external_mask", target.Rows, target.Cols)
	grid.Geo = target.Geo
	out, err := interp.Resample(src, grid, tr, m)
	if err != nil {
		return nil, fmt.Errorf("failed to resample external mask: %w", err)
	}
	out.Name = "external_mask"
	return out, nil
}
