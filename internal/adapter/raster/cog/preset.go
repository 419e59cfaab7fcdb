package cog

import (
	"fmt"
	"math"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
	"go.ngs.io/disp-cog/internal/domain"
)

// Mode selects what an extraction produces.
type Mode string

const (
	ModeDisplacement Mode = "displacement"
	ModeWaterMask    Mode = "water-mask"
)

// ParseMode accepts "displacement" and "water-mask" (or "water_mask").
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")); m {
	case "", ModeDisplacement:
		return ModeDisplacement, nil
	case ModeWaterMask:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected displacement or water-mask)", s)
}

// Preset returns the storage options for a mode.
func Preset(m Mode) (geotiff.Options, error) {
	switch m {
	case ModeDisplacement:
		return geotiff.Options{
			SampleType:  geotiff.Float32,
			NoData:      -9999,
			Compression: geotiff.CompressionDeflate,
			Predictor:   2,
			TileSize:    512,
			BigTIFF:     geotiff.BigTIFFIfNeeded,
			Resampling:  interp.Average,
		}, nil
	case ModeWaterMask:
		return geotiff.Options{
			SampleType:  geotiff.Uint8,
			NoData:      255,
			Compression: geotiff.CompressionDeflate,
			Predictor:   1,
			TileSize:    256,
			BigTIFF:     geotiff.BigTIFFIfNeeded,
			Resampling:  interp.Nearest,
		}, nil
	}
	return geotiff.Options{}, fmt.Errorf("unknown mode %q", m)
}

// Prepare returns a copy of r ready for serialization: NaN cells hold the
// no-data sentinel and values are cast to the storage type.
func Prepare(r *domain.Raster, opts geotiff.Options) *domain.Raster {
	out := r.Clone()
	for i, v := range out.Data {
		if math.IsNaN(v) {
			out.Data[i] = opts.NoData
			continue
		}
		switch opts.SampleType {
		case geotiff.Uint8:
			out.Data[i] = math.Max(0, math.Min(255, math.Round(v)))
		case geotiff.Float32:
			out.Data[i] = float64(float32(v))
		}
	}
	return out
}
