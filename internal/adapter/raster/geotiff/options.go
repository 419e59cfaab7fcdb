// Package geotiff encodes and decodes single-band tiled GeoTIFF and BigTIFF
// files, including cloud-optimized layouts with internal overviews.
package geotiff

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/interp"
)

// Compression is a TIFF compression scheme.
type Compression uint16

const (
	CompressionNone    Compression = 1
	CompressionDeflate Compression = 8
	CompressionZSTD    Compression = 50000
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "NONE"
	case CompressionDeflate:
		return "DEFLATE"
	case CompressionZSTD:
		return "ZSTD"
	}
	return fmt.Sprintf("compression(%d)", uint16(c))
}

// ParseCompression accepts NONE, DEFLATE (or ZLIB) and ZSTD, case-insensitive.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return CompressionNone, nil
	case "DEFLATE", "ZLIB":
		return CompressionDeflate, nil
	case "ZSTD":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("unsupported compression %q (expected NONE, DEFLATE or ZSTD)", s)
}

// SampleType is the on-disk sample representation.
type SampleType int

const (
	Uint8 SampleType = iota
	Float32
)

func (s SampleType) String() string {
	if s == Uint8 {
		return "uint8"
	}
	return "float32"
}

func (s SampleType) bits() int {
	if s == Uint8 {
		return 8
	}
	return 32
}

func (s SampleType) format() uint16 {
	if s == Uint8 {
		return sampleFormatUint
	}
	return sampleFormatFloat
}

// BigTIFF selects the file flavour.
type BigTIFF string

const (
	BigTIFFIfNeeded BigTIFF = "IF_NEEDED"
	BigTIFFYes      BigTIFF = "YES"
	BigTIFFNo       BigTIFF = "NO"
)

// ParseBigTIFF accepts IF_NEEDED, YES and NO.
func ParseBigTIFF(s string) (BigTIFF, error) {
	switch b := BigTIFF(strings.ToUpper(strings.TrimSpace(s))); b {
	case "":
		return BigTIFFIfNeeded, nil
	case BigTIFFIfNeeded, BigTIFFYes, BigTIFFNo:
		return b, nil
	}
	return "", fmt.Errorf("unsupported BIGTIFF mode %q (expected IF_NEEDED, YES or NO)", s)
}

// Options describes the output raster.
type Options struct {
	SampleType  SampleType
	NoData      float64
	Compression Compression
	Predictor   int // 1 (none) or 2 (horizontal differencing)
	TileSize    int
	BigTIFF     BigTIFF
	Resampling  interp.Method // overview resampling
	Description string        // band description stored in GDAL metadata
}

// Validate checks that the options can be encoded.
func (o Options) Validate() error {
	var errs []error
	if o.TileSize < 16 || o.TileSize > 4096 || o.TileSize%16 != 0 {
		errs = append(errs, fmt.Errorf("tile size %d must be a multiple of 16 in [16, 4096]", o.TileSize))
	}
	switch o.Compression {
	case CompressionNone, CompressionDeflate, CompressionZSTD:
	default:
		errs = append(errs, fmt.Errorf("unsupported compression %v", o.Compression))
	}
	if o.Predictor != 1 && o.Predictor != 2 {
		errs = append(errs, fmt.Errorf("predictor %d must be 1 or 2", o.Predictor))
	}
	if _, err := ParseBigTIFF(string(o.BigTIFF)); err != nil {
		errs = append(errs, err)
	}
	if _, err := interp.ParseResampling(string(o.Resampling)); err != nil {
		errs = append(errs, err)
	}
	if o.SampleType == Uint8 && !math.IsNaN(o.NoData) && (o.NoData < 0 || o.NoData > 255 || o.NoData != math.Trunc(o.NoData)) {
		errs = append(errs, fmt.Errorf("nodata %v does not fit uint8", o.NoData))
	}
	if o.SampleType != Uint8 && o.SampleType != Float32 {
		errs = append(errs, errors.New("sample type must be uint8 or float32"))
	}
	return errors.Join(errs...)
}

// withDefaults fills zero values.
func (o Options) withDefaults() Options {
	if o.Compression == 0 {
		o.Compression = CompressionNone
	}
	if o.Predictor == 0 {
		o.Predictor = 1
	}
	if o.TileSize == 0 {
		o.TileSize = 512
	}
	if o.BigTIFF == "" {
		o.BigTIFF = BigTIFFIfNeeded
	}
	if o.Resampling == "" {
		o.Resampling = interp.Nearest
	}
	return o
}
