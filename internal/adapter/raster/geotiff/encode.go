package geotiff

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/domain"
)

// classicLimit is the largest offset a classic TIFF can address.
const classicLimit = math.MaxUint32

// image is one encoded IFD: a full-resolution raster or an overview.
type image struct {
	raster   *domain.Raster
	overview bool
	counts   []uint64
	tiles    [][]byte
}

// Encode writes r as a cloud-optimized GeoTIFF: header, every IFD (full
// resolution first), then tile data from the smallest overview up to the
// full-resolution level. Overviews halve until a level fits in one tile.
func Encode(w io.Writer, r *domain.Raster, opts Options) error {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}
	levels, err := Pyramid(maskNoData(r, opts.NoData), opts.TileSize, opts.Resampling)
	if err != nil {
		return err
	}
	return writeImages(w, levels, opts, true)
}

// maskNoData returns r with cells equal to nodata replaced by NaN, so
// overviews skip them instead of averaging the sentinel. NaN cells are
// written back as nodata. r is returned unchanged when nodata is NaN or
// absent from the data.
func maskNoData(r *domain.Raster, nodata float64) *domain.Raster {
	if math.IsNaN(nodata) {
		return r
	}
	var out *domain.Raster
	for i, v := range r.Data {
		if v != nodata {
			continue
		}
		if out == nil {
			out = r.Clone()
		}
		out.Data[i] = math.NaN()
	}
	if out == nil {
		return r
	}
	return out
}

// Pyramid returns r followed by its overviews, halving each time until a
// level fits in a single tile.
func Pyramid(r *domain.Raster, tileSize int, m interp.Method) ([]*domain.Raster, error) {
	levels := []*domain.Raster{r}
	for cur := r; cur.Rows > tileSize || cur.Cols > tileSize; {
		next, err := interp.Downsample(cur, 2, m)
		if err != nil {
			return nil, fmt.Errorf("failed to build overview: %w", err)
		}
		levels = append(levels, next)
		cur = next
	}
	return levels, nil
}

// WriteTiled writes r to path as a tiled GeoTIFF without overviews.
func WriteTiled(path string, r *domain.Raster, opts Options) error {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error {
		return writeImages(w, []*domain.Raster{r}, opts, false)
	})
}

// writeFile creates path through a sibling temp file so a failed write never
// leaves a partial file behind.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// writeImages lays out and writes a complete TIFF. When cogOrder is set tile
// data runs from the last level to the first; otherwise in level order.
func writeImages(w io.Writer, levels []*domain.Raster, opts Options, cogOrder bool) error {
	big, err := chooseBigTIFF(opts.BigTIFF, estimateSize(levels, opts))
	if err != nil {
		return err
	}

	images := make([]*image, len(levels))
	for i, lv := range levels {
		img := &image{raster: lv, overview: i > 0}
		if err := img.encodeTiles(opts); err != nil {
			return err
		}
		images[i] = img
	}

	meta := gdalMetadata(opts, len(levels) > 1)

	// Directory sizes do not depend on the offset values, so lay out with zeros first.
	dirs := make([]*ifd, len(images))
	ifdAt := make([]int64, len(images))
	pos := headerSize(big)
	for i, img := range images {
		dirs[i] = img.directory(opts, make([]uint64, len(img.tiles)), big, meta)
		ifdAt[i] = pos
		pos += dirs[i].size(big)
	}

	order := make([]int, len(images))
	for i := range order {
		order[i] = i
		if cogOrder {
			order[i] = len(images) - 1 - i
		}
	}
	offsets := make([][]uint64, len(images))
	for _, i := range order {
		offsets[i] = make([]uint64, len(images[i].tiles))
		for t, tile := range images[i].tiles {
			//nolint:gosec // G115: positions are non-negative.
			offsets[i][t] = uint64(pos)
			pos += int64(len(tile))
		}
	}
	if !big && pos > classicLimit {
		return fmt.Errorf("output of %d bytes exceeds the classic TIFF limit; enable BIGTIFF", pos)
	}

	if _, err := w.Write(header(ifdAt[0], big)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, img := range images {
		next := int64(0)
		if i+1 < len(images) {
			next = ifdAt[i+1]
		}
		d := img.directory(opts, offsets[i], big, meta)
		if _, err := w.Write(d.encode(ifdAt[i], next, big)); err != nil {
			return fmt.Errorf("failed to write IFD %d: %w", i, err)
		}
	}
	for _, i := range order {
		for _, tile := range images[i].tiles {
			if _, err := w.Write(tile); err != nil {
				return fmt.Errorf("failed to write tile data: %w", err)
			}
		}
	}
	return nil
}

// encodeTiles converts, predicts and compresses every tile in row-major order.
// Partial edge tiles are padded with the no-data value.
func (img *image) encodeTiles(opts Options) error {
	r := img.raster
	ts := opts.TileSize
	bps := opts.SampleType.bits() / 8
	across := (r.Cols + ts - 1) / ts
	down := (r.Rows + ts - 1) / ts
	img.tiles = make([][]byte, 0, across*down)
	img.counts = make([]uint64, 0, across*down)

	raw := make([]byte, ts*ts*bps)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			for i := 0; i < ts; i++ {
				for j := 0; j < ts; j++ {
					row, col := ty*ts+i, tx*ts+j
					v := opts.NoData
					if row < r.Rows && col < r.Cols {
						v = r.At(row, col)
					}
					putSample(raw[(i*ts+j)*bps:], v, opts)
				}
			}
			buf := append([]byte(nil), raw...)
			if opts.Predictor == 2 {
				applyPredictor(buf, ts, bps)
			}
			data, err := compress(opts.Compression, buf)
			if err != nil {
				return err
			}
			img.tiles = append(img.tiles, data)
			img.counts = append(img.counts, uint64(len(data)))
		}
	}
	return nil
}

// putSample stores v in the output sample type. NaN becomes the no-data value.
func putSample(dst []byte, v float64, opts Options) {
	if math.IsNaN(v) {
		v = opts.NoData
	}
	switch opts.SampleType {
	case Uint8:
		if math.IsNaN(v) {
			v = 0
		}
		dst[0] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	case Float32:
		le.PutUint32(dst, math.Float32bits(float32(v)))
	}
}

// directory builds the IFD for img with the given tile offsets.
func (img *image) directory(opts Options, offsets []uint64, big bool, meta string) *ifd {
	r := img.raster
	subfile := uint32(0)
	if img.overview {
		subfile = subfileReduced
	}
	//nolint:gosec // G115: raster dimensions and tile sizes fit in 32 bits.
	d := &ifd{entries: []entry{
		longEntry(tagNewSubfileType, subfile),
		longEntry(tagImageWidth, uint32(r.Cols)),
		longEntry(tagImageLength, uint32(r.Rows)),
		shortEntry(tagBitsPerSample, uint16(opts.SampleType.bits())),
		shortEntry(tagCompression, uint16(opts.Compression)),
		shortEntry(tagPhotometricInterpretation, 1),
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagPlanarConfiguration, 1),
		shortEntry(tagTileWidth, uint16(opts.TileSize)),
		shortEntry(tagTileLength, uint16(opts.TileSize)),
		offsetEntry(tagTileOffsets, offsets, big),
		offsetEntry(tagTileByteCounts, img.counts, big),
		shortEntry(tagSampleFormat, opts.SampleType.format()),
	}}
	if opts.Predictor == 2 {
		d.entries = append(d.entries, shortEntry(tagPredictor, 2))
	}
	if !img.overview {
		d.entries = append(d.entries, geoEntries(r.Geo)...)
		if meta != "" {
			d.entries = append(d.entries, asciiEntry(tagGDALMetadata, meta))
		}
	}
	if !math.IsNaN(opts.NoData) {
		d.entries = append(d.entries, asciiEntry(tagGDALNoData, formatNoData(opts.NoData)))
	}
	d.sort()
	return d
}

func formatNoData(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// gdalMetadata returns the GDAL_METADATA XML, or "" when there is nothing to say.
func gdalMetadata(opts Options, hasOverviews bool) string {
	var items string
	if hasOverviews {
		items += `<Item name="resampling" domain="rio_overview">` + string(opts.Resampling) + `</Item>`
	}
	if opts.Description != "" {
		items += `<Item name="DESCRIPTION" sample="0" role="description">` + xmlEscape(opts.Description) + `</Item>`
	}
	if items == "" {
		return ""
	}
	return "<GDALMetadata>" + items + "</GDALMetadata>"
}

func xmlEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		case '&':
			out = append(out, "&amp;"...)
		case '"':
			out = append(out, "&quot;"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// estimateSize is the uncompressed size of every level plus directory overhead.
func estimateSize(levels []*domain.Raster, opts Options) int64 {
	bps := int64(opts.SampleType.bits() / 8)
	ts := int64(opts.TileSize)
	var n int64 = 16
	for _, lv := range levels {
		across := (int64(lv.Cols) + ts - 1) / ts
		down := (int64(lv.Rows) + ts - 1) / ts
		n += across * down * ts * ts * bps
		n += across*down*16 + 1024
	}
	return n
}

// NeedsBigTIFF reports whether an image of the given size needs 64-bit offsets
// under IF_NEEDED.
func NeedsBigTIFF(estimated int64) bool {
	return estimated > classicLimit
}

func chooseBigTIFF(mode BigTIFF, estimated int64) (bool, error) {
	switch mode {
	case BigTIFFYes:
		return true, nil
	case BigTIFFNo:
		return false, nil
	case BigTIFFIfNeeded, "":
		return NeedsBigTIFF(estimated), nil
	}
	return false, fmt.Errorf("unsupported BIGTIFF mode %q", mode)
}
