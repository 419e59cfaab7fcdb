package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff" // registers the BigTIFF header

	"go.ngs.io/disp-cog/internal/domain"
)

// tiffIFD is the subset of baseline, GeoTIFF and GDAL tags this package reads.
type tiffIFD struct {
	SubfileType         uint32    `tiff:"field,tag=254"`
	ImageWidth          uint64    `tiff:"field,tag=256"`
	ImageLength         uint64    `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint64    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScale     []float64 `tiff:"field,tag=33550"`
	ModelTiepoint       []float64 `tiff:"field,tag=33922"`
	ModelTransformation []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectory     []uint16  `tiff:"field,tag=34735"`
	GeoASCIIParams      string    `tiff:"field,tag=34737"`
	GDALMetadata        string    `tiff:"field,tag=42112"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// Level describes one IFD.
type Level struct {
	Width      int
	Height     int
	TileWidth  int // 0 for stripped images
	TileHeight int
	Overview   bool
	DataOffset uint64 // first tile or strip offset
}

// Info summarizes a GeoTIFF file.
type Info struct {
	BigTIFF        bool
	Levels         []Level
	Compression    Compression
	Predictor      int
	SampleFormat   uint16
	BitsPerSample  int
	NoData         float64
	HasNoData      bool
	Metadata       string
	Resampling     string // rio_overview resampling tag, if any
	Description    string
	Geo            domain.Georeference
	CloudOptimized bool // overview data precedes full-resolution data
}

// Options returns encoder options reproducing the file's storage settings.
func (in *Info) Options() (Options, error) {
	var st SampleType
	switch {
	case in.SampleFormat == sampleFormatUint && in.BitsPerSample == 8:
		st = Uint8
	case in.SampleFormat == sampleFormatFloat && in.BitsPerSample == 32:
		st = Float32
	default:
		return Options{}, fmt.Errorf("cannot re-encode %d-bit samples of format %d", in.BitsPerSample, in.SampleFormat)
	}
	if len(in.Levels) == 0 || in.Levels[0].TileWidth == 0 || in.Levels[0].TileWidth != in.Levels[0].TileHeight {
		return Options{}, errors.New("only square-tiled images can be re-encoded")
	}
	nodata := math.NaN()
	if in.HasNoData {
		nodata = in.NoData
	}
	opts := Options{
		SampleType:  st,
		NoData:      nodata,
		Compression: in.Compression,
		Predictor:   in.Predictor,
		TileSize:    in.Levels[0].TileWidth,
		BigTIFF:     BigTIFFNo,
		Description: in.Description,
	}
	if in.BigTIFF {
		opts.BigTIFF = BigTIFFYes
	}
	return opts, nil
}

type file struct {
	f    *os.File
	ifds []tiffIFD
	info *Info
	bo   binary.ByteOrder
}

func open(path string) (*file, error) {
	//nolint:gosec // G304: path comes from the caller.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	tf, err := parse(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return tf, nil
}

func parse(f *os.File) (*file, error) {
	var hdr [4]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var bo binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}

	t, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return nil, err
	}
	out := &file{f: f, bo: bo, info: &Info{BigTIFF: bo.Uint16(hdr[2:]) == 43}}
	for i, raw := range t.IFDs() {
		var d tiffIFD
		if err := tiff.UnmarshalIFD(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode IFD %d: %w", i, err)
		}
		out.ifds = append(out.ifds, d)
	}
	if len(out.ifds) == 0 {
		return nil, errors.New("no image directories")
	}
	if err := out.describe(); err != nil {
		return nil, err
	}
	return out, nil
}

func (tf *file) describe() error {
	in := tf.info
	main := tf.ifds[0]
	if main.SamplesPerPixel > 1 {
		return fmt.Errorf("%d samples per pixel; only single-band images are supported", main.SamplesPerPixel)
	}
	in.Compression = Compression(main.Compression)
	if in.Compression == 0 {
		in.Compression = CompressionNone
	}
	in.Predictor = int(main.Predictor)
	if in.Predictor == 0 {
		in.Predictor = 1
	}
	in.BitsPerSample = 8
	if len(main.BitsPerSample) > 0 {
		in.BitsPerSample = int(main.BitsPerSample[0])
	}
	in.SampleFormat = sampleFormatUint
	if len(main.SampleFormat) > 0 {
		in.SampleFormat = main.SampleFormat[0]
	}
	if s := strings.TrimRight(main.GDALNoData, "\x00 "); s != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			in.NoData, in.HasNoData = v, true
		}
	}
	in.Metadata = strings.TrimRight(main.GDALMetadata, "\x00")
	in.Resampling = metadataItem(in.Metadata, "resampling")
	in.Description = metadataItem(in.Metadata, "DESCRIPTION")

	geo, err := georeference(main)
	if err != nil {
		return err
	}
	in.Geo = geo

	in.CloudOptimized = len(tf.ifds) > 1
	var prev uint64
	for i, d := range tf.ifds {
		lv := Level{
			//nolint:gosec // G115: image dimensions fit in int.
			Width: int(d.ImageWidth), Height: int(d.ImageLength),
			TileWidth: int(d.TileWidth), TileHeight: int(d.TileLength),
			Overview: d.SubfileType&subfileReduced != 0,
		}
		offs := d.TileOffsets
		if len(offs) == 0 {
			offs = d.StripOffsets
		}
		if len(offs) > 0 {
			lv.DataOffset = offs[0]
		}
		if i > 0 && lv.DataOffset >= prev {
			in.CloudOptimized = false
		}
		prev = lv.DataOffset
		in.Levels = append(in.Levels, lv)
	}
	return nil
}

var itemRe = regexp.MustCompile(`<Item name="([^"]+)"[^>]*>([^<]*)</Item>`)

func metadataItem(meta, name string) string {
	for _, m := range itemRe.FindAllStringSubmatch(meta, -1) {
		if m[1] == name {
			r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&amp;", "&")
			return r.Replace(m[2])
		}
	}
	return ""
}

func georeference(d tiffIFD) (domain.Georeference, error) {
	var g domain.Georeference
	switch {
	case len(d.ModelTransformation) >= 8:
		m := d.ModelTransformation
		g.Transform = domain.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	case len(d.ModelPixelScale) >= 2 && len(d.ModelTiepoint) >= 6:
		s, tp := d.ModelPixelScale, d.ModelTiepoint
		g.Transform = domain.Affine{
			A: s[0], C: tp[3] - tp[0]*s[0],
			E: -s[1], F: tp[4] + tp[1]*s[1],
		}
	default:
		g.Transform = domain.Affine{A: 1, E: 1}
	}
	if len(d.GeoKeyDirectory) > 0 {
		c, err := parseGeoKeys(d.GeoKeyDirectory, strings.TrimRight(d.GeoASCIIParams, "\x00"))
		if err != nil {
			return g, err
		}
		g.CRS = c
	}
	return g, nil
}

func (tf *file) Close() error { return tf.f.Close() }

// Inspect describes the levels, layout and tags of a GeoTIFF.
func Inspect(path string) (*Info, error) {
	tf, err := open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tf.Close() }()
	return tf.info, nil
}

// Read decodes the full-resolution level. No-data cells become NaN.
func Read(path string) (*domain.Raster, *Info, error) {
	return ReadLevel(path, 0)
}

// ReadLevel decodes the given IFD. Overview levels carry a transform scaled
// from the full-resolution one.
func ReadLevel(path string, level int) (*domain.Raster, *Info, error) {
	tf, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tf.Close() }()
	if level < 0 || level >= len(tf.ifds) {
		return nil, nil, fmt.Errorf("level %d out of range (file has %d)", level, len(tf.ifds))
	}
	r, err := tf.readIFD(level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r, tf.info, nil
}

func (tf *file) readIFD(level int) (*domain.Raster, error) {
	d := tf.ifds[level]
	in := tf.info
	//nolint:gosec // G115: image dimensions fit in int.
	width, height := int(d.ImageWidth), int(d.ImageLength)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if d.PlanarConfiguration > 1 && d.SamplesPerPixel > 1 {
		return nil, errors.New("planar images are not supported")
	}
	bits := in.BitsPerSample
	if len(d.BitsPerSample) > 0 {
		bits = int(d.BitsPerSample[0])
	}
	format := in.SampleFormat
	if len(d.SampleFormat) > 0 {
		format = d.SampleFormat[0]
	}
	conv, err := sampleReader(format, bits)
	if err != nil {
		return nil, err
	}
	bps := bits / 8
	comp := Compression(d.Compression)
	if comp == 0 {
		comp = CompressionNone
	}

	// Blocks are tiles, or strips treated as full-width tiles.
	bw, bh := int(d.TileWidth), int(d.TileLength)
	offsets, counts := d.TileOffsets, d.TileByteCounts
	if bw == 0 {
		bw = width
		//nolint:gosec // G115: strip heights fit in int.
		bh = int(d.RowsPerStrip)
		if bh <= 0 || bh > height {
			bh = height
		}
		offsets, counts = d.StripOffsets, d.StripByteCounts
	}
	across := (width + bw - 1) / bw
	down := (height + bh - 1) / bh
	if len(offsets) < across*down || len(counts) < across*down {
		return nil, fmt.Errorf("expected %d blocks, found %d offsets", across*down, len(offsets))
	}

	r := domain.NewRaster("", height, width)
	for b := 0; b < across*down; b++ {
		bx, by := b%across, b/across
		rowsInBlock := bh
		if bw == width && by == down-1 {
			// The last strip may be short.
			rowsInBlock = height - by*bh
		}
		raw := make([]byte, counts[b])
		//nolint:gosec // G115: offsets come from the file.
		if _, err := tf.f.ReadAt(raw, int64(offsets[b])); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read block %d: %w", b, err)
		}
		buf, err := decompress(comp, raw, bw*rowsInBlock*bps)
		if err != nil {
			return nil, err
		}
		if len(buf) < bw*rowsInBlock*bps {
			return nil, fmt.Errorf("block %d decoded to %d bytes, want %d", b, len(buf), bw*rowsInBlock*bps)
		}
		if tf.bo == binary.BigEndian {
			swapSamples(buf, bps)
		}
		if d.Predictor == 2 {
			undoPredictor(buf, bw, bps)
		}
		for i := 0; i < rowsInBlock; i++ {
			row := by*bh + i
			if row >= height {
				break
			}
			for j := 0; j < bw; j++ {
				col := bx*bw + j
				if col >= width {
					break
				}
				v := conv(buf[(i*bw+j)*bps:])
				if in.HasNoData && v == in.NoData {
					v = math.NaN()
				}
				r.Set(row, col, v)
			}
		}
	}

	r.Geo = in.Geo
	if level > 0 {
		main := tf.ifds[0]
		fx := float64(main.ImageWidth) / float64(width)
		fy := float64(main.ImageLength) / float64(height)
		r.Geo.Transform = in.Geo.Transform.Scale(fx, fy)
	}
	if in.Description != "" {
		r.Name = in.Description
	}
	return r, nil
}

func sampleReader(format uint16, bits int) (func([]byte) float64, error) {
	if format == 0 {
		format = sampleFormatUint
	}
	switch {
	case format == sampleFormatUint && bits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format == sampleFormatInt && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == sampleFormatUint && bits == 16:
		return func(b []byte) float64 { return float64(le.Uint16(b)) }, nil
	case format == sampleFormatInt && bits == 16:
		//nolint:gosec // G115: reinterpretation of the stored bits.
		return func(b []byte) float64 { return float64(int16(le.Uint16(b))) }, nil
	case format == sampleFormatUint && bits == 32:
		return func(b []byte) float64 { return float64(le.Uint32(b)) }, nil
	case format == sampleFormatInt && bits == 32:
		//nolint:gosec // G115: reinterpretation of the stored bits.
		return func(b []byte) float64 { return float64(int32(le.Uint32(b))) }, nil
	case format == sampleFormatFloat && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(le.Uint32(b))) }, nil
	case format == sampleFormatFloat && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) }, nil
	}
	return nil, fmt.Errorf("unsupported sample format %d with %d bits", format, bits)
}

func swapSamples(buf []byte, bps int) {
	if bps < 2 {
		return
	}
	for off := 0; off+bps <= len(buf); off += bps {
		s := buf[off : off+bps]
		for i, j := 0, bps-1; i < j; i, j = i+1, j-1 {
			s[i], s[j] = s[j], s[i]
		}
	}
}
