package geotiff

import (
	"encoding/binary"
	"math"
	"sort"
)

// TIFF tags written by the encoder.
const (
	tagNewSubfileType            uint16 = 254
	tagImageWidth                uint16 = 256
	tagImageLength               uint16 = 257
	tagBitsPerSample             uint16 = 258
	tagCompression               uint16 = 259
	tagPhotometricInterpretation uint16 = 262
	tagStripOffsets              uint16 = 273
	tagSamplesPerPixel           uint16 = 277
	tagRowsPerStrip              uint16 = 278
	tagStripByteCounts           uint16 = 279
	tagPlanarConfiguration       uint16 = 284
	tagPredictor                 uint16 = 317
	tagTileWidth                 uint16 = 322
	tagTileLength                uint16 = 323
	tagTileOffsets               uint16 = 324
	tagTileByteCounts            uint16 = 325
	tagSampleFormat              uint16 = 339
	tagModelPixelScale           uint16 = 33550
	tagModelTiepoint             uint16 = 33922
	tagModelTransformation       uint16 = 34264
	tagGeoKeyDirectory           uint16 = 34735
	tagGeoDoubleParams           uint16 = 34736
	tagGeoASCIIParams            uint16 = 34737
	tagGDALMetadata              uint16 = 42112
	tagGDALNoData                uint16 = 42113
)

// TIFF field types.
const (
	typeByte   uint16 = 1
	typeASCII  uint16 = 2
	typeShort  uint16 = 3
	typeLong   uint16 = 4
	typeDouble uint16 = 12
	typeLong8  uint16 = 16
)

const (
	sampleFormatUint  uint16 = 1
	sampleFormatInt   uint16 = 2
	sampleFormatFloat uint16 = 3

	subfileReduced uint32 = 1
)

var le = binary.LittleEndian

// entry is one IFD field with its little-endian payload.
type entry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func shortEntry(tag uint16, vals ...uint16) entry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		le.PutUint16(b[2*i:], v)
	}
	return entry{tag: tag, typ: typeShort, count: uint64(len(vals)), data: b}
}

func longEntry(tag uint16, vals ...uint32) entry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		le.PutUint32(b[4*i:], v)
	}
	return entry{tag: tag, typ: typeLong, count: uint64(len(vals)), data: b}
}

func doubleEntry(tag uint16, vals ...float64) entry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		le.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: typeDouble, count: uint64(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint64(len(b)), data: b}
}

// offsetEntry stores file offsets or byte counts as LONG, or LONG8 in BigTIFF.
func offsetEntry(tag uint16, vals []uint64, big bool) entry {
	if !big {
		b := make([]byte, 4*len(vals))
		for i, v := range vals {
			//nolint:gosec // G115: classic TIFF offsets are checked against the 32-bit limit.
			le.PutUint32(b[4*i:], uint32(v))
		}
		return entry{tag: tag, typ: typeLong, count: uint64(len(vals)), data: b}
	}
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		le.PutUint64(b[8*i:], v)
	}
	return entry{tag: tag, typ: typeLong8, count: uint64(len(vals)), data: b}
}

// ifd is an ordered set of entries that serializes to a directory followed by
// its out-of-line values.
type ifd struct {
	entries []entry
}

func (d *ifd) sort() {
	sort.Slice(d.entries, func(i, j int) bool { return d.entries[i].tag < d.entries[j].tag })
}

func inlineLimit(big bool) int {
	if big {
		return 8
	}
	return 4
}

func dirSize(n int, big bool) int64 {
	if big {
		return 8 + int64(n)*20 + 8
	}
	return 2 + int64(n)*12 + 4
}

// size is the number of bytes encode produces.
func (d *ifd) size(big bool) int64 {
	n := dirSize(len(d.entries), big)
	for _, e := range d.entries {
		if len(e.data) > inlineLimit(big) {
			n += int64(len(e.data) + len(e.data)%2)
		}
	}
	return n
}

// encode serializes the directory as if written at offset at, pointing to next.
func (d *ifd) encode(at, next int64, big bool) []byte {
	d.sort()
	out := make([]byte, 0, d.size(big))
	extra := make([]byte, 0)
	extraAt := at + dirSize(len(d.entries), big)

	putCount := func(v uint64) {
		if big {
			out = le.AppendUint64(out, v)
		} else {
			//nolint:gosec // G115: classic TIFF values are 32-bit.
			out = le.AppendUint32(out, uint32(v))
		}
	}

	if big {
		out = le.AppendUint64(out, uint64(len(d.entries)))
	} else {
		//nolint:gosec // G115: entry counts are small.
		out = le.AppendUint16(out, uint16(len(d.entries)))
	}
	limit := inlineLimit(big)
	for _, e := range d.entries {
		out = le.AppendUint16(out, e.tag)
		out = le.AppendUint16(out, e.typ)
		putCount(e.count)
		if len(e.data) <= limit {
			field := make([]byte, limit)
			copy(field, e.data)
			out = append(out, field...)
			continue
		}
		//nolint:gosec // G115: offsets are non-negative.
		putCount(uint64(extraAt + int64(len(extra))))
		extra = append(extra, e.data...)
		if len(e.data)%2 == 1 {
			extra = append(extra, 0)
		}
	}
	//nolint:gosec // G115: offsets are non-negative.
	putCount(uint64(next))
	return append(out, extra...)
}

// header returns the file header pointing at the first IFD.
func header(first int64, big bool) []byte {
	if big {
		b := []byte{'I', 'I', 43, 0, 8, 0, 0, 0}
		//nolint:gosec // G115: offsets are non-negative.
		return le.AppendUint64(b, uint64(first))
	}
	b := []byte{'I', 'I', 42, 0}
	//nolint:gosec // G115: classic offsets are checked against the 32-bit limit.
	return le.AppendUint32(b, uint32(first))
}

func headerSize(big bool) int64 {
	if big {
		return 16
	}
	return 8
}
