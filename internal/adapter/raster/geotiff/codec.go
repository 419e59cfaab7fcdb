package geotiff

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		// A single encoder goroutine keeps the output byte-stable.
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// compress encodes one tile.
func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionDeflate:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create deflate writer: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("failed to deflate tile: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to deflate tile: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZSTD:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return enc.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("unsupported compression %v", c)
}

// decompress decodes one tile or strip.
func decompress(c Compression, data []byte, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open deflate stream: %w", err)
		}
		defer func() { _ = zr.Close() }()
		out := make([]byte, 0, size)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("failed to inflate tile: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZSTD:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd tile: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression %v", c)
}

// applyPredictor performs horizontal differencing in place on a tile of
// width samples per row, each bytesPerSample wide (little-endian).
func applyPredictor(buf []byte, width, bytesPerSample int) {
	rowBytes := width * bytesPerSample
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		switch bytesPerSample {
		case 1:
			for i := width - 1; i > 0; i-- {
				row[i] -= row[i-1]
			}
		case 2:
			for i := width - 1; i > 0; i-- {
				le.PutUint16(row[2*i:], le.Uint16(row[2*i:])-le.Uint16(row[2*(i-1):]))
			}
		case 4:
			for i := width - 1; i > 0; i-- {
				le.PutUint32(row[4*i:], le.Uint32(row[4*i:])-le.Uint32(row[4*(i-1):]))
			}
		case 8:
			for i := width - 1; i > 0; i-- {
				le.PutUint64(row[8*i:], le.Uint64(row[8*i:])-le.Uint64(row[8*(i-1):]))
			}
		}
	}
}

// undoPredictor reverses applyPredictor.
func undoPredictor(buf []byte, width, bytesPerSample int) {
	rowBytes := width * bytesPerSample
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		switch bytesPerSample {
		case 1:
			for i := 1; i < width; i++ {
				row[i] += row[i-1]
			}
		case 2:
			for i := 1; i < width; i++ {
				le.PutUint16(row[2*i:], le.Uint16(row[2*i:])+le.Uint16(row[2*(i-1):]))
			}
		case 4:
			for i := 1; i < width; i++ {
				le.PutUint32(row[4*i:], le.Uint32(row[4*i:])+le.Uint32(row[4*(i-1):]))
			}
		case 8:
			for i := 1; i < width; i++ {
				le.PutUint64(row[8*i:], le.Uint64(row[8*i:])+le.Uint64(row[8*(i-1):]))
			}
		}
	}
}
