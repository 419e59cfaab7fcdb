package granule

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctessum/cdf"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

// Classic decodes NetCDF3 (classic and 64-bit offset) granules.
type Classic struct{}

// Name implements store.Backend.
func (Classic) Name() string { return "classic" }

// Open implements store.Backend.
func (Classic) Open(_ context.Context, src store.Source) (store.Dataset, error) {
	f, err := cdf.Open(readOnly{src})
	if err != nil {
		return nil, fmt.Errorf("failed to read NetCDF3 header of %s: %w", src.URI(), err)
	}
	if errs := f.Header.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid NetCDF3 header: %w", errors.Join(errs...))
	}
	return &classicDataset{f: f, numRecs: int(f.Header.NumRecs(src.Size()))}, nil
}

var errReadOnly = errors.New("source is read-only")

type readOnly struct {
	store.Source
}

func (readOnly) WriteAt([]byte, int64) (int, error) { return 0, errReadOnly }

type classicDataset struct {
	f       *cdf.File
	numRecs int
}

func (d *classicDataset) Variables() []string {
	return d.f.Header.Variables()
}

func (d *classicDataset) Variable(name string) (domain.RasterVariable, error) {
	h := d.f.Header
	lengths := h.Lengths(name)
	if lengths == nil {
		return domain.RasterVariable{}, fmt.Errorf("variable %s not found", name)
	}
	shape := append([]int(nil), lengths...)
	if h.IsRecordVariable(name) {
		shape[0] = d.numRecs
	}
	info := domain.RasterVariable{
		Name:  name,
		Dims:  h.Dimensions(name),
		Shape: shape,
		Attrs: d.attrs(name),
		DType: fmt.Sprintf("%T", h.ZeroValue(name, 0)),
	}
	return info, nil
}

func (d *classicDataset) GlobalAttrs() domain.Attributes {
	return d.attrs("")
}

func (d *classicDataset) attrs(v string) domain.Attributes {
	attrs := domain.Attributes{}
	for _, key := range d.f.Header.Attributes(v) {
		raw := d.f.Header.GetAttribute(v, key)
		// BYTE attributes decode as []uint8; keep them numeric.
		if b, ok := raw.([]uint8); ok {
			wide := make([]uint16, len(b))
			for i := range b {
				wide[i] = uint16(b[i])
			}
			raw = wide
		}
		if val, ok := attrValue(raw); ok {
			attrs[key] = val
		}
	}
	return attrs
}

func (d *classicDataset) ReadFloat64s(name string, start, count []int) ([]float64, error) {
	info, err := d.Variable(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) == 0 {
		return nil, fmt.Errorf("variable %s is a scalar", name)
	}
	start, count, err = resolveSlab(name, info.Shape, start, count)
	if err != nil {
		return nil, err
	}

	// Read whole records along the leading dimension, then crop.
	begin := make([]int, len(info.Shape))
	end := append([]int(nil), info.Shape...)
	begin[0] = start[0]
	end[0] = start[0] + count[0]
	recShape := append([]int{count[0]}, info.Shape[1:]...)

	r := d.f.Reader(name, begin, end)
	buf := r.Zero(product(recShape))
	if buf == nil {
		return nil, fmt.Errorf("unsupported data type for %s", name)
	}
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	flat, ok := toFloat64s(buf)
	if !ok {
		return nil, fmt.Errorf("unsupported data type: %T", buf)
	}
	recStart := append([]int{0}, start[1:]...)
	values := sliceHyperslab(flat, recShape, recStart, count)
	maskAndScale(values, info.Attrs)
	return values, nil
}

func (d *classicDataset) Close() error { return nil }
