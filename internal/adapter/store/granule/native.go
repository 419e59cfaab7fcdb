package granule

import (
	"context"
	"fmt"
	"io"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

// Native decodes NetCDF3 and NetCDF4/HDF5 granules in pure Go straight from
// the source's byte ranges.
type Native struct{}

// Name implements store.Backend.
func (Native) Name() string { return "native" }

// Open implements store.Backend.
func (Native) Open(_ context.Context, src store.Source) (store.Dataset, error) {
	rs := sectionCloser{io.NewSectionReader(src, 0, src.Size())}
	g, err := netcdf.New(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src.URI(), err)
	}
	return &nativeDataset{g: g, cache: map[string]domain.RasterVariable{}}, nil
}

// sectionCloser adapts a ReaderAt into the ReadSeekCloser the decoder wants.
// The underlying source is owned by the caller.
type sectionCloser struct {
	*io.SectionReader
}

func (sectionCloser) Close() error { return nil }

type nativeDataset struct {
	g     api.Group
	cache map[string]domain.RasterVariable
}

func (d *nativeDataset) Variables() []string {
	return d.g.ListVariables()
}

func (d *nativeDataset) Variable(name string) (domain.RasterVariable, error) {
	if info, ok := d.cache[name]; ok {
		return info, nil
	}
	vg, err := d.g.GetVarGetter(name)
	if err != nil {
		return domain.RasterVariable{}, fmt.Errorf("variable %s not found: %w", name, err)
	}
	info := domain.RasterVariable{
		Name:  name,
		Dims:  vg.Dimensions(),
		Attrs: convertAttrs(vg.Attributes()),
		DType: vg.GoType(),
	}
	info.Shape, err = nativeShape(vg)
	if err != nil {
		return domain.RasterVariable{}, fmt.Errorf("failed to get shape of %s: %w", name, err)
	}
	d.cache[name] = info
	return info, nil
}

// nativeShape recovers the full shape from the first record.
// The getter only reports the length of the leading dimension.
func nativeShape(vg api.VarGetter) ([]int, error) {
	ndims := len(vg.Dimensions())
	if ndims == 0 {
		return nil, nil
	}
	shape := []int{int(vg.Len())}
	if ndims == 1 || shape[0] == 0 {
		for len(shape) < ndims {
			shape = append(shape, 0)
		}
		return shape, nil
	}
	first, err := vg.GetSlice(0, 1)
	if err != nil {
		return nil, err
	}
	_, inner, err := flattenNested(first)
	if err != nil {
		return nil, err
	}
	if len(inner) != ndims {
		return nil, fmt.Errorf("decoded %d dimensions, want %d", len(inner), ndims)
	}
	return append(shape, inner[1:]...), nil
}

func (d *nativeDataset) GlobalAttrs() domain.Attributes {
	return convertAttrs(d.g.Attributes())
}

func (d *nativeDataset) ReadFloat64s(name string, start, count []int) ([]float64, error) {
	info, err := d.Variable(name)
	if err != nil {
		return nil, err
	}
	start, count, err = resolveSlab(name, info.Shape, start, count)
	if err != nil {
		return nil, err
	}
	vg, err := d.g.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s not found: %w", name, err)
	}

	// Slicing is only available along the leading dimension; the rest is
	// cropped in memory.
	raw, err := vg.GetSlice(int64(start[0]), int64(start[0]+count[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	flat, _, err := flattenNested(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	recShape := append([]int{count[0]}, info.Shape[1:]...)
	if len(flat) != product(recShape) {
		return nil, fmt.Errorf("variable %s: decoded %d values, want %d", name, len(flat), product(recShape))
	}
	recStart := append([]int{0}, start[1:]...)
	values := sliceHyperslab(flat, recShape, recStart, count)
	maskAndScale(values, info.Attrs)
	return values, nil
}

func (d *nativeDataset) Close() error {
	d.g.Close()
	return nil
}

func convertAttrs(am api.AttributeMap) domain.Attributes {
	attrs := domain.Attributes{}
	if am == nil {
		return attrs
	}
	for _, key := range am.Keys() {
		raw, ok := am.Get(key)
		if !ok {
			continue
		}
		if val, ok := attrValue(raw); ok {
			attrs[key] = val
		}
	}
	return attrs
}
