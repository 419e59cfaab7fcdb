package granule

import (
	"context"
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

// NetCDFC decodes granules through libnetcdf (cgo).
// libnetcdf only opens paths, so remote sources are staged to disk first.
type NetCDFC struct{}

// Name implements store.Backend.
func (NetCDFC) Name() string { return "netcdf-c" }

// Open implements store.Backend.
func (NetCDFC) Open(ctx context.Context, src store.Source) (store.Dataset, error) {
	path, err := src.LocalPath(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", src.URI(), err)
	}
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	ds := &netcdfDataset{nc: nc, vars: map[string]netcdf.Var{}}
	if err := ds.index(); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return ds, nil
}

type netcdfDataset struct {
	nc    netcdf.Dataset
	names []string
	vars  map[string]netcdf.Var
}

func (d *netcdfDataset) index() error {
	n, err := d.nc.NVars()
	if err != nil {
		return fmt.Errorf("failed to count variables: %w", err)
	}
	for i := 0; i < n; i++ {
		v := d.nc.VarN(i)
		name, err := v.Name()
		if err != nil {
			return fmt.Errorf("failed to get variable %d name: %w", i, err)
		}
		d.names = append(d.names, name)
		d.vars[name] = v
	}
	return nil
}

func (d *netcdfDataset) Variables() []string {
	return append([]string(nil), d.names...)
}

func (d *netcdfDataset) Variable(name string) (domain.RasterVariable, error) {
	v, ok := d.vars[name]
	if !ok {
		return domain.RasterVariable{}, fmt.Errorf("variable %s not found", name)
	}
	dims, err := v.Dims()
	if err != nil {
		return domain.RasterVariable{}, fmt.Errorf("failed to get dimensions: %w", err)
	}
	info := domain.RasterVariable{Name: name, Attrs: domain.Attributes{}}
	for _, dim := range dims {
		dimName, err := dim.Name()
		if err != nil {
			return domain.RasterVariable{}, fmt.Errorf("failed to get dimension name: %w", err)
		}
		length, err := dim.Len()
		if err != nil {
			return domain.RasterVariable{}, fmt.Errorf("failed to get dimension length: %w", err)
		}
		info.Dims = append(info.Dims, dimName)
		//nolint:gosec // G115: dimension lengths fit in int.
		info.Shape = append(info.Shape, int(length))
	}
	varType, err := v.Type()
	if err != nil {
		return domain.RasterVariable{}, fmt.Errorf("failed to get variable type: %w", err)
	}
	info.DType = varType.String()

	nAttrs, err := v.NAttrs()
	if err != nil {
		return domain.RasterVariable{}, fmt.Errorf("failed to count attributes: %w", err)
	}
	for i := 0; i < nAttrs; i++ {
		a, err := v.AttrN(i)
		if err != nil {
			continue
		}
		if val, ok := readAttr(a); ok {
			info.Attrs[a.Name()] = val
		}
	}
	return info, nil
}

func (d *netcdfDataset) GlobalAttrs() domain.Attributes {
	attrs := domain.Attributes{}
	n, err := d.nc.NAttrs()
	if err != nil {
		return attrs
	}
	for i := 0; i < n; i++ {
		a, err := d.nc.AttrN(i)
		if err != nil {
			continue
		}
		if val, ok := readAttr(a); ok {
			attrs[a.Name()] = val
		}
	}
	return attrs
}

func (d *netcdfDataset) ReadFloat64s(name string, start, count []int) ([]float64, error) {
	info, err := d.Variable(name)
	if err != nil {
		return nil, err
	}
	start, count, err = resolveSlab(name, info.Shape, start, count)
	if err != nil {
		return nil, err
	}
	values, err := readHyperslab(d.vars[name], start, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	maskAndScale(values, info.Attrs)
	return values, nil
}

func (d *netcdfDataset) Close() error {
	return d.nc.Close()
}

// readHyperslab reads [start, start+count) from a NetCDF variable as float64.
// Supports every numeric NetCDF type.
//
//nolint:gocyclo // One branch per NetCDF type.
func readHyperslab(v netcdf.Var, start, count []int) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}

	total := product(count)
	st := make([]uint64, len(start))
	ct := make([]uint64, len(count))
	for i := range start {
		//nolint:gosec // G115: Safe int to uint64 conversion for NetCDF indices.
		st[i] = uint64(start[i])
		//nolint:gosec // G115: Safe int to uint64 conversion for NetCDF dimensions.
		ct[i] = uint64(count[i])
	}

	out := make([]float64, total)
	switch varType {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(out, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read float64 subset: %w", err)
		}
	case netcdf.FLOAT:
		buf := make([]float32, total)
		if err := v.ReadFloat32Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read float32 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.INT:
		buf := make([]int32, total)
		if err := v.ReadInt32Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read int32 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		buf := make([]int16, total)
		if err := v.ReadInt16Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read int16 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.BYTE:
		buf := make([]int8, total)
		if err := v.ReadInt8Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read int8 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.UBYTE:
		buf := make([]uint8, total)
		if err := v.ReadUint8Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read uint8 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.USHORT:
		buf := make([]uint16, total)
		if err := v.ReadUint16Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read uint16 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.UINT:
		buf := make([]uint32, total)
		if err := v.ReadUint32Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read uint32 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.INT64:
		buf := make([]int64, total)
		if err := v.ReadInt64Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read int64 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.UINT64:
		buf := make([]uint64, total)
		if err := v.ReadUint64Slice(buf, st, ct); err != nil {
			return nil, fmt.Errorf("failed to read uint64 subset: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.CHAR, netcdf.STRING:
		return nil, fmt.Errorf("unsupported data type: %v (expected a numeric type)", varType)
	}
	return out, nil
}

// readAttr decodes a NetCDF attribute into a string, float64 or []float64.
func readAttr(a netcdf.Attr) (any, bool) {
	attrType, err := a.Type()
	if err != nil {
		return nil, false
	}
	n, err := a.Len()
	if err != nil || n == 0 {
		return nil, false
	}

	var raw any
	switch attrType {
	case netcdf.CHAR:
		buf := make([]byte, n)
		if err := a.ReadBytes(buf); err != nil {
			return nil, false
		}
		return attrValue(string(buf))
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		err = a.ReadFloat64s(buf)
		raw = buf
	case netcdf.FLOAT:
		buf := make([]float32, n)
		err = a.ReadFloat32s(buf)
		raw = buf
	case netcdf.INT:
		buf := make([]int32, n)
		err = a.ReadInt32s(buf)
		raw = buf
	case netcdf.SHORT:
		buf := make([]int16, n)
		err = a.ReadInt16s(buf)
		raw = buf
	case netcdf.BYTE:
		buf := make([]int8, n)
		err = a.ReadInt8s(buf)
		raw = buf
	case netcdf.UBYTE:
		buf := make([]uint8, n)
		err = a.ReadUint8s(buf)
		// Widen so attrValue does not mistake the bytes for text.
		wide := make([]uint16, n)
		for i, b := range buf {
			wide[i] = uint16(b)
		}
		raw = wide
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return attrValue(raw)
}
