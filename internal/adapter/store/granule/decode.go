// Package granule decodes NetCDF/HDF5 granules into store.Dataset values
// using several decoder backends tried in a fixed preference order.
package granule

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"go.ngs.io/disp-cog/internal/domain"
)

// resolveSlab fills in defaults for a hyperslab request and validates it.
func resolveSlab(name string, shape, start, count []int) ([]int, []int, error) {
	if start == nil {
		start = make([]int, len(shape))
	}
	if count == nil {
		count = make([]int, len(shape))
		for i := range shape {
			count[i] = shape[i] - start[i]
		}
	}
	if len(start) != len(shape) || len(count) != len(shape) {
		return nil, nil, fmt.Errorf("variable %s has %d dimensions, got start %v count %v", name, len(shape), start, count)
	}
	for i := range shape {
		if start[i] < 0 || count[i] <= 0 || start[i]+count[i] > shape[i] {
			return nil, nil, fmt.Errorf("hyperslab start %v count %v out of range for %s shape %v", start, count, name, shape)
		}
	}
	return start, count, nil
}

// sliceHyperslab extracts [start, start+count) from a row-major array of the given shape.
func sliceHyperslab(data []float64, shape, start, count []int) []float64 {
	n := len(shape)
	total := 1
	for _, c := range count {
		total *= c
	}
	strides := make([]int, n)
	stride := 1
	for d := n - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= shape[d]
	}

	out := make([]float64, 0, total)
	idx := make([]int, n)
	for k := 0; k < total; k++ {
		off := 0
		for d := 0; d < n; d++ {
			off += (start[d] + idx[d]) * strides[d]
		}
		out = append(out, data[off])
		for d := n - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < count[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// maskAndScale decodes packed values the way CF readers do: fill values and
// missing values become NaN, then scale_factor and add_offset are applied.
func maskAndScale(values []float64, attrs domain.Attributes) {
	var fills []float64
	for _, key := range []string{"_FillValue", "missing_value"} {
		if f, ok := attrs.Float64s(key); ok {
			fills = append(fills, f...)
		}
	}
	scale, hasScale := attrs.Float64("scale_factor")
	offset, hasOffset := attrs.Float64("add_offset")

	for i, v := range values {
		for _, f := range fills {
			if v == f || (math.IsNaN(f) && math.IsNaN(v)) {
				v = math.NaN()
				break
			}
		}
		if hasScale && scale != 0 {
			v *= scale
		}
		if hasOffset {
			v += offset
		}
		values[i] = v
	}
}

// attrValue normalizes a decoded attribute into a string, float64 or []float64.
func attrValue(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimRight(t, "\x00"), true
	case []string:
		return strings.Join(t, ""), true
	case []byte:
		return strings.TrimRight(string(t), "\x00"), true
	}
	vals, ok := toFloat64s(v)
	if !ok {
		return nil, false
	}
	if len(vals) == 1 {
		return vals[0], true
	}
	return vals, true
}

// toFloat64s converts any numeric scalar or slice into []float64.
func toFloat64s(v any) ([]float64, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		f, ok := scalarFloat(rv)
		if !ok {
			return nil, false
		}
		return []float64{f}, true
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := scalarFloat(rv.Index(i))
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func scalarFloat(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Interface:
		if rv.IsNil() {
			return 0, false
		}
		return scalarFloat(rv.Elem())
	}
	return 0, false
}

// flattenNested walks nested numeric slices ([][]float32, [][][]int16, ...)
// and returns the row-major values with the nested shape.
func flattenNested(v any) ([]float64, []int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil, fmt.Errorf("nil value")
	}
	var shape []int
	for cur := rv; cur.Kind() == reflect.Slice || cur.Kind() == reflect.Array; {
		shape = append(shape, cur.Len())
		if cur.Len() == 0 {
			break
		}
		cur = cur.Index(0)
		if cur.Kind() == reflect.Interface {
			cur = cur.Elem()
		}
	}

	var out []float64
	var walk func(reflect.Value) error
	walk = func(cur reflect.Value) error {
		if cur.Kind() == reflect.Interface {
			cur = cur.Elem()
		}
		if cur.Kind() == reflect.Slice || cur.Kind() == reflect.Array {
			for i := 0; i < cur.Len(); i++ {
				if err := walk(cur.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		f, ok := scalarFloat(cur)
		if !ok {
			return fmt.Errorf("unsupported element type %s", cur.Type())
		}
		out = append(out, f)
		return nil
	}
	if err := walk(rv); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

func product(vals []int) int {
	n := 1
	for _, v := range vals {
		n *= v
	}
	return n
}
