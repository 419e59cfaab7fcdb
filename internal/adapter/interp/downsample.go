package interp

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.ngs.io/disp-cog/internal/domain"
)

// Reduction methods for overview levels, in addition to Nearest and Bilinear.
const (
	Average Method = "average"
	Mode    Method = "mode"
	Min     Method = "min"
	Max     Method = "max"
)

// ParseResampling accepts any overview resampling method.
func ParseResampling(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case Nearest, Bilinear, Average, Mode, Min, Max:
		return m, nil
	}
	return "", fmt.Errorf("unknown resampling method %q (expected nearest, average, bilinear, mode, min or max)", s)
}

// Downsample reduces r by an integer factor. The output has
// ceil(rows/factor) x ceil(cols/factor) cells and a transform whose pixels
// are factor times larger. NaN cells never contribute to a reduced value.
func Downsample(r *domain.Raster, factor int, m Method) (*domain.Raster, error) {
	if factor < 1 {
		return nil, fmt.Errorf("invalid overview factor %d", factor)
	}
	rows := (r.Rows + factor - 1) / factor
	cols := (r.Cols + factor - 1) / factor
	out := domain.NewRaster(r.Name, rows, cols)
	out.Geo = domain.Georeference{CRS: r.Geo.CRS, Transform: r.Geo.Transform.Scale(float64(factor), float64(factor))}

	block := make([]float64, 0, factor*factor)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var v float64
			switch m {
			case Nearest:
				si := clamp(int((float64(i)+0.5)*float64(factor)), 0, r.Rows-1)
				sj := clamp(int((float64(j)+0.5)*float64(factor)), 0, r.Cols-1)
				v = r.At(si, sj)
			case Bilinear:
				v = Sample(r, (float64(j)+0.5)*float64(factor), (float64(i)+0.5)*float64(factor), Bilinear)
				if math.IsNaN(v) {
					// Block centre past the edge of a partial block.
					v = Sample(r, math.Min((float64(j)+0.5)*float64(factor), float64(r.Cols)-0.5),
						math.Min((float64(i)+0.5)*float64(factor), float64(r.Rows)-0.5), Bilinear)
				}
			default:
				block = block[:0]
				for bi := i * factor; bi < (i+1)*factor && bi < r.Rows; bi++ {
					for bj := j * factor; bj < (j+1)*factor && bj < r.Cols; bj++ {
						if x := r.At(bi, bj); !math.IsNaN(x) {
							block = append(block, x)
						}
					}
				}
				var err error
				v, err = reduce(block, m)
				if err != nil {
					return nil, err
				}
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}

func reduce(vals []float64, m Method) (float64, error) {
	if len(vals) == 0 {
		return math.NaN(), nil
	}
	switch m {
	case Average:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals)), nil
	case Min:
		out := vals[0]
		for _, v := range vals[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	case Max:
		out := vals[0]
		for _, v := range vals[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	case Mode:
		// Most frequent value; ties go to the smallest.
		sort.Float64s(vals)
		best, bestN := vals[0], 0
		for i := 0; i < len(vals); {
			k := i
			for k < len(vals) && vals[k] == vals[i] {
				k++
			}
			if k-i > bestN {
				best, bestN = vals[i], k-i
			}
			i = k
		}
		return best, nil
	}
	return 0, fmt.Errorf("unsupported reduction %q", m)
}
