package resolve

import (
	"fmt"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

var (
	yDimNames    = []string{"y", "lat", "latitude", "northing"}
	xDimNames    = []string{"x", "lon", "longitude", "easting"}
	timeDimNames = []string{"time", "t", "epoch"}
)

// Layout locates the spatial axes of a variable. Every other axis is read
// at index 0.
type Layout struct {
	Variable string
	Dims     []string
	Shape    []int
	YAxis    int
	XAxis    int
	TimeAxis int // -1 when absent
}

// YDim returns the name of the y dimension.
func (l Layout) YDim() string { return l.Dims[l.YAxis] }

// XDim returns the name of the x dimension.
func (l Layout) XDim() string { return l.Dims[l.XAxis] }

// Rows is the length of the y axis.
func (l Layout) Rows() int { return l.Shape[l.YAxis] }

// Cols is the length of the x axis.
func (l Layout) Cols() int { return l.Shape[l.XAxis] }

// Transposed reports whether x is stored before y.
func (l Layout) Transposed() bool { return l.XAxis < l.YAxis }

// Epochs is the length of the time axis, 1 when there is none.
func (l Layout) Epochs() int {
	if l.TimeAxis < 0 {
		return 1
	}
	return l.Shape[l.TimeAxis]
}

// NewLayout classifies the dimensions of info. Dimensions with unknown names
// are recognised through their coordinate variable's units.
func NewLayout(info domain.RasterVariable, ds store.Dataset) (Layout, error) {
	l := Layout{Variable: info.Name, Dims: info.Dims, Shape: info.Shape, YAxis: -1, XAxis: -1, TimeAxis: -1}
	unsupported := func(reason string) error {
		return &domain.UnsupportedLayoutError{Variable: info.Name, Dims: info.Dims, Reason: reason}
	}
	if len(info.Dims) != len(info.Shape) {
		return l, unsupported("dimension names and shape disagree")
	}

	for i, dim := range info.Dims {
		kind := classify(dim, ds)
		switch kind {
		case "y":
			if l.YAxis >= 0 {
				return l, unsupported("more than one y dimension")
			}
			l.YAxis = i
		case "x":
			if l.XAxis >= 0 {
				return l, unsupported("more than one x dimension")
			}
			l.XAxis = i
		case "time":
			if l.TimeAxis >= 0 {
				return l, unsupported("more than one time dimension")
			}
			l.TimeAxis = i
		case "band":
			if info.Shape[i] != 1 || i != len(info.Dims)-1 {
				return l, unsupported(fmt.Sprintf("band dimension of length %d", info.Shape[i]))
			}
		default:
			return l, unsupported(fmt.Sprintf("unrecognised dimension %q", dim))
		}
	}
	if l.YAxis < 0 || l.XAxis < 0 {
		return l, unsupported("missing y or x dimension")
	}
	return l, nil
}

func classify(dim string, ds store.Dataset) string {
	lower := strings.ToLower(dim)
	switch {
	case contains(yDimNames, lower):
		return "y"
	case contains(xDimNames, lower):
		return "x"
	case contains(timeDimNames, lower):
		return "time"
	case lower == "band":
		return "band"
	}
	if ds == nil {
		return ""
	}
	coord, err := ds.Variable(dim)
	if err != nil {
		return ""
	}
	units, _ := coord.Attrs.String("units")
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "degrees_north", "degree_north":
		return "y"
	case "degrees_east", "degree_east":
		return "x"
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Load reads the first epoch of the variable as a (y, x) raster.
// The raster is not georeferenced yet.
func Load(ds store.Dataset, l Layout) (*domain.Raster, error) {
	start := make([]int, len(l.Shape))
	count := make([]int, len(l.Shape))
	for i := range count {
		count[i] = 1
	}
	count[l.YAxis] = l.Rows()
	count[l.XAxis] = l.Cols()

	values, err := ds.ReadFloat64s(l.Variable, start, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.Variable, err)
	}
	if l.Transposed() {
		values = transpose(values, l.Cols(), l.Rows())
	}

	info, err := ds.Variable(l.Variable)
	if err != nil {
		return nil, err
	}
	r := domain.NewRaster(l.Variable, l.Rows(), l.Cols())
	r.Data = values
	for k, v := range info.Attrs {
		r.Attrs[k] = v
	}
	return r, nil
}

// transpose swaps the axes of a row-major rows x cols array.
func transpose(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out
}
