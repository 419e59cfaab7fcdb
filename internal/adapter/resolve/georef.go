package resolve

import (
	"fmt"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

// RegularityTolerance is the relative spacing tolerance for coordinate axes.
const RegularityTolerance = 1e-3

// Grid is the georeference shared by every layer of a dataset.
type Grid struct {
	Geo     domain.Georeference
	Flipped bool // rows are stored south-up and must be reversed
	Rows    int
	Cols    int
}

// InferGrid reads the coordinate variables of l, checks their regularity and
// derives the transform and CRS.
func InferGrid(ds store.Dataset, l Layout) (Grid, error) {
	y, err := readAxis(ds, "y", l.YDim(), l.Rows())
	if err != nil {
		return Grid{}, err
	}
	x, err := readAxis(ds, "x", l.XDim(), l.Cols())
	if err != nil {
		return Grid{}, err
	}
	if err := domain.CheckRegular("y", y, RegularityTolerance); err != nil {
		return Grid{}, err
	}
	if err := domain.CheckRegular("x", x, RegularityTolerance); err != nil {
		return Grid{}, err
	}
	tr, err := domain.InferTransform(x, y)
	if err != nil {
		return Grid{}, err
	}
	return Grid{
		Geo:     domain.Georeference{CRS: crs.Guess(ds), Transform: tr},
		Flipped: domain.NeedsFlip(y),
		Rows:    len(y),
		Cols:    len(x),
	}, nil
}

// Attach georeferences r with g, reversing its rows when the grid is south-up.
func (g Grid) Attach(r *domain.Raster) error {
	if r.Rows != g.Rows || r.Cols != g.Cols {
		return &domain.AlignmentError{
			Layer:  r.Name,
			Target: "grid",
			Reason: fmt.Sprintf("shape %dx%d does not match grid %dx%d", r.Rows, r.Cols, g.Rows, g.Cols),
		}
	}
	if g.Flipped {
		r.FlipRows()
	}
	r.Geo = g.Geo
	return nil
}

func readAxis(ds store.Dataset, axis, dim string, n int) ([]float64, error) {
	info, err := ds.Variable(dim)
	if err != nil {
		return nil, &domain.InvalidGridError{Axis: axis, Reason: fmt.Sprintf("no coordinate variable %q", dim)}
	}
	if len(info.Shape) != 1 {
		return nil, &domain.InvalidGridError{Axis: axis, Reason: fmt.Sprintf("coordinate variable %q is not 1-D", dim)}
	}
	if info.Shape[0] != n {
		return nil, &domain.InvalidGridError{Axis: axis, Reason: fmt.Sprintf("coordinate variable %q has %d samples, want %d", dim, info.Shape[0], n)}
	}
	vals, err := ds.ReadFloat64s(dim, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinate %s: %w", dim, err)
	}
	return vals, nil
}
