// Package fixture writes small synthetic OPERA DISP-S1 granules for tests
// and local runs.
package fixture

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"
)

// UTM11N is the CRS written by default, as OPERA products carry it.
const UTM11N = `PROJCS["WGS 84 / UTM zone 11N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",-117],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32611"]]`

// Granule describes the grid of a synthetic granule.
type Granule struct {
	Width, Height int
	// X0, Y0 are the centre of the top-left cell.
	X0, Y0 float64
	Res    float64
	CRS    string
	// Time adds a leading time dimension of length one.
	Time bool
}

// Default is a 64x48 granule on a 30 m UTM grid near Los Angeles.
var Default = Granule{Width: 64, Height: 48, X0: 370015, Y0: 3760015, Res: 30, CRS: UTM11N}

// Displacement is the value of cell (row, col): a ramp in metres.
func Displacement(row, col int) float32 {
	return float32(row)*0.001 + float32(col)*0.0005
}

// Coherence is 0.1 on every fifth diagonal and 0.8 elsewhere.
func Coherence(row, col int) float32 {
	if (row+col)%5 == 0 {
		return 0.1
	}
	return 0.8
}

// LayoverShadow flags the last row.
func LayoverShadow(g Granule, row, _ int) int8 {
	if row == g.Height-1 {
		return 1
	}
	return 0
}

// Water marks the left half of the grid.
func Water(g Granule, _, col int) int8 {
	if col < g.Width/2 {
		return 1
	}
	return 0
}

// layer is one (y, x) variable to write.
type layer struct {
	name  string
	typ   netcdf.Type
	attrs map[string]string
	f32   func(row, col int) float32
	i8    func(row, col int) int8
}

// WriteDISP writes a displacement granule with temporal_coherence,
// layover_shadow_mask and water_mask layers.
func WriteDISP(path string, g Granule) error {
	return write(path, g, []layer{
		{name: "displacement", typ: netcdf.FLOAT, attrs: map[string]string{"units": "meters", "long_name": "displacement"}, f32: Displacement},
		{name: "temporal_coherence", typ: netcdf.FLOAT, f32: Coherence},
		{name: "layover_shadow_mask", typ: netcdf.BYTE, i8: func(r, c int) int8 { return LayoverShadow(g, r, c) }},
		{name: "water_mask", typ: netcdf.BYTE, i8: func(r, c int) int8 { return Water(g, r, c) }},
	})
}

// WriteWaterMask writes a granule holding only water_mask.
func WriteWaterMask(path string, g Granule) error {
	return write(path, g, []layer{
		{name: "water_mask", typ: netcdf.BYTE, i8: func(r, c int) int8 { return Water(g, r, c) }},
	})
}

func write(path string, g Granule, layers []layer) (err error) {
	if g.Width <= 0 || g.Height <= 0 || g.Res <= 0 {
		return fmt.Errorf("invalid fixture grid %dx%d at %g m", g.Width, g.Height, g.Res)
	}
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	var dims []netcdf.Dim
	if g.Time {
		t, err := f.AddDim("time", 1)
		if err != nil {
			return err
		}
		dims = append(dims, t)
	}
	//nolint:gosec // G115: fixture sizes are small and positive.
	yDim, err := f.AddDim("y", uint64(g.Height))
	if err != nil {
		return err
	}
	//nolint:gosec // G115: fixture sizes are small and positive.
	xDim, err := f.AddDim("x", uint64(g.Width))
	if err != nil {
		return err
	}
	dims = append(dims, yDim, xDim)

	vy, err := f.AddVar("y", netcdf.DOUBLE, []netcdf.Dim{yDim})
	if err != nil {
		return err
	}
	vx, err := f.AddVar("x", netcdf.DOUBLE, []netcdf.Dim{xDim})
	if err != nil {
		return err
	}
	ref, err := f.AddVar("spatial_ref", netcdf.INT, []netcdf.Dim{})
	if err != nil {
		return err
	}
	if g.CRS != "" {
		if err := ref.Attr("crs_wkt").WriteBytes([]byte(g.CRS)); err != nil {
			return err
		}
	}
	if err := f.Attr("product_type").WriteBytes([]byte("DISP_S1_FORWARD")); err != nil {
		return err
	}

	vars := make([]netcdf.Var, len(layers))
	for i, l := range layers {
		v, err := f.AddVar(l.name, l.typ, dims)
		if err != nil {
			return fmt.Errorf("failed to define %s: %w", l.name, err)
		}
		if err := v.Attr("grid_mapping").WriteBytes([]byte("spatial_ref")); err != nil {
			return err
		}
		for k, val := range l.attrs {
			if err := v.Attr(k).WriteBytes([]byte(val)); err != nil {
				return err
			}
		}
		vars[i] = v
	}
	if err := f.EndDef(); err != nil {
		return err
	}

	ys := make([]float64, g.Height)
	for i := range ys {
		ys[i] = g.Y0 - float64(i)*g.Res
	}
	xs := make([]float64, g.Width)
	for i := range xs {
		xs[i] = g.X0 + float64(i)*g.Res
	}
	if err := vy.WriteFloat64s(ys); err != nil {
		return err
	}
	if err := vx.WriteFloat64s(xs); err != nil {
		return err
	}
	if err := ref.WriteInt32s([]int32{0}); err != nil {
		return err
	}

	n := g.Width * g.Height
	for i, l := range layers {
		switch {
		case l.f32 != nil:
			buf := make([]float32, n)
			for j := range buf {
				buf[j] = l.f32(j/g.Width, j%g.Width)
			}
			err = vars[i].WriteFloat32s(buf)
		default:
			buf := make([]int8, n)
			for j := range buf {
				buf[j] = l.i8(j/g.Width, j%g.Width)
			}
			err = vars[i].WriteInt8s(buf)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", l.name, err)
		}
	}
	return nil
}
