package interp

import (
	"math"
	"testing"

	"go.ngs.io/disp-cog/internal/domain"
)

// TestBilinearInterpolate_CenterPoint tests interpolation at the center of a grid cell
func TestBilinearInterpolate_CenterPoint(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 2.0,
		Y0: 0.0, Y1: 2.0,
		V00: 1.0, V10: 3.0,
		V01: 5.0, V11: 7.0,
	}

	// At center (1.0, 1.0), t=0.5, u=0.5
	// Result = 0.5*0.5*1 + 0.5*0.5*3 + 0.5*0.5*5 + 0.5*0.5*7
	//        = 0.25 * (1 + 3 + 5 + 7) = 0.25 * 16 = 4.0
	result, err := BilinearInterpolate(cell, 1.0, 1.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := 4.0
	if math.Abs(result-expected) > 1e-9 {
		t.Errorf("Center point: expected %.10f, got %.10f", expected, result)
	}
}

// TestBilinearInterpolate_CornerPoints tests that corners return exact values
func TestBilinearInterpolate_CornerPoints(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 10.0,
		Y0: 0.0, Y1: 10.0,
		V00: 1.0, V10: 2.0,
		V01: 3.0, V11: 4.0,
	}

	tests := []struct {
		x, y     float64
		expected float64
		name     string
	}{
		{0.0, 0.0, 1.0, "bottom-left"},
		{10.0, 0.0, 2.0, "bottom-right"},
		{0.0, 10.0, 3.0, "top-left"},
		{10.0, 10.0, 4.0, "top-right"},
	}

	for _, tt := range tests {
		result, err := BilinearInterpolate(cell, tt.x, tt.y)
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", tt.name, err)
		}

		if math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("%s corner: expected %.10f, got %.10f", tt.name, tt.expected, result)
		}
	}
}

// TestBilinearInterpolate_LinearCase tests a perfectly linear case
func TestBilinearInterpolate_LinearCase(t *testing.T) {
	// Create a grid where values increase linearly in x
	// V = x (independent of y)
	cell := GridCell{
		X0: 0.0, X1: 10.0,
		Y0: 0.0, Y1: 10.0,
		V00: 0.0, V10: 10.0,
		V01: 0.0, V11: 10.0,
	}

	// Test at x=5, should get value 5.0 regardless of y
	tests := []struct {
		x, y     float64
		expected float64
	}{
		{5.0, 0.0, 5.0},
		{5.0, 5.0, 5.0},
		{5.0, 10.0, 5.0},
		{2.5, 7.0, 2.5},
	}

	for _, tt := range tests {
		result, err := BilinearInterpolate(cell, tt.x, tt.y)
		if err != nil {
			t.Fatalf("Unexpected error at (%.1f, %.1f): %v", tt.x, tt.y, err)
		}

		if math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("At (%.1f, %.1f): expected %.10f, got %.10f", tt.x, tt.y, tt.expected, result)
		}
	}
}

// TestBilinearInterpolate_OutOfBounds tests error handling for out-of-bounds points
func TestBilinearInterpolate_OutOfBounds(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 10.0,
		Y0: 0.0, Y1: 10.0,
		V00: 1.0, V10: 2.0,
		V01: 3.0, V11: 4.0,
	}

	tests := []struct {
		x, y float64
		name string
	}{
		{-1.0, 5.0, "x too small"},
		{11.0, 5.0, "x too large"},
		{5.0, -1.0, "y too small"},
		{5.0, 11.0, "y too large"},
	}

	for _, tt := range tests {
		_, err := BilinearInterpolate(cell, tt.x, tt.y)
		if err == nil {
			t.Errorf("%s: expected error for point (%.1f, %.1f), got nil", tt.name, tt.x, tt.y)
		}
	}
}


// TestBilinearInterpolate_SkipsNaNCorners tests that invalid corners are left out
func TestBilinearInterpolate_SkipsNaNCorners(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 1.0,
		Y0: 0.0, Y1: 1.0,
		V00: 2.0, V10: math.NaN(),
		V01: 4.0, V11: math.NaN(),
	}

	result, err := BilinearInterpolate(cell, 0.5, 0.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(result-3.0) > 1e-9 {
		t.Errorf("expected 3.0 from the valid corners, got %.10f", result)
	}

	cell.V00, cell.V01 = math.NaN(), math.NaN()
	result, err = BilinearInterpolate(cell, 0.5, 0.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !math.IsNaN(result) {
		t.Errorf("expected NaN when every corner is NaN, got %.10f", result)
	}
}

func rampRaster() *domain.Raster {
	// 3x4 raster whose value is 10*row + col.
	r := domain.NewRaster("ramp", 3, 4)
	for i := 0; i < r.Rows; i++ {
		for j := 0; j < r.Cols; j++ {
			r.Set(i, j, float64(10*i+j))
		}
	}
	r.Geo = domain.Georeference{CRS: "EPSG:32611", Transform: domain.Affine{A: 30, C: 500000, E: -30, F: 4000000}}
	return r
}

// TestSample tests nearest and bilinear sampling at fractional pixel positions
func TestSample(t *testing.T) {
	r := rampRaster()

	tests := []struct {
		name     string
		col, row float64
		method   Method
		expected float64
	}{
		{"nearest inside pixel", 1.9, 2.1, Nearest, 21},
		{"bilinear at pixel centre", 1.5, 1.5, Bilinear, 11},
		{"bilinear between centres", 2.0, 1.0, Bilinear, 6.5},
		{"bilinear clamps at edge", 0.1, 0.1, Bilinear, 0},
	}
	for _, tt := range tests {
		got := Sample(r, tt.col, tt.row, tt.method)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("%s: expected %.4f, got %.4f", tt.name, tt.expected, got)
		}
	}

	for _, pos := range [][2]float64{{-0.1, 1}, {4, 1}, {1, 3}} {
		if v := Sample(r, pos[0], pos[1], Nearest); !math.IsNaN(v) {
			t.Errorf("Sample(%v) outside raster: expected NaN, got %v", pos, v)
		}
	}
}

// TestResample tests resampling onto a shifted target grid
func TestResample(t *testing.T) {
	src := rampRaster()
	target := domain.NewRaster("target", 2, 2)
	// One source pixel to the right and one down.
	target.Geo = domain.Georeference{CRS: "EPSG:32611", Transform: domain.Affine{A: 30, C: 500030, E: -30, F: 3999970}}

	identity := func(x, y float64) (float64, float64, error) { return x, y, nil }
	out, err := Resample(src, target, identity, Nearest)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	expected := []float64{11, 12, 21, 22}
	for i, v := range expected {
		if out.Data[i] != v {
			t.Errorf("cell %d: expected %v, got %v", i, v, out.Data[i])
		}
	}
	if out.Geo != target.Geo {
		t.Errorf("expected target georeference, got %+v", out.Geo)
	}
}

// TestDownsample tests overview reductions, including partial edge blocks
func TestDownsample(t *testing.T) {
	r := rampRaster()
	r.Set(0, 0, math.NaN())

	tests := []struct {
		method   Method
		expected []float64
	}{
		{Average, []float64{(1 + 10 + 11) / 3.0, (2 + 3 + 12 + 13) / 4.0, 20.5, 22.5}},
		{Min, []float64{1, 2, 20, 22}},
		{Max, []float64{11, 13, 21, 23}},
		{Nearest, []float64{11, 13, 21, 23}},
	}
	for _, tt := range tests {
		out, err := Downsample(r, 2, tt.method)
		if err != nil {
			t.Fatalf("%s: %v", tt.method, err)
		}
		if out.Rows != 2 || out.Cols != 2 {
			t.Fatalf("%s: expected 2x2, got %dx%d", tt.method, out.Rows, out.Cols)
		}
		for i, v := range tt.expected {
			if math.Abs(out.Data[i]-v) > 1e-9 {
				t.Errorf("%s cell %d: expected %v, got %v", tt.method, i, v, out.Data[i])
			}
		}
		if out.Geo.Transform.A != 60 || out.Geo.Transform.E != -60 {
			t.Errorf("%s: expected 60 m pixels, got %v", tt.method, out.Geo.Transform)
		}
	}
}

// TestDownsample_Mode tests that mode picks the most frequent valid value
func TestDownsample_Mode(t *testing.T) {
	r := domain.NewRaster("classes", 2, 2)
	copy(r.Data, []float64{1, 2, 2, math.NaN()})
	out, err := Downsample(r, 2, Mode)
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}
	if out.Data[0] != 2 {
		t.Errorf("expected mode 2, got %v", out.Data[0])
	}
}

// TestParseResampling tests method parsing
func TestParseResampling(t *testing.T) {
	for _, s := range []string{"nearest", "AVERAGE", " bilinear ", "mode", "min", "max"} {
		if _, err := ParseResampling(s); err != nil {
			t.Errorf("ParseResampling(%q): unexpected error %v", s, err)
		}
	}
	if _, err := ParseResampling("cubic"); err == nil {
		t.Error("ParseResampling(cubic): expected error")
	}
	if m, err := ParseMethod(""); err != nil || m != Nearest {
		t.Errorf("ParseMethod(\"\"): expected nearest, got %q, %v", m, err)
	}
	if _, err := ParseMethod("average"); err == nil {
		t.Error("ParseMethod(average): expected error")
	}
}
