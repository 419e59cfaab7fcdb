package resolve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
	"go.ngs.io/disp-cog/internal/domain"
)

func addVar(t *testing.T, m *granule.Memory, name string, dims []string, shape []int, attrs domain.Attributes) {
	t.Helper()
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	require.NoError(t, m.AddVariable(name, dims, shape, data, attrs))
}

func TestResolveDisplacementRules(t *testing.T) {
	m := granule.NewMemory(nil)
	addVar(t, m, "y", []string{"y"}, []int{2}, nil)
	addVar(t, m, "x", []string{"x"}, []int{2}, nil)
	addVar(t, m, "spatial_ref", nil, nil, nil)
	addVar(t, m, "short_wavelength_displacement", []string{"y", "x"}, []int{2, 2}, nil)
	addVar(t, m, "displacement_uncertainty", []string{"y", "x"}, []int{2, 2}, nil)
	addVar(t, m, "displacement", []string{"y", "x"}, []int{2, 2}, nil)
	addVar(t, m, "estimated_phase_quality", []string{"y", "x"}, []int{2, 2}, nil)
	addVar(t, m, "temporal_coherence", []string{"y", "x"}, []int{2, 2}, nil)
	addVar(t, m, "persistent_scatterer_mask", []string{"y", "x"}, []int{2, 2}, nil)

	res, err := New(DisplacementRules).Resolve(m)
	require.NoError(t, err)

	// Exact names win over earlier substring matches.
	assert.Equal(t, "displacement", res.Vars[domain.RolePrimary])
	assert.Equal(t, "temporal_coherence", res.Vars[domain.RoleQuality])
	assert.Equal(t, "displacement_uncertainty", res.Vars[domain.RoleUncertainty])
	_, ok := res.Name(domain.RoleValidity)
	assert.False(t, ok, "no layover/shadow layer present")
	assert.NotContains(t, res.Candidates, "y")
	assert.NotContains(t, res.Candidates, "spatial_ref")
}

func TestResolveSubstringFallback(t *testing.T) {
	m := granule.NewMemory(nil)
	addVar(t, m, "Disp_LOS", []string{"y", "x"}, []int{1, 1}, nil)
	addVar(t, m, "disp_uncertainty", []string{"y", "x"}, []int{1, 1}, nil)
	addVar(t, m, "Coherence_Avg", []string{"y", "x"}, []int{1, 1}, nil)
	addVar(t, m, "layover_shadow_flag_mask", []string{"y", "x"}, []int{1, 1}, nil)

	res, err := New(DisplacementRules).Resolve(m)
	require.NoError(t, err)
	assert.Equal(t, "Disp_LOS", res.Vars[domain.RolePrimary])
	assert.Equal(t, "Coherence_Avg", res.Vars[domain.RoleQuality])
	assert.Equal(t, "disp_uncertainty", res.Vars[domain.RoleUncertainty])
	assert.Equal(t, "layover_shadow_flag_mask", res.Vars[domain.RoleValidity])
}

func TestResolveFirstMatchInDeclarationOrder(t *testing.T) {
	m := granule.NewMemory(nil)
	addVar(t, m, "water_body", []string{"y", "x"}, []int{1, 1}, nil)
	addVar(t, m, "water_extent", []string{"y", "x"}, []int{1, 1}, nil)

	res, err := New(WaterMaskRules).Resolve(m)
	require.NoError(t, err)
	assert.Equal(t, "water_body", res.Vars[domain.RolePrimary])
}

func TestResolveMissingPrimary(t *testing.T) {
	m := granule.NewMemory(nil)
	addVar(t, m, "temporal_coherence", []string{"y", "x"}, []int{1, 1}, nil)

	_, err := New(DisplacementRules).Resolve(m)
	var mpe *domain.MissingPrimaryVariableError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, []string{"temporal_coherence"}, mpe.Candidates)
}

func TestNewLayout(t *testing.T) {
	m := granule.NewMemory(nil)
	addVar(t, m, "rows", []string{"rows"}, []int{3}, domain.Attributes{"units": "degrees_north"})
	addVar(t, m, "cols", []string{"cols"}, []int{2}, domain.Attributes{"units": "degree_east"})

	tests := []struct {
		name    string
		info    domain.RasterVariable
		wantErr bool
		y, x, t int
	}{
		{"y x", domain.RasterVariable{Name: "v", Dims: []string{"y", "x"}, Shape: []int{3, 2}}, false, 0, 1, -1},
		{"time lat lon", domain.RasterVariable{Name: "v", Dims: []string{"time", "lat", "lon"}, Shape: []int{4, 3, 2}}, false, 1, 2, 0},
		{"x y", domain.RasterVariable{Name: "v", Dims: []string{"x", "y"}, Shape: []int{2, 3}}, false, 1, 0, -1},
		{"trailing band", domain.RasterVariable{Name: "v", Dims: []string{"y", "x", "band"}, Shape: []int{3, 2, 1}}, false, 0, 1, -1},
		{"units fallback", domain.RasterVariable{Name: "v", Dims: []string{"rows", "cols"}, Shape: []int{3, 2}}, false, 0, 1, -1},
		{"multi band", domain.RasterVariable{Name: "v", Dims: []string{"y", "x", "band"}, Shape: []int{3, 2, 3}}, true, 0, 0, 0},
		{"unknown dim", domain.RasterVariable{Name: "v", Dims: []string{"level", "y", "x"}, Shape: []int{2, 3, 2}}, true, 0, 0, 0},
		{"missing x", domain.RasterVariable{Name: "v", Dims: []string{"time", "y"}, Shape: []int{2, 3}}, true, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLayout(tt.info, m)
			if tt.wantErr {
				var ule *domain.UnsupportedLayoutError
				require.ErrorAs(t, err, &ule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.y, l.YAxis)
			assert.Equal(t, tt.x, l.XAxis)
			assert.Equal(t, tt.t, l.TimeAxis)
		})
	}
}

func TestLoadFirstEpoch(t *testing.T) {
	m := granule.NewMemory(nil)
	// time=2, y=2, x=3; epoch 1 is offset by 100.
	data := []float64{
		0, 1, 2,
		3, 4, 5,
		100, 101, 102,
		103, 104, 105,
	}
	require.NoError(t, m.AddVariable("displacement", []string{"time", "y", "x"}, []int{2, 2, 3}, data, nil))
	info, err := m.Variable("displacement")
	require.NoError(t, err)
	l, err := NewLayout(info, m)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Epochs())

	r, err := Load(m, l)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rows)
	assert.Equal(t, 3, r.Cols)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, r.Data)
}

func TestLoadTransposesXY(t *testing.T) {
	m := granule.NewMemory(nil)
	// Stored as (x=3, y=2).
	require.NoError(t, m.AddVariable("v", []string{"x", "y"}, []int{3, 2}, []float64{
		0, 10,
		1, 11,
		2, 12,
	}, nil))
	info, err := m.Variable("v")
	require.NoError(t, err)
	l, err := NewLayout(info, m)
	require.NoError(t, err)
	r, err := Load(m, l)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rows)
	assert.Equal(t, 3, r.Cols)
	assert.Equal(t, []float64{0, 1, 2, 10, 11, 12}, r.Data)
}

func TestInferGridAndAttach(t *testing.T) {
	m := granule.NewMemory(domain.Attributes{})
	// South-up storage: y increases with the row index.
	require.NoError(t, m.AddVariable("y", []string{"y"}, []int{3}, []float64{8, 9, 10}, nil))
	require.NoError(t, m.AddVariable("x", []string{"x"}, []int{2}, []float64{0, 1}, nil))
	require.NoError(t, m.AddVariable("spatial_ref", nil, nil, []float64{0}, domain.Attributes{"crs_wkt": "EPSG:32611"}))
	require.NoError(t, m.AddVariable("v", []string{"y", "x"}, []int{3, 2}, []float64{1, 1, 2, 2, 3, 3},
		domain.Attributes{"grid_mapping": "spatial_ref"}))

	info, err := m.Variable("v")
	require.NoError(t, err)
	l, err := NewLayout(info, m)
	require.NoError(t, err)
	g, err := InferGrid(m, l)
	require.NoError(t, err)
	assert.True(t, g.Flipped)
	assert.Equal(t, "EPSG:32611", g.Geo.CRS)
	assert.Equal(t, domain.Affine{A: 1, C: -0.5, E: -1, F: 10.5}, g.Geo.Transform)

	r, err := Load(m, l)
	require.NoError(t, err)
	require.NoError(t, g.Attach(r))
	assert.Equal(t, []float64{3, 3, 2, 2, 1, 1}, r.Data, "northernmost row first")
	assert.True(t, r.Geo.Transform.NorthUp())

	wrong := domain.NewRaster("other", 2, 2)
	var ae *domain.AlignmentError
	assert.ErrorAs(t, g.Attach(wrong), &ae)
}

func TestInferGridRejectsIrregularAxis(t *testing.T) {
	m := granule.NewMemory(nil)
	require.NoError(t, m.AddVariable("y", []string{"y"}, []int{3}, []float64{10, 9, 7}, nil))
	require.NoError(t, m.AddVariable("x", []string{"x"}, []int{2}, []float64{0, 1}, nil))
	require.NoError(t, m.AddVariable("v", []string{"y", "x"}, []int{3, 2}, make([]float64, 6), nil))
	info, err := m.Variable("v")
	require.NoError(t, err)
	l, err := NewLayout(info, m)
	require.NoError(t, err)

	_, err = InferGrid(m, l)
	var ige *domain.InvalidGridError
	require.ErrorAs(t, err, &ige)
	assert.Equal(t, "y", ige.Axis)
}

func TestInferGridDefaultsToWGS84(t *testing.T) {
	m := granule.NewMemory(nil)
	require.NoError(t, m.AddVariable("lat", []string{"lat"}, []int{2}, []float64{1, 0}, nil))
	require.NoError(t, m.AddVariable("lon", []string{"lon"}, []int{2}, []float64{0, 1}, nil))
	require.NoError(t, m.AddVariable("v", []string{"lat", "lon"}, []int{2, 2}, []float64{1, 2, 3, math.NaN()}, nil))
	info, err := m.Variable("v")
	require.NoError(t, err)
	l, err := NewLayout(info, m)
	require.NoError(t, err)
	g, err := InferGrid(m, l)
	require.NoError(t, err)
	assert.Equal(t, crs.WGS84, g.Geo.CRS)
	assert.False(t, g.Flipped)
}
