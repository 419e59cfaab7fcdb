package fixture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
)

func TestWriteDISP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disp.nc")
	g := Granule{Width: 6, Height: 4, X0: 15, Y0: 35, Res: 10, CRS: UTM11N}
	require.NoError(t, WriteDISP(path, g))

	src, err := store.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	ds, err := granule.NetCDFC{}.Open(context.Background(), src)
	require.NoError(t, err)
	defer func() { _ = ds.Close() }()

	assert.Subset(t, ds.Variables(), []string{"displacement", "temporal_coherence", "layover_shadow_mask", "water_mask", "spatial_ref"})

	disp, err := ds.ReadFloat64s("displacement", []int{0, 0}, []int{4, 6})
	require.NoError(t, err)
	assert.InDelta(t, float64(Displacement(2, 3)), disp[2*6+3], 1e-7)

	water, err := ds.ReadFloat64s("water_mask", []int{0, 0}, []int{1, 6})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 0, 0, 0}, water)

	v, err := ds.Variable("displacement")
	require.NoError(t, err)
	gm, ok := v.Attrs.String("grid_mapping")
	assert.True(t, ok)
	assert.Equal(t, "spatial_ref", gm)
}

func TestWriteInvalidGrid(t *testing.T) {
	err := WriteWaterMask(filepath.Join(t.TempDir(), "w.nc"), Granule{Width: 0, Height: 4, Res: 10})
	assert.Error(t, err)
}
