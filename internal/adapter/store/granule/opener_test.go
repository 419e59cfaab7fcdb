package granule

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

type fakeSource struct{}

func (fakeSource) ReadAt([]byte, int64) (int, error)         { return 0, errors.New("no bytes") }
func (fakeSource) Size() int64                               { return 0 }
func (fakeSource) URI() string                               { return "s3://bucket/granule.nc" }
func (fakeSource) LocalPath(context.Context) (string, error) { return "", errors.New("no path") }

type fakeBackend struct {
	name   string
	ds     store.Dataset
	err    error
	panics bool
	calls  *[]string
}

func (b fakeBackend) Name() string { return b.name }

func (b fakeBackend) Open(context.Context, store.Source) (store.Dataset, error) {
	*b.calls = append(*b.calls, b.name)
	if b.panics {
		panic("corrupt header")
	}
	return b.ds, b.err
}

func TestOpenerUsesFirstBackendPassingProbe(t *testing.T) {
	var calls []string
	empty := NewMemory(nil)
	good := NewMemory(nil)
	require.NoError(t, good.AddVariable("water_mask", []string{"y", "x"}, []int{1, 1}, []float64{1}, nil))

	o := NewOpener([]store.Backend{
		fakeBackend{name: "native", err: errors.New("bad magic"), calls: &calls},
		fakeBackend{name: "netcdf-c", ds: empty, calls: &calls},
		fakeBackend{name: "classic", ds: good, calls: &calls},
		fakeBackend{name: "never", ds: good, calls: &calls},
	}, nil)

	ds, backend, err := o.Open(context.Background(), fakeSource{})
	require.NoError(t, err)
	assert.Equal(t, "classic", backend)
	assert.Same(t, good, ds)
	assert.Equal(t, []string{"native", "netcdf-c", "classic"}, calls)
	assert.True(t, empty.closed, "dataset failing the probe is closed")
}

func TestOpenerAccumulatesCauses(t *testing.T) {
	var calls []string
	errNative := errors.New("unsupported superblock")
	o := NewOpener([]store.Backend{
		fakeBackend{name: "native", err: errNative, calls: &calls},
		fakeBackend{name: "netcdf-c", panics: true, calls: &calls},
		fakeBackend{name: "classic", err: errors.New("not a NetCDF3 file"), calls: &calls},
		fakeBackend{name: "extra", err: errors.New("nope"), calls: &calls},
	}, nil)

	_, _, err := o.Open(context.Background(), fakeSource{})
	require.Error(t, err)

	var rae *domain.RemoteAccessError
	require.ErrorAs(t, err, &rae)
	assert.Len(t, rae.Causes, 4)
	assert.Equal(t, "s3://bucket/granule.nc", rae.Source)
	assert.ErrorIs(t, err, errNative)

	msg := err.Error()
	assert.True(t, strings.Contains(msg, "native: unsupported superblock"), msg)
	assert.True(t, strings.Contains(msg, "netcdf-c: decoder panicked"), msg)
	assert.True(t, strings.Contains(msg, "classic: not a NetCDF3 file"), msg)
	assert.True(t, strings.Contains(msg, "(+1 more)"), msg)
	assert.False(t, strings.Contains(msg, "extra: nope"), msg)
}

func TestOpenerStopsOnCancelledContext(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOpener([]store.Backend{fakeBackend{name: "native", calls: &calls}}, nil)
	_, _, err := o.Open(ctx, fakeSource{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestBackendsByName(t *testing.T) {
	bs, err := Backends([]string{"classic", "native"})
	require.NoError(t, err)
	require.Len(t, bs, 2)
	assert.Equal(t, "classic", bs[0].Name())
	assert.Equal(t, "native", bs[1].Name())

	bs, err = Backends(nil)
	require.NoError(t, err)
	assert.Len(t, bs, 3)

	_, err = Backends([]string{"gdal"})
	assert.Error(t, err)
}
