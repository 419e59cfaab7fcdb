// Package store defines how opened granules are accessed by the pipeline.
package store

import (
	"context"
	"io"

	"go.ngs.io/disp-cog/internal/domain"
)

// Dataset is an opened multi-variable granule.
type Dataset interface {
	// Variables lists variable names in declaration order.
	Variables() []string

	// Variable returns the dimensions, shape, type and attributes of a variable.
	Variable(name string) (domain.RasterVariable, error)

	// GlobalAttrs returns the dataset-level attributes.
	GlobalAttrs() domain.Attributes

	// ReadFloat64s reads the hyperslab [start, start+count) in row-major order.
	// Nil start and count select the whole variable.
	// Fill values decode to NaN; scale_factor and add_offset are applied.
	ReadFloat64s(name string, start, count []int) ([]float64, error)

	// Close releases the underlying handle.
	Close() error
}

// Source is a random-access byte stream that a decoder backend can open.
type Source interface {
	io.ReaderAt

	// Size is the total length in bytes.
	Size() int64

	// URI identifies the source in logs and errors.
	URI() string

	// LocalPath returns a filesystem path holding the same bytes, staging
	// remote objects on first use.
	LocalPath(ctx context.Context) (string, error)
}

// Backend decodes a Source into a Dataset.
type Backend interface {
	Name() string
	Open(ctx context.Context, src Source) (Dataset, error)
}
