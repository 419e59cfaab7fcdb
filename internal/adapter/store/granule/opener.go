package granule

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

// DefaultOrder is the backend preference order.
var DefaultOrder = []string{"native", "netcdf-c", "classic"}

// Backends returns the named backends in the given order.
func Backends(names []string) ([]store.Backend, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}
	out := make([]store.Backend, 0, len(names))
	for _, name := range names {
		switch name {
		case "native":
			out = append(out, Native{})
		case "netcdf-c":
			out = append(out, NetCDFC{})
		case "classic":
			out = append(out, Classic{})
		default:
			return nil, fmt.Errorf("unknown decoder backend %q", name)
		}
	}
	return out, nil
}

// Opener tries each backend in order and returns the first dataset that
// passes the probe.
type Opener struct {
	Backends []store.Backend
	Log      logrus.FieldLogger
}

// NewOpener creates an opener over the given backends.
func NewOpener(backends []store.Backend, log logrus.FieldLogger) *Opener {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Opener{Backends: backends, Log: log}
}

// Open returns the dataset and the name of the backend that decoded it.
// When every backend fails the error is a *domain.RemoteAccessError holding
// one cause per backend.
func (o *Opener) Open(ctx context.Context, src store.Source) (store.Dataset, string, error) {
	var causes []error
	for _, b := range o.Backends {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		log := o.Log.WithFields(logrus.Fields{"backend": b.Name(), "source": src.URI()})
		ds, err := safeOpen(ctx, b, src)
		if err == nil {
			err = probe(ds)
			if err != nil {
				_ = ds.Close()
			}
		}
		if err != nil {
			log.WithError(err).Debug("decoder backend rejected source")
			causes = append(causes, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		log.Info("opened granule")
		return ds, b.Name(), nil
	}
	if len(causes) == 0 {
		causes = append(causes, errors.New("no decoder backends configured"))
	}
	return nil, "", &domain.RemoteAccessError{Source: src.URI(), Causes: causes}
}

// safeOpen converts decoder panics on malformed input into errors.
func safeOpen(ctx context.Context, b store.Backend, src store.Source) (ds store.Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			ds, err = nil, fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	return b.Open(ctx, src)
}

// probe checks that the dataset lists variables and exposes its global attributes.
func probe(ds store.Dataset) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	if len(ds.Variables()) == 0 {
		return errors.New("no variables found")
	}
	// Only checks that the backend can read the file metadata.
	_ = ds.GlobalAttrs()
	return nil
}
