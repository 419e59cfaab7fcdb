package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoOverlap is returned when an area of interest selects no pixels.
var ErrNoOverlap = errors.New("area of interest does not overlap the raster")

// ErrDriverUnavailable is returned by an encoder that is not available in this build.
var ErrDriverUnavailable = errors.New("raster driver unavailable")

// InvalidGridError reports malformed coordinate arrays.
type InvalidGridError struct {
	Axis   string
	Reason string
}

func (e *InvalidGridError) Error() string {
	return fmt.Sprintf("invalid grid: %s axis: %s", e.Axis, e.Reason)
}

// MissingPrimaryVariableError reports that no variable matched the primary role.
type MissingPrimaryVariableError struct {
	Candidates []string
}

func (e *MissingPrimaryVariableError) Error() string {
	return fmt.Sprintf("no primary value variable found (candidates: %s)", strings.Join(e.Candidates, ", "))
}

// UnsupportedLayoutError reports a dimension arrangement other than (time?, y, x, band?).
type UnsupportedLayoutError struct {
	Variable string
	Dims     []string
	Reason   string
}

func (e *UnsupportedLayoutError) Error() string {
	return fmt.Sprintf("unsupported layout for %q %v: %s", e.Variable, e.Dims, e.Reason)
}

// AlignmentError reports a mask layer whose grid differs from the target.
type AlignmentError struct {
	Layer  string
	Target string
	Reason string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("layer %q is not aligned with %q: %s", e.Layer, e.Target, e.Reason)
}

// AmbiguousSubsetRequestError reports that zero or both of bbox/polygon were supplied.
type AmbiguousSubsetRequestError struct {
	HasBBox    bool
	HasPolygon bool
}

func (e *AmbiguousSubsetRequestError) Error() string {
	if e.HasBBox && e.HasPolygon {
		return "bbox and polygon are mutually exclusive"
	}
	return "either bbox or polygon must be provided"
}

// maxReportedCauses bounds how many backend causes appear in an error message.
const maxReportedCauses = 3

// RemoteAccessError reports that a source could not be fetched or decoded.
type RemoteAccessError struct {
	Source string
	Causes []error
}

func (e *RemoteAccessError) Error() string {
	msgs := make([]string, 0, maxReportedCauses)
	for i, c := range e.Causes {
		if i == maxReportedCauses {
			msgs = append(msgs, fmt.Sprintf("(+%d more)", len(e.Causes)-maxReportedCauses))
			break
		}
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("failed to access %s: %s", e.Source, strings.Join(msgs, "; "))
}

// Unwrap exposes every cause to errors.Is and errors.As.
func (e *RemoteAccessError) Unwrap() []error {
	return e.Causes
}

// EncodingError reports that both the primary and the fallback write strategies failed.
type EncodingError struct {
	Path     string
	Primary  error
	Fallback error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode %s: primary: %v; fallback: %v", e.Path, e.Primary, e.Fallback)
}

// Unwrap exposes both causes.
func (e *EncodingError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}
