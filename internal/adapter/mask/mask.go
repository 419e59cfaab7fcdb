// Package mask builds invalidity masks from quality layers and external
// rasters and applies them to a target raster.
package mask

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/domain"
)

// transformTolerance is the relative tolerance for matching grid transforms.
const transformTolerance = 1e-9

// Op is a comparison operator.
type Op string

const (
	Less         Op = "<"
	LessEqual    Op = "<="
	Greater      Op = ">"
	GreaterEqual Op = ">="
	Equal        Op = "=="
	NotEqual     Op = "!="
)

func (o Op) eval(a, b float64) (bool, error) {
	switch o {
	case Less:
		return a < b, nil
	case LessEqual:
		return a <= b, nil
	case Greater:
		return a > b, nil
	case GreaterEqual:
		return a >= b, nil
	case Equal:
		return a == b, nil
	case NotEqual:
		// NaN never masks, even under !=.
		return !math.IsNaN(a) && a != b, nil
	}
	return false, fmt.Errorf("unknown operator %q", o)
}

// Rule marks cells of a layer as invalid.
type Rule interface {
	// Source returns the layer the rule evaluates.
	Source() *domain.Raster
	// Masked reports whether the value invalidates its cell.
	Masked(v float64) (bool, error)
	String() string
}

// Threshold masks cells where Layer Op Value holds.
type Threshold struct {
	Layer *domain.Raster
	Op    Op
	Value float64
}

func (t Threshold) Source() *domain.Raster { return t.Layer }

func (t Threshold) Masked(v float64) (bool, error) {
	if math.IsNaN(v) {
		return false, nil
	}
	return t.Op.eval(v, t.Value)
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %s %g", layerName(t.Layer), t.Op, t.Value)
}

// NonZero masks cells whose value is finite and non-zero.
type NonZero struct {
	Layer *domain.Raster
}

func (n NonZero) Source() *domain.Raster { return n.Layer }

func (n NonZero) Masked(v float64) (bool, error) {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0, nil
}

func (n NonZero) String() string {
	return layerName(n.Layer) + " != 0"
}

func layerName(r *domain.Raster) string {
	if r == nil || r.Name == "" {
		return "layer"
	}
	return r.Name
}

// Mask is a boolean raster; true marks an invalid cell.
type Mask struct {
	Rows, Cols int
	Cells      []bool
}

// Count returns the number of masked cells.
func (m *Mask) Count() int {
	n := 0
	for _, c := range m.Cells {
		if c {
			n++
		}
	}
	return n
}

// Fraction returns the masked share of all cells.
func (m *Mask) Fraction() float64 {
	if len(m.Cells) == 0 {
		return 0
	}
	return float64(m.Count()) / float64(len(m.Cells))
}

// Compose ORs the rules into one mask over target's grid. Every layer must
// share target's shape, transform and CRS.
func Compose(target *domain.Raster, rules ...Rule) (*Mask, error) {
	m := &Mask{Rows: target.Rows, Cols: target.Cols, Cells: make([]bool, len(target.Data))}
	for _, rule := range rules {
		layer := rule.Source()
		if err := CheckAligned(layer, target); err != nil {
			return nil, err
		}
		for i, v := range layer.Data {
			if m.Cells[i] {
				continue
			}
			hit, err := rule.Masked(v)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate %s: %w", rule, err)
			}
			m.Cells[i] = hit
		}
	}
	return m, nil
}

// CheckAligned returns an *domain.AlignmentError unless layer and target
// share shape, transform and CRS.
func CheckAligned(layer, target *domain.Raster) error {
	if layer == nil {
		return &domain.AlignmentError{Layer: "<nil>", Target: target.Name, Reason: "missing layer"}
	}
	fail := func(format string, args ...any) error {
		return &domain.AlignmentError{Layer: layer.Name, Target: target.Name, Reason: fmt.Sprintf(format, args...)}
	}
	if layer.Rows != target.Rows || layer.Cols != target.Cols {
		return fail("shape %dx%d differs from %dx%d", layer.Rows, layer.Cols, target.Rows, target.Cols)
	}
	if !layer.Geo.Transform.Equal(target.Geo.Transform, transformTolerance) {
		return fail("transform %v differs from %v", layer.Geo.Transform, target.Geo.Transform)
	}
	if !crs.Same(layer.Geo.CRS, target.Geo.CRS) {
		return fail("CRS %q differs from %q", layer.Geo.CRS, target.Geo.CRS)
	}
	return nil
}

// Apply returns a copy of target with masked cells set to NaN.
func Apply(target *domain.Raster, m *Mask) (*domain.Raster, error) {
	if m.Rows != target.Rows || m.Cols != target.Cols {
		return nil, &domain.AlignmentError{
			Layer: "mask", Target: target.Name,
			Reason: fmt.Sprintf("shape %dx%d differs from %dx%d", m.Rows, m.Cols, target.Rows, target.Cols),
		}
	}
	out := target.Clone()
	for i, masked := range m.Cells {
		if masked {
			out.Data[i] = math.NaN()
		}
	}
	return out, nil
}

// Binarize returns a copy of r holding 1 where the value is positive and 0
// elsewhere. NaN stays NaN.
func Binarize(r *domain.Raster) *domain.Raster {
	out := r.Clone()
	for i, v := range out.Data {
		switch {
		case math.IsNaN(v):
		case v > 0:
			out.Data[i] = 1
		default:
			out.Data[i] = 0
		}
	}
	return out
}

// Expr is a parsed threshold expression such as "temporal_coherence<0.2".
type Expr struct {
	Variable string
	Op       Op
	Value    float64
}

// DefaultCoherenceRule is the displacement quality rule.
var DefaultCoherenceRule = Expr{Variable: "temporal_coherence", Op: Less, Value: 0.2}

var exprRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_./-]*)\s*(<=|>=|==|!=|<|>)\s*(\S+)\s*$`)

// ParseRule parses "<variable> <op> <number>".
func ParseRule(s string) (Expr, error) {
	m := exprRe.FindStringSubmatch(s)
	if m == nil {
		return Expr{}, fmt.Errorf("invalid mask rule %q (expected e.g. temporal_coherence<0.2)", s)
	}
	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Expr{}, fmt.Errorf("invalid threshold in mask rule %q: %w", s, err)
	}
	return Expr{Variable: m[1], Op: Op(m[2]), Value: v}, nil
}

// Bind attaches the expression to a loaded layer.
func (e Expr) Bind(layer *domain.Raster) Threshold {
	return Threshold{Layer: layer, Op: e.Op, Value: e.Value}
}

func (e Expr) String() string {
	return strings.Join([]string{e.Variable, string(e.Op), strconv.FormatFloat(e.Value, 'g', -1, 64)}, " ")
}
