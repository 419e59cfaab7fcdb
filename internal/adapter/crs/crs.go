// Package crs resolves, normalizes and transforms between coordinate
// reference systems.
package crs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// WGS84 is the geographic default used when a granule declares no CRS.
const WGS84 = "EPSG:4326"

// epsgDefs holds PROJ definitions for the EPSG codes granules commonly use.
// UTM zones are generated in projFromEPSG.
var epsgDefs = map[int]string{
	4326: "+proj=longlat +datum=WGS84 +no_defs",
	4269: "+proj=longlat +datum=NAD83 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs",
}

var authorityRe = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// Normalize canonicalizes a CRS string: trimmed, "epsg:" prefixes upper-cased,
// bare numeric codes prefixed, and an empty string mapped to WGS84.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return WGS84
	}
	if _, err := strconv.Atoi(s); err == nil {
		return "EPSG:" + s
	}
	if len(s) > 5 && strings.EqualFold(s[:5], "epsg:") {
		return "EPSG:" + strings.TrimSpace(s[5:])
	}
	return s
}

// EPSGCode extracts an EPSG code from "EPSG:n" or from the last AUTHORITY of a WKT string.
func EPSGCode(s string) (int, bool) {
	s = Normalize(s)
	if strings.HasPrefix(s, "EPSG:") {
		code, err := strconv.Atoi(s[5:])
		return code, err == nil
	}
	matches := authorityRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	// The outermost CRS authority is the last one in WKT1.
	code, err := strconv.Atoi(matches[len(matches)-1][1])
	return code, err == nil
}

// Same reports whether two CRS strings denote the same system.
func Same(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	ca, okA := EPSGCode(na)
	cb, okB := EPSGCode(nb)
	return okA && okB && ca == cb
}

// IsGeographic reports whether the CRS uses longitude/latitude axes.
func IsGeographic(s string) bool {
	if code, ok := EPSGCode(s); ok {
		return code == 4326 || code == 4269
	}
	n := Normalize(s)
	return strings.HasPrefix(strings.TrimSpace(n), "GEOGCS") || strings.Contains(n, "+proj=longlat")
}

func projFromEPSG(code int) (string, error) {
	if def, ok := epsgDefs[code]; ok {
		return def, nil
	}
	switch {
	case code >= 32601 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code >= 32701 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("unsupported EPSG code %d", code)
}

// Parse converts a CRS string into a spatial reference.
//
// WKT carrying an EPSG authority for a code in the PROJ table is parsed
// through the table.
func Parse(s string) (*proj.SR, error) {
	n := Normalize(s)
	if code, ok := EPSGCode(n); ok {
		def, err := projFromEPSG(code)
		if err == nil {
			return proj.Parse(def)
		}
		if strings.HasPrefix(n, "EPSG:") {
			return nil, err
		}
	}
	sr, err := proj.Parse(n)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRS %q: %w", abbreviate(n), err)
	}
	return sr, nil
}

// NewTransformer returns a function mapping coordinates from src to dst.
func NewTransformer(src, dst string) (proj.Transformer, error) {
	if Same(src, dst) {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}
	srcSR, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source CRS: %w", err)
	}
	dstSR, err := Parse(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination CRS: %w", err)
	}
	t, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("failed to build transform: %w", err)
	}
	return t, nil
}

func abbreviate(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
