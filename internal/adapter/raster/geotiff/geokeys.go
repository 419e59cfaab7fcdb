package geotiff

import (
	"fmt"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/crs"
	"go.ngs.io/disp-cog/internal/domain"
)

// GeoTIFF keys.
const (
	keyGTModelType     uint16 = 1024
	keyGTRasterType    uint16 = 1025
	keyGTCitation      uint16 = 1026
	keyGeographicType  uint16 = 2048
	keyGeogCitation    uint16 = 2049
	keyProjectedCSType uint16 = 3072
	keyPCSCitation     uint16 = 3073
)

const (
	modelTypeProjected  uint16 = 1
	modelTypeGeographic uint16 = 2
	rasterPixelIsArea   uint16 = 1
	userDefined         uint16 = 32767
)

// maxEPSGInKeyDirectory is the largest code a 16-bit key can carry.
const maxEPSGInKeyDirectory = 32766

type geoKey struct {
	id, location, count, value uint16
}

// geoEntries returns the georeferencing tags for g.
func geoEntries(g domain.Georeference) []entry {
	var out []entry
	t := g.Transform
	if t.B == 0 && t.D == 0 {
		out = append(out,
			doubleEntry(tagModelPixelScale, t.A, -t.E, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, t.C, t.F, 0),
		)
	} else {
		out = append(out, doubleEntry(tagModelTransformation,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}

	keys, ascii := geoKeys(g.CRS)
	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k.id, k.location, k.count, k.value)
	}
	out = append(out, shortEntry(tagGeoKeyDirectory, dir...))
	if ascii != "" {
		// GeoAsciiParams is NUL-terminated like any ASCII field.
		out = append(out, asciiEntry(tagGeoASCIIParams, ascii))
	}
	return out
}

func geoKeys(crsString string) ([]geoKey, string) {
	geographic := crs.IsGeographic(crsString)
	modelType := modelTypeProjected
	csKey, citationKey := keyProjectedCSType, keyPCSCitation
	if geographic {
		modelType = modelTypeGeographic
		csKey, citationKey = keyGeographicType, keyGeogCitation
	}
	keys := []geoKey{
		{id: keyGTModelType, count: 1, value: modelType},
		{id: keyGTRasterType, count: 1, value: rasterPixelIsArea},
	}

	if code, ok := crs.EPSGCode(crsString); ok && code > 0 && code <= maxEPSGInKeyDirectory {
		keys = append(keys, geoKey{id: csKey, count: 1, value: uint16(code)})
		return keys, ""
	}

	// User-defined: the full definition travels in the citation.
	citation := strings.ReplaceAll(crs.Normalize(crsString), "|", " ") + "|"
	keys = append(keys,
		geoKey{id: csKey, count: 1, value: userDefined},
		//nolint:gosec // G115: citations fit the 16-bit count.
		geoKey{id: citationKey, location: tagGeoASCIIParams, count: uint16(len(citation)), value: 0},
	)
	sortKeys(keys)
	return keys, citation
}

func sortKeys(keys []geoKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].id < keys[j-1].id; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

// parseGeoKeys recovers the CRS string from a key directory.
func parseGeoKeys(dir []uint16, ascii string) (string, error) {
	if len(dir) < 4 {
		return "", fmt.Errorf("geokey directory too short")
	}
	n := int(dir[3])
	if len(dir) < 4+4*n {
		return "", fmt.Errorf("geokey directory declares %d keys but holds %d", n, (len(dir)-4)/4)
	}
	vals := map[uint16]geoKey{}
	for i := 0; i < n; i++ {
		k := geoKey{id: dir[4+4*i], location: dir[5+4*i], count: dir[6+4*i], value: dir[7+4*i]}
		vals[k.id] = k
	}
	for _, id := range []uint16{keyProjectedCSType, keyGeographicType} {
		k, ok := vals[id]
		if !ok {
			continue
		}
		if k.value != userDefined && k.value != 0 {
			return fmt.Sprintf("EPSG:%d", k.value), nil
		}
	}
	for _, id := range []uint16{keyPCSCitation, keyGeogCitation, keyGTCitation} {
		k, ok := vals[id]
		if !ok || k.location != tagGeoASCIIParams {
			continue
		}
		start, end := int(k.value), int(k.value)+int(k.count)
		if end > len(ascii) {
			continue
		}
		return strings.TrimRight(ascii[start:end], "|\x00"), nil
	}
	return "", nil
}
