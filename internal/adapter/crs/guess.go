package crs

import "go.ngs.io/disp-cog/internal/domain"

// AttributeSource exposes the metadata Guess needs from an opened dataset.
type AttributeSource interface {
	Variables() []string
	Variable(name string) (domain.RasterVariable, error)
	GlobalAttrs() domain.Attributes
}

// Guess determines the CRS of a dataset:
//  1. a variable's grid_mapping attribute names a CRS variable whose
//     spatial_ref or crs_wkt attribute is used;
//  2. otherwise the dataset-level spatial_ref (or crs_wkt) attribute;
//  3. otherwise WGS84.
func Guess(ds AttributeSource) string {
	for _, name := range ds.Variables() {
		v, err := ds.Variable(name)
		if err != nil {
			continue
		}
		gm, ok := v.Attrs.String("grid_mapping")
		if !ok || gm == "" {
			continue
		}
		mapping, err := ds.Variable(gm)
		if err != nil {
			continue
		}
		if s := firstString(mapping.Attrs, "spatial_ref", "crs_wkt"); s != "" {
			return Normalize(s)
		}
	}

	if s := firstString(ds.GlobalAttrs(), "spatial_ref", "crs_wkt"); s != "" {
		return Normalize(s)
	}

	return WGS84
}

func firstString(attrs domain.Attributes, keys ...string) string {
	for _, k := range keys {
		if s, ok := attrs.String(k); ok && s != "" {
			return s
		}
	}
	return ""
}
