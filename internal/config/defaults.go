package config

import (
	"go.ngs.io/disp-cog/internal/adapter/remote"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
)

const (
	defaultServerPort         = 8080
	defaultCoherenceThreshold = 0.2
)

// defaults returns the compiled-in values, loaded before any file or env layer.
func defaults() map[string]any {
	return map[string]any{
		"server.port":                 defaultServerPort,
		"server.cors_allowed_origins": "",
		"server.work_dir":             "./work",
		"server.request_timeout":      "15m",

		"log.level":  "info",
		"log.format": "text",

		"earthdata.token":                   "",
		"earthdata.s3_credentials_endpoint": remote.DefaultCredentialsEndpoint,
		"earthdata.cmr_url":                 remote.DefaultCMRURL,
		"earthdata.region":                  remote.DefaultRegion,
		"earthdata.short_name":              remote.DefaultShortName,

		"decoder.backends": append([]string(nil), granule.DefaultOrder...),

		"writer.primary_driver":      "COG",
		"writer.tile_size":           0,
		"writer.compression":         "",
		"writer.bigtiff":             "",
		"writer.overview_resampling": "",

		"mask.coherence_threshold": defaultCoherenceThreshold,
	}
}
