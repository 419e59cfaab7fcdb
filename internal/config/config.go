// Package config loads service and CLI settings from compiled defaults, an
// optional YAML file and DISPCOG_ environment variables.
package config

import "time"

// Config holds all configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Earthdata EarthdataConfig `koanf:"earthdata"`
	Decoder   DecoderConfig   `koanf:"decoder"`
	Writer    WriterConfig    `koanf:"writer"`
	Mask      MaskConfig      `koanf:"mask"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `koanf:"port"`
	// CORSAllowedOrigins is a comma-separated list; empty allows all origins.
	CORSAllowedOrigins string        `koanf:"cors_allowed_origins"`
	WorkDir            string        `koanf:"work_dir"`
	RequestTimeout     time.Duration `koanf:"request_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EarthdataConfig holds catalog and data access settings.
type EarthdataConfig struct {
	Token                 string `koanf:"token"`
	S3CredentialsEndpoint string `koanf:"s3_credentials_endpoint"`
	CMRURL                string `koanf:"cmr_url"`
	Region                string `koanf:"region"`
	ShortName             string `koanf:"short_name"`
}

// DecoderConfig lists granule decoder backends in preference order.
type DecoderConfig struct {
	Backends []string `koanf:"backends"`
}

// WriterConfig overrides the mode presets. Empty or zero values keep the preset.
type WriterConfig struct {
	PrimaryDriver      string `koanf:"primary_driver"`
	TileSize           int    `koanf:"tile_size"`
	Compression        string `koanf:"compression"`
	BigTIFF            string `koanf:"bigtiff"`
	OverviewResampling string `koanf:"overview_resampling"`
}

// MaskConfig holds the displacement quality threshold.
type MaskConfig struct {
	CoherenceThreshold float64 `koanf:"coherence_threshold"`
}
