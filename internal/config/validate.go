package config

import (
	"errors"
	"fmt"
	"strings"

	"go.ngs.io/disp-cog/internal/adapter/interp"
	"go.ngs.io/disp-cog/internal/adapter/raster/cog"
	"go.ngs.io/disp-cog/internal/adapter/raster/geotiff"
	"go.ngs.io/disp-cog/internal/adapter/store/granule"
)

// Validate checks all configuration values and returns aggregated errors.
func (c *Config) Validate() error {
	return errors.Join(
		c.Server.validate(),
		c.Log.validate(),
		c.Earthdata.validate(),
		c.Decoder.validate(),
		c.Writer.validate(),
		c.Mask.validate(),
	)
}

// AllowedOrigins splits CORSAllowedOrigins; nil means all origins.
func (s *ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *ServerConfig) validate() error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port))
	}
	if strings.TrimSpace(s.WorkDir) == "" {
		errs = append(errs, errors.New("server.work_dir must not be empty"))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (l *LogConfig) validate() error {
	var errs []error
	switch l.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: trace, debug, info, warn, error; got %q", l.Level))
	}
	switch l.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", l.Format))
	}
	return errors.Join(errs...)
}

func (e *EarthdataConfig) validate() error {
	var errs []error
	if e.CMRURL == "" {
		errs = append(errs, errors.New("earthdata.cmr_url must not be empty"))
	}
	if e.Region == "" {
		errs = append(errs, errors.New("earthdata.region must not be empty"))
	}
	return errors.Join(errs...)
}

func (d *DecoderConfig) validate() error {
	if len(d.Backends) == 0 {
		return errors.New("decoder.backends must list at least one backend")
	}
	if _, err := granule.Backends(d.Backends); err != nil {
		return fmt.Errorf("decoder.backends: %w", err)
	}
	return nil
}

func (w *WriterConfig) validate() error {
	var errs []error
	if _, err := cog.LookupDriver(w.PrimaryDriver); err != nil {
		errs = append(errs, fmt.Errorf("writer.primary_driver: %w", err))
	}
	if w.TileSize != 0 && (w.TileSize < 16 || w.TileSize > 4096 || w.TileSize%16 != 0) {
		errs = append(errs, fmt.Errorf("writer.tile_size must be 0 or a multiple of 16 in [16, 4096], got %d", w.TileSize))
	}
	if w.Compression != "" {
		if _, err := geotiff.ParseCompression(w.Compression); err != nil {
			errs = append(errs, fmt.Errorf("writer.compression: %w", err))
		}
	}
	if _, err := geotiff.ParseBigTIFF(w.BigTIFF); err != nil {
		errs = append(errs, fmt.Errorf("writer.bigtiff: %w", err))
	}
	if w.OverviewResampling != "" {
		if _, err := interp.ParseResampling(w.OverviewResampling); err != nil {
			errs = append(errs, fmt.Errorf("writer.overview_resampling: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *MaskConfig) validate() error {
	if m.CoherenceThreshold < 0 || m.CoherenceThreshold > 1 {
		return fmt.Errorf("mask.coherence_threshold must be in [0, 1], got %g", m.CoherenceThreshold)
	}
	return nil
}
