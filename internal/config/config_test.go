package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Server.RequestTimeout)
	assert.Nil(t, cfg.Server.AllowedOrigins())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "https://cmr.earthdata.nasa.gov", cfg.Earthdata.CMRURL)
	assert.Equal(t, "us-west-2", cfg.Earthdata.Region)
	assert.Equal(t, []string{"native", "netcdf-c", "classic"}, cfg.Decoder.Backends)
	assert.Equal(t, "COG", cfg.Writer.PrimaryDriver)
	assert.Zero(t, cfg.Writer.TileSize)
	assert.InDelta(t, 0.2, cfg.Mask.CoherenceThreshold, 1e-12)
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "disp-cog.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFile(t *testing.T) {
	p := writeYAML(t, `
server:
  port: 9000
log:
  format: json
writer:
  tile_size: 256
  compression: zstd
decoder:
  backends: [classic]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their defaults")
	assert.Equal(t, 256, cfg.Writer.TileSize)
	assert.Equal(t, "zstd", cfg.Writer.Compression)
	assert.Equal(t, []string{"classic"}, cfg.Decoder.Backends)
}

func TestLoadFileFromEnv(t *testing.T) {
	t.Setenv(EnvConfigFile, writeYAML(t, "server:\n  port: 7000\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	p := writeYAML(t, "server:\n  port: 9000\n")
	t.Setenv("DISPCOG_SERVER_PORT", "9090")
	t.Setenv("DISPCOG_EARTHDATA_S3_CREDENTIALS_ENDPOINT", "https://example.test/s3credentials")
	t.Setenv("DISPCOG_MASK_COHERENCE_THRESHOLD", "0.35")
	t.Setenv("DISPCOG_DECODER_BACKENDS", "netcdf-c,classic")
	t.Setenv("DISPCOG_SERVER_REQUEST_TIMEOUT", "90s")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port, "env wins over the file")
	assert.Equal(t, "https://example.test/s3credentials", cfg.Earthdata.S3CredentialsEndpoint)
	assert.InDelta(t, 0.35, cfg.Mask.CoherenceThreshold, 1e-12)
	assert.Equal(t, []string{"netcdf-c", "classic"}, cfg.Decoder.Backends)
	assert.Equal(t, 90*time.Second, cfg.Server.RequestTimeout)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("PORT", "3000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins())

	t.Setenv("DISPCOG_SERVER_PORT", "4000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port, "prefixed variables win")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestValidateAggregatesErrors(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Port = 0
	cfg.Log.Format = "xml"
	cfg.Decoder.Backends = []string{"gdal"}
	cfg.Writer.TileSize = 100
	cfg.Writer.PrimaryDriver = "GTiff"
	cfg.Mask.CoherenceThreshold = 2

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.port", "log.format", "decoder.backends", "writer.tile_size", "writer.primary_driver", "mask.coherence_threshold"} {
		assert.Contains(t, err.Error(), want)
	}
}
