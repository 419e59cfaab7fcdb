package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "DISPCOG_"
	// EnvConfigFile names the YAML file when no path is passed to Load.
	EnvConfigFile = envPrefix + "CONFIG"
)

// legacyEnv maps unprefixed variables understood by earlier deployments.
var legacyEnv = map[string]string{
	"PORT":                 "server.port",
	"CORS_ALLOWED_ORIGINS": "server.cors_allowed_origins",
	"EARTHDATA_TOKEN":      "earthdata.token",
}

// Load reads configuration in increasing precedence:
//
//  1. Compiled defaults
//  2. The YAML file at path (or $DISPCOG_CONFIG), when set
//  3. Unprefixed PORT, CORS_ALLOWED_ORIGINS and EARTHDATA_TOKEN
//  4. DISPCOG_ environment variables
//
// Environment keys are matched against the known keys so that
// DISPCOG_EARTHDATA_S3_CREDENTIALS_ENDPOINT resolves to
// earthdata.s3_credentials_endpoint.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			return legacyEnv[key], value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	lookup := buildEnvLookup(k.Keys())
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			if key == "config" {
				return "", nil
			}
			if known, ok := lookup[key]; ok {
				return known, value
			}
			return strings.ReplaceAll(key, "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// buildEnvLookup maps the underscore form of every known key to the key.
func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}
	return lookup
}
