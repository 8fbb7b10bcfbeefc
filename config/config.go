/*
config.go - Runtime configuration for the loyalty server

PURPOSE:
  Resolves server configuration in priority order: defaults -> YAML file
  -> environment overrides. The file is optional so a bare binary still
  starts with sensible local defaults.

SEE ALSO:
  - cmd/server/main.go: applies flag overrides on top of this
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	Port            int
	DBPath          string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// configFile mirrors the YAML schema.
type configFile struct {
	Server struct {
		Port            int `yaml:"port"`
		ShutdownSeconds int `yaml:"shutdown_seconds"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	CORS struct {
		Origins []string `yaml:"origins"`
	} `yaml:"cors"`
}

// Load resolves configuration. A missing file is not an error; a file
// that exists but fails to parse is.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:            8080,
		DBPath:          "loyalty.db",
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else {
			var f configFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			if f.Server.Port > 0 {
				cfg.Port = f.Server.Port
			}
			if f.Server.ShutdownSeconds > 0 {
				cfg.ShutdownTimeout = time.Duration(f.Server.ShutdownSeconds) * time.Second
			}
			if f.Storage.DBPath != "" {
				cfg.DBPath = f.Storage.DBPath
			}
			if len(f.CORS.Origins) > 0 {
				cfg.CORSOrigins = f.CORS.Origins
			}
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.DBPath = envOrDefault("DB_PATH", cfg.DBPath)

	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
