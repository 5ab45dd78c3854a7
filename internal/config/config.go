package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the process-wide configuration: a required database URL (a
// Postgres DSN or a sqlite file path), a
// bounded pool size, and optional sandbox overrides loaded from an
// operator-supplied bridge.toml.
type Config struct {
	Database DatabaseConfig
	Sandbox  SandboxConfig
}

// DatabaseConfig is read entirely from the environment: DATABASE_URL is
// required, DATABASE_POOL_SIZE is optional.
type DatabaseConfig struct {
	URL      string
	PoolSize int
}

// SandboxConfig overrides the default sandbox images and exposed ports.
// Operators who need a pinned Python patch version or a different
// chromedriver build set these in bridge.toml; the defaults are the
// original implementation's images, with Python pinned to 3.12-slim.
type SandboxConfig struct {
	PythonImage       string `toml:"python_image"`
	ChromedriverImage string `toml:"chromedriver_image"`
	ChromedriverPort  string `toml:"chromedriver_port"`
}

const (
	defaultPoolSize         = 5
	defaultPythonImage      = "python:3.12-slim"
	defaultChromedriver     = "zenika/alpine-chrome:with-chromedriver"
	defaultChromedriverPort = "9515/tcp"
)

// Default returns a Config with every field set to its hardcoded default.
func Default() Config {
	return Config{
		Database: DatabaseConfig{PoolSize: defaultPoolSize},
		Sandbox: SandboxConfig{
			PythonImage:       defaultPythonImage,
			ChromedriverImage: defaultChromedriver,
			ChromedriverPort:  defaultChromedriverPort,
		},
	}
}

// Load builds a Config from defaults, an optional bridge.toml at path (for
// sandbox overrides only — database settings are environment-only), and
// finally environment variables, which always win.
//
// DATABASE_URL must be set; a missing value is reported via ErrMissing so
// callers can fail startup with a clear message rather than a nil-pool
// panic later.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "bridge.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg struct {
			Sandbox SandboxConfig `toml:"sandbox"`
		}
		if err := toml.Unmarshal(data, &fileCfg); err == nil {
			if fileCfg.Sandbox.PythonImage != "" {
				cfg.Sandbox.PythonImage = fileCfg.Sandbox.PythonImage
			}
			if fileCfg.Sandbox.ChromedriverImage != "" {
				cfg.Sandbox.ChromedriverImage = fileCfg.Sandbox.ChromedriverImage
			}
			if fileCfg.Sandbox.ChromedriverPort != "" {
				cfg.Sandbox.ChromedriverPort = fileCfg.Sandbox.ChromedriverPort
			}
		}
	}

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("DATABASE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Database.PoolSize = n
		}
	}

	if cfg.Database.URL == "" {
		return cfg, &ErrMissing{Field: "DATABASE_URL"}
	}
	return cfg, nil
}

// ErrMissing reports a required environment variable that was not set.
type ErrMissing struct {
	Field string
}

func (e *ErrMissing) Error() string {
	return "config: missing required environment variable " + e.Field
}
