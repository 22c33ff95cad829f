package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LIFEOS_"
	// EnvConfigPath names the config file when set.
	EnvConfigPath = "LIFEOS_CONFIG"
)

// Load builds a Config by layering defaults, the YAML file at path and
// LIFEOS_* environment variables, then validates the result.
//
// Order of precedence (low -> high):
//  1. defaults (Default())
//  2. file (YAML) at path; a missing file is not an error
//  3. env (prefix LIFEOS_, "__" separates sections: LIFEOS_ENGINE__FLOOR)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
			}
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}
	// The config path itself is not a config key.
	k.Delete("config")

	cfg := Default()
	// Lists replace their defaults wholesale; decoding into a populated
	// slice would otherwise keep trailing default entries.
	if k.Exists("engine.decay_tiers") {
		cfg.Engine.DecayTiers = nil
	}
	if k.Exists("engine.bands") {
		cfg.Engine.Bands = nil
	}
	if k.Exists("engine.chronotype") {
		cfg.Engine.Chronotype = nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Re-derive paths if DataDir was overridden but the dependent paths were not.
	if k.Exists("data_dir") {
		if !k.Exists("socket_path") {
			cfg.SocketPath = filepath.Join(cfg.DataDir, "lifeosd.sock")
		}
		if !k.Exists("db_path") {
			cfg.DBPath = filepath.Join(cfg.DataDir, "lifeos.db")
		}
		if !k.Exists("lock_path") {
			cfg.LockPath = filepath.Join(cfg.DataDir, "lifeosd.lock")
		}
		if !k.Exists("telemetry.spool_dir") {
			cfg.Telemetry.SpoolDir = filepath.Join(cfg.DataDir, "spool")
		}
	}
	if v := os.Getenv(EnvPrefix + "BIOMETRIC__TOKEN"); v == "" && cfg.Biometric.Token == "" {
		cfg.Biometric.Token = os.Getenv("OURA_API_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
