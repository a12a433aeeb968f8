package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from a YAML or TOML file (selected by
// extension; ".toml" is TOML, anything else is treated as YAML), then
// overrides with environment variables, then applies defaults and
// validates. configPath may be empty, in which case only environment
// variables and defaults apply.
//
// Environment variables use INDEXMANAGER_<SECTION>_<FIELD>, e.g.
// INDEXMANAGER_MANAGER_MAX_INSTANCES -> manager.max_instances. Only the
// first underscore after the prefix separates section from field, so
// keys nested deeper than section.field (sandbox.qdrant.*) cannot be set
// from the environment.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := validateConfigPath(configPath); err != nil {
			return nil, fmt.Errorf("config path validation failed: %w", err)
		}

		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if strings.EqualFold(filepath.Ext(configPath), ".toml") {
			var tomlCfg Config
			if _, err := toml.Decode(string(content), &tomlCfg); err != nil {
				return nil, fmt.Errorf("decoding TOML config %s: %w", configPath, err)
			}
			if err := k.Load(structs.Provider(tomlCfg, "koanf"), nil); err != nil {
				return nil, fmt.Errorf("loading TOML config into koanf: %w", err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading YAML config %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("INDEXMANAGER_", ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, "INDEXMANAGER_")
		return strings.Replace(strings.ToLower(trimmed), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validateConfigPath rejects paths outside the allowed configuration
// directories, following symlinks first so a symlink can't be used to
// escape the allowlist.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "indexmanager"),
		"/etc/indexmanager",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/indexmanager/ or /etc/indexmanager/")
}

// validateConfigFileProperties enforces the same 0600/0400-only, 1MB-max
// policy the teacher applies to its own config file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// EnsureConfigDir creates the manager's config directory if absent,
// matching the teacher's startup convenience helper.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "indexmanager")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}
