// Package config loads the index manager's process-wide configuration
// (§5): instance/namespace limits, the offload directory, default
// timeouts, and the seed provider list. Precedence, highest to lowest:
// environment variables, a config file (YAML or TOML), hardcoded
// defaults — mirroring the teacher's layered config loading.
package config

import (
	"fmt"
	"time"
)

// Config is the index manager's static configuration (§5 "Process
// configuration").
type Config struct {
	Manager  ManagerConfig   `koanf:"manager"`
	Sandbox  SandboxConfig   `koanf:"sandbox"`
	Seed     []SeedProvider  `koanf:"seed_providers"`
}

// ManagerConfig maps directly onto manager.Config's persisted fields.
type ManagerConfig struct {
	// MaxInstances caps simultaneously live indices. 0 means unlimited.
	MaxInstances int `koanf:"max_instances"`

	// AllowedNamespaces restricts createIndex to these namespace
	// prefixes. Empty means unrestricted.
	AllowedNamespaces []string `koanf:"allowed_namespaces"`

	// OffloadDir is the flat directory the persistence codec reads and
	// writes (§6).
	OffloadDir string `koanf:"offload_dir"`

	// DefaultInactivityTimeout applies when a creation call doesn't
	// specify its own (§4.4.2).
	DefaultInactivityTimeout Duration `koanf:"default_inactivity_timeout"`

	// DefaultProviderName, if set, must resolve in the registry at
	// embed time; a missing provider here is a hard error (§4.3).
	DefaultProviderName string `koanf:"default_provider_name"`

	QueryTimeout  Duration `koanf:"query_timeout"`
	InitTimeout   Duration `koanf:"init_timeout"`
	IngestTimeout Duration `koanf:"ingest_timeout"`

	// ReconcileInterval is loaded and defaulted (0 becomes 10m), but
	// nothing in the module reads it: no background reconciliation
	// scanner runs.
	ReconcileInterval Duration `koanf:"reconcile_interval"`

	// WatchOffloadDir is loaded, but nothing in the module reads it: no
	// offload-directory watcher runs, and ListOffloadedIndices rescans the
	// directory on every call.
	WatchOffloadDir bool `koanf:"watch_offload_dir"`
}

// SandboxConfig selects and configures the default Sandbox backend.
type SandboxConfig struct {
	// DefaultBackend is "chromem" or "qdrant".
	DefaultBackend string       `koanf:"default_backend"`
	Qdrant         QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig configures the optional Qdrant sandbox backend.
type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	UseTLS         bool   `koanf:"use_tls"`
	APIKey         Secret `koanf:"api_key"`
	VectorSize     int    `koanf:"vector_size"`
}

// SeedProvider declares an embedding provider to register at startup.
// Kind "mock" and "remote" are supported; "generic" providers must be
// registered in code, since an in-process function has no config
// representation.
type SeedProvider struct {
	ID        string `koanf:"id"`
	Kind      string `koanf:"kind"`
	Host      string `koanf:"host"`
	Model     string `koanf:"model"`
	Dimension int    `koanf:"dimension"`
}

// Validate checks cross-field invariants not expressible as defaults.
func (c *Config) Validate() error {
	if c.Manager.MaxInstances < 0 {
		return fmt.Errorf("manager.max_instances must be >= 0")
	}
	if c.Manager.OffloadDir == "" {
		return fmt.Errorf("manager.offload_dir is required")
	}
	switch c.Sandbox.DefaultBackend {
	case "", "chromem", "qdrant":
	default:
		return fmt.Errorf("sandbox.default_backend %q must be chromem or qdrant", c.Sandbox.DefaultBackend)
	}
	for _, sp := range c.Seed {
		if sp.ID == "" {
			return fmt.Errorf("seed_providers: id is required")
		}
		switch sp.Kind {
		case "mock", "remote":
		default:
			return fmt.Errorf("seed_providers[%s]: kind must be mock or remote", sp.ID)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Manager.OffloadDir == "" {
		cfg.Manager.OffloadDir = "~/.config/indexmanager/offload"
	}
	if cfg.Manager.DefaultInactivityTimeout == 0 {
		cfg.Manager.DefaultInactivityTimeout = Duration(30 * time.Minute)
	}
	if cfg.Manager.QueryTimeout == 0 {
		cfg.Manager.QueryTimeout = Duration(30 * time.Second)
	}
	if cfg.Manager.InitTimeout == 0 {
		cfg.Manager.InitTimeout = Duration(30 * time.Second)
	}
	if cfg.Manager.IngestTimeout == 0 {
		cfg.Manager.IngestTimeout = Duration(60 * time.Second)
	}
	if cfg.Manager.ReconcileInterval == 0 {
		cfg.Manager.ReconcileInterval = Duration(10 * time.Minute)
	}
	if cfg.Sandbox.DefaultBackend == "" {
		cfg.Sandbox.DefaultBackend = "chromem"
	}
	if cfg.Sandbox.Qdrant.Host == "" {
		cfg.Sandbox.Qdrant.Host = "localhost"
	}
	if cfg.Sandbox.Qdrant.Port == 0 {
		cfg.Sandbox.Qdrant.Port = 6334
	}
	if cfg.Sandbox.Qdrant.VectorSize == 0 {
		cfg.Sandbox.Qdrant.VectorSize = 384
	}
}
