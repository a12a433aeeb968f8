// Package manager is the public façade over internal/manager: it wires
// together the sandbox factories, provider registry, event bus, and
// logger from a config.Config and returns a ready-to-use Manager,
// mirroring pkg/vectorstore's thin-wrapper-over-an-internal-package
// pattern.
//
// Example usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    // handle error
//	}
//	mgr, err := manager.New(ctx, cfg, nil)
//	if err != nil {
//	    // handle error
//	}
//	id, err := mgr.CreateIndex(ctx, manager.CreationOptions{
//	    EmbeddingProviderName: providers.MockModelName,
//	    Dimension:             providers.MockDimension,
//	})
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexmanager/internal/codec"
	"github.com/fyrsmithlabs/indexmanager/internal/config"
	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
	imanager "github.com/fyrsmithlabs/indexmanager/internal/manager"
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// Re-exported types so callers need only import this package.
type (
	Manager         = imanager.Manager
	CreationOptions = imanager.CreationOptions
	Document        = imanager.Document
	Stats           = imanager.Stats
)

// Re-exported sentinel errors (§7).
var (
	ErrNotFound           = imanager.ErrNotFound
	ErrExists             = imanager.ErrExists
	ErrAlreadyRunning     = imanager.ErrAlreadyRunning
	ErrCapacity           = imanager.ErrCapacity
	ErrNamespaceForbidden = imanager.ErrNamespaceForbidden
	ErrProviderNotFound   = imanager.ErrProviderNotFound
	ErrDocWithoutContent  = imanager.ErrDocWithoutContent
	ErrDimensionMismatch  = imanager.ErrDimensionMismatch
	ErrEmbeddingFailed    = imanager.ErrEmbeddingFailed
	ErrSandboxFailed      = imanager.ErrSandboxFailed
	ErrTimeout            = imanager.ErrTimeout
	ErrIOFailed           = imanager.ErrIOFailed
)

// New builds a Manager from cfg: a provider registry seeded from
// cfg.Seed, a chromem/qdrant sandbox factory pair, a process-wide event
// bus, and the supplied logger (a nil logger is replaced with a no-op
// one, matching every wired package's defensive-default convention).
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	bus := eventbus.New(logger)
	registry := providers.New(bus, logger)

	for _, sp := range cfg.Seed {
		p, err := buildSeedProvider(ctx, sp)
		if err != nil {
			return nil, fmt.Errorf("building seed provider %q: %w", sp.ID, err)
		}
		if !registry.Add(sp.ID, p) {
			return nil, fmt.Errorf("seed provider %q already registered", sp.ID)
		}
	}

	var qf *sandbox.QdrantFactory
	if cfg.Sandbox.DefaultBackend == string(sandbox.BackendQdrant) || cfg.Sandbox.Qdrant.Host != "" {
		qcfg := sandbox.QdrantConfig{
			Host:   cfg.Sandbox.Qdrant.Host,
			Port:   cfg.Sandbox.Qdrant.Port,
			UseTLS: cfg.Sandbox.Qdrant.UseTLS,
			APIKey: cfg.Sandbox.Qdrant.APIKey.Value(),
		}
		var err error
		qf, err = sandbox.NewQdrantFactory(ctx, qcfg)
		if err != nil && cfg.Sandbox.DefaultBackend == string(sandbox.BackendQdrant) {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
	}

	factories := sandbox.NewFactories(qf, sandbox.Backend(cfg.Sandbox.DefaultBackend))

	mgrCfg := imanager.Config{
		MaxInstances:             cfg.Manager.MaxInstances,
		AllowedNamespaces:        cfg.Manager.AllowedNamespaces,
		OffloadDir:               cfg.Manager.OffloadDir,
		DefaultInactivityTimeout: cfg.Manager.DefaultInactivityTimeout.Duration(),
		DefaultProviderName:      cfg.Manager.DefaultProviderName,
		QueryTimeout:             cfg.Manager.QueryTimeout.Duration(),
		InitTimeout:              cfg.Manager.InitTimeout.Duration(),
		IngestTimeout:            cfg.Manager.IngestTimeout.Duration(),
	}

	mgrCfg.OffloadDir = expandHome(mgrCfg.OffloadDir)
	if err := codec.EnsureDir(mgrCfg.OffloadDir); err != nil {
		return nil, fmt.Errorf("preparing offload directory: %w", err)
	}

	return imanager.New(mgrCfg, factories, registry, bus, logger), nil
}

// expandHome resolves a leading "~" to the user's home directory, since
// config.Config stores OffloadDir the same way the teacher's chromem
// path default is expressed.
func expandHome(dir string) string {
	if !strings.HasPrefix(dir, "~") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~"))
}

func buildSeedProvider(ctx context.Context, sp config.SeedProvider) (providers.Provider, error) {
	switch sp.Kind {
	case "mock":
		return providers.NewMockProvider(), nil
	case "remote":
		return providers.NewRemoteProvider(providers.RemoteConfig{
			Name:      sp.ID,
			Host:      sp.Host,
			Model:     sp.Model,
			Dimension: sp.Dimension,
		})
	default:
		return nil, fmt.Errorf("unsupported seed provider kind %q", sp.Kind)
	}
}
