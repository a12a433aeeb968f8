package manager

import (
	"fmt"

	"github.com/fyrsmithlabs/indexmanager/internal/providers"
)

// resolveEmbedder implements the embedding-provider resolution order of
// §4.3: inline override, then the instance's named provider, then the
// manager's named default (a hard error if configured but absent), then
// the manager's inline default, else no-embedding-provider. The
// mock-model sentinel is selected when it is the instance's name or the
// manager's default name; it is recognized by name before ever consulting
// the registry, since it is never itself registered.
//
// Takes the instance's override/name by value rather than *liveIndex so
// callers resolve before taking li.mu: this may call into the registry,
// which takes r.mu and, from Remove/Update, calls back into the manager
// under r.mu to walk every live index's li.mu. Holding li.mu here would
// invert that order and risk deadlock.
func (m *Manager) resolveEmbedder(override providers.Provider, name string) (providers.Provider, error) {
	if override != nil {
		return override, nil
	}

	if name != "" {
		if name == providers.MockModelName {
			return providers.NewMockProvider(), nil
		}
		p, err := m.registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
		}
		return p, nil
	}

	if name := m.cfg.DefaultProviderName; name != "" {
		if name == providers.MockModelName {
			return providers.NewMockProvider(), nil
		}
		p, err := m.registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: manager default %q", ErrProviderNotFound, name)
		}
		return p, nil
	}

	if m.cfg.DefaultProvider != nil {
		return m.cfg.DefaultProvider, nil
	}

	return nil, providers.ErrNoEmbeddingProvider
}
