package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "chromem", cfg.Sandbox.DefaultBackend)
	assert.NotEmpty(t, cfg.Manager.OffloadDir)
	assert.Equal(t, 384, cfg.Sandbox.Qdrant.VectorSize)
}

func TestLoadYAMLFile(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	dir := filepath.Join(home, ".config", "indexmanager")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "test-config.yaml")
	defer os.Remove(path)

	yamlBody := "manager:\n  max_instances: 5\n  offload_dir: /tmp/idx-offload\nsandbox:\n  default_backend: qdrant\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Manager.MaxInstances)
	assert.Equal(t, "/tmp/idx-offload", cfg.Manager.OffloadDir)
	assert.Equal(t, "qdrant", cfg.Sandbox.DefaultBackend)
}

func TestLoadTOMLFile(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	dir := filepath.Join(home, ".config", "indexmanager")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "test-config.toml")
	defer os.Remove(path)

	tomlBody := "[manager]\nmax_instances = 3\noffload_dir = \"/tmp/idx-offload-toml\"\n"
	require.NoError(t, os.WriteFile(path, []byte(tomlBody), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Manager.MaxInstances)
	assert.Equal(t, "/tmp/idx-offload-toml", cfg.Manager.OffloadDir)
}

func TestLoadRejectsPathOutsideAllowlist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager:\n  offload_dir: /tmp/x\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	dir := filepath.Join(home, ".config", "indexmanager")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "insecure-config.yaml")
	defer os.Remove(path)

	require.NoError(t, os.WriteFile(path, []byte("manager:\n  offload_dir: /tmp/x\n"), 0644))

	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Config{Manager: ManagerConfig{OffloadDir: "/tmp/x"}, Sandbox: SandboxConfig{DefaultBackend: "bogus"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSeedProviderMissingID(t *testing.T) {
	cfg := Config{
		Manager: ManagerConfig{OffloadDir: "/tmp/x"},
		Seed:    []SeedProvider{{Kind: "mock"}},
	}
	assert.Error(t, cfg.Validate())
}
