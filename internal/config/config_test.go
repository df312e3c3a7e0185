package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeworks-io/spearlet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, 1024, cfg.Transport.OutboundQueueCapacity)
	assert.Equal(t, 128, cfg.Transport.StreamQueueCapacity)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spearlet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  uuid: "node-1"
  name: "edge-01"
  sms_grpc_addr: "sms.internal:9090"
runtime:
  search_path:
    - /opt/spear/bin
  debug: true
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.Node.UUID)
	assert.Equal(t, "sms.internal:9090", cfg.Node.SMSGRPCAddr)
	assert.True(t, cfg.Runtime.Debug)
	// Defaults not overridden by the file should survive.
	assert.Equal(t, 1024, cfg.Transport.OutboundQueueCapacity)
}

func TestValidateRejectsLopsidedTLS(t *testing.T) {
	cfg := config.Defaults()
	cfg.TLS.CertFile = "cert.pem"
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultsUseMemoryVarStore(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, "memory", cfg.VarStore.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsRedisVarStoreWithoutAddr(t *testing.T) {
	cfg := config.Defaults()
	cfg.VarStore.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg.VarStore.RedisAddr = "redis.internal:6379"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownVarStoreBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.VarStore.Backend = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestLoadOverlaysVarStoreBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spearlet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
var_store:
  backend: redis
  redis_addr: "redis.internal:6379"
  prefix: "myspace"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.VarStore.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.VarStore.RedisAddr)
	assert.Equal(t, "myspace", cfg.VarStore.Prefix)
}
