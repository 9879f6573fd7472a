package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeDefaultsWithoutFile(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StoreTypeInMemory, cfg.Store.Type)
	assert.False(t, cfg.LLM.MockMode)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 120, cfg.Orchestrator.PhaseTimeoutSec)
	assert.Equal(t, 50, cfg.Revisions.Retain)
	assert.Equal(t, 10, cfg.TaskSweep.StalenessMinutes)
}

func TestInitializeMergesUserValuesOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
llm:
  mock_mode: true
  model: test-model
queue:
  worker_count: 8
revisions:
  retain: 5
`)
	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.True(t, cfg.LLM.MockMode)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, 5, cfg.Revisions.Retain)

	// Untouched sections keep defaults.
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 500, cfg.LLM.Retry.BaseMs)
}

func TestInitializeRedisStoreRequiresAddr(t *testing.T) {
	dir := writeConfig(t, `
store:
  type: remotekv
  redis:
    addr: ""
`)
	// The default addr fills the blank, so this is valid.
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
}

func TestInitializeRejectsUnknownStoreType(t *testing.T) {
	dir := writeConfig(t, `
store:
  type: dynamo
`)
	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.type")
}

func TestInitializeRejectsBadYAML(t *testing.T) {
	dir := writeConfig(t, "llm: [not: a, map")
	_, err := Initialize(dir)
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("WAYFARER_TEST_ADDR", "redis.internal:6379")

	out := ExpandEnv([]byte("addr: {{.WAYFARER_TEST_ADDR}}"))
	assert.Equal(t, "addr: redis.internal:6379", string(out))

	// Missing variables expand to empty, literal $ is untouched.
	out = ExpandEnv([]byte("password: p@ss$word\naddr: {{.WAYFARER_TEST_MISSING}}"))
	assert.Equal(t, "password: p@ss$word\naddr: ", string(out))
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "500ms", cfg.LLM.Retry.Base().String())
	assert.Equal(t, "2m0s", cfg.Orchestrator.PhaseTimeout().String())
}
