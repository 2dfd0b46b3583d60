package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memuri.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Gating.MinContentLength)
	assert.Equal(t, 0.85, cfg.Gating.SimilarityThreshold)
	assert.Equal(t, 20, cfg.Retrieval.InitialK)
	assert.Equal(t, 5, cfg.Retrieval.DefaultK)
	assert.Equal(t, 0.7, cfg.Rerank.Alpha)
	assert.Equal(t, 0.3, cfg.Rerank.Beta)
	assert.Equal(t, time.Hour, cfg.Retrain.Interval)
	assert.Equal(t, 256, cfg.Cache.Capacity)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Ops.Listen)
	assert.Equal(t, "memurid", cfg.Telemetry.ServiceName)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
gating:
  min_content_length: 20
  similarity_threshold: 0.9
  skip_words: ["meh"]
retrieval:
  initial_k: 40
rerank:
  alpha: 0.6
  beta: 0.2
  gamma: 0.2
  half_life: 48h
retrain:
  interval: 30m
  min_samples: 10
cache:
  capacity: 512
  ttl: 15m
vectorstore:
  provider: chromem
  path: /tmp/memuri-test
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Gating.MinContentLength)
	assert.Equal(t, 0.9, cfg.Gating.SimilarityThreshold)
	assert.Equal(t, []string{"meh"}, cfg.Gating.SkipWords)
	assert.Equal(t, 40, cfg.Retrieval.InitialK)
	assert.Equal(t, 0.6, cfg.Rerank.Alpha)
	assert.Equal(t, 48*time.Hour, cfg.Rerank.HalfLife)
	assert.Equal(t, 30*time.Minute, cfg.Retrain.Interval)
	assert.Equal(t, 10, cfg.Retrain.MinSamples)
	assert.Equal(t, 512, cfg.Cache.Capacity)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
gating:
  min_content_length: 20
`)
	t.Setenv("MEMURI_GATING_MIN_CONTENT_LENGTH", "30")
	t.Setenv("MEMURI_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Gating.MinContentLength)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memuri.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: loud
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestBuildRuleTableDefaults(t *testing.T) {
	table, err := RulesConfig{}.BuildRuleTable()
	require.NoError(t, err)
	assert.True(t, table.Known(memory.CategoryTask))
	assert.Equal(t, memory.ActionShortTermOnly, table.Rule(memory.CategoryConversation).Action)
}

func TestBuildRuleTableFromConfig(t *testing.T) {
	path := writeConfig(t, `
rules:
  default:
    action: add
    confidence_threshold: 0.4
  categories:
    task:
      action: add
      confidence_threshold: 0.6
      priority: 5
      max_age: 720h
    gossip:
      action: reject
    scratch:
      action: short-term-only
      ttl: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	table, err := cfg.Rules.BuildRuleTable()
	require.NoError(t, err)

	task := table.Rule("task")
	assert.Equal(t, memory.ActionAdd, task.Action)
	assert.Equal(t, 0.6, task.ConfidenceThreshold)
	assert.Equal(t, 720*time.Hour, table.Retention("task").MaxAge)

	assert.Equal(t, memory.ActionReject, table.Rule("gossip").Action)
	assert.Equal(t, 10*time.Minute, table.Rule("scratch").TTL)

	// Unknown categories resolve to the configured default.
	assert.Equal(t, 0.4, table.Rule("unlisted").ConfidenceThreshold)
}

func TestBuildRuleTableRejectsBadAction(t *testing.T) {
	rules := RulesConfig{Categories: map[string]CategoryRuleConfig{
		"task": {Action: "archive"},
	}}
	_, err := rules.BuildRuleTable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown gating action")
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
