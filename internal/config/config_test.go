package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
app:
  env: test
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "simulator", cfg.Broker.Name)
	assert.Equal(t, 75.0, cfg.Books.Main.Allocation)
	assert.Equal(t, 25.0, cfg.Books.Penny.Allocation)
	assert.Equal(t, 8.0, cfg.Books.Penny.MaxPositionUSD)
	assert.Equal(t, 0.65, cfg.Books.Main.MinConfidence)
	assert.Equal(t, 0.70, cfg.Books.Main.AutoApproveConf)
	assert.Equal(t, 8, cfg.Books.Main.MaxPositions)
	assert.Equal(t, 5, cfg.Books.Penny.MaxPositions)
	assert.Equal(t, 30.0, cfg.Risk.ManualReviewSizePct)
	assert.Equal(t, 2, cfg.Execution.PollIntervalSeconds)
	assert.Equal(t, 90, cfg.Execution.PollTimeoutSeconds)
	assert.False(t, cfg.Risk.AutoApprove)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
books:
  main:
    allocation: 5000
    min_confidence: 0.5
    auto_approve_conf: 0.8
risk:
  auto_approve: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Books.Main.Allocation)
	assert.Equal(t, 0.5, cfg.Books.Main.MinConfidence)
	assert.Equal(t, 0.8, cfg.Books.Main.AutoApproveConf)
	assert.True(t, cfg.Risk.AutoApprove)
	// Untouched book keeps its defaults.
	assert.Equal(t, 25.0, cfg.Books.Penny.Allocation)
}

func TestLoadRejectsBadBroker(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
broker:
  name: etrade
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.name")
}

func TestLoadRejectsAlpacaWithoutKeys(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
broker:
  name: alpaca
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsAutoConfBelowMin(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
books:
  main:
    min_confidence: 0.9
    auto_approve_conf: 0.7
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto_approve_conf")
}

func TestIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
books:
  main:
    allocation: 1000
`), 0o644))
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(main, []byte(`
include:
  - base.yaml
app:
  env: prod
`), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, 1000.0, cfg.Books.Main.Allocation)
}
