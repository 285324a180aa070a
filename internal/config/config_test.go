package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Untitled project", cfg.Project.DefaultTitle)
	assert.Equal(t, 200, cfg.Project.DescriptionLimit)
	assert.Equal(t, 0.15, cfg.Risk.OnTrackMax)
	assert.Equal(t, 0.35, cfg.Risk.AtRiskMax)
	assert.Equal(t, 5, cfg.Store.MaxRetries)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("risk:\n  on_track_max: 0.1\n  at_risk_max: 0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.Risk.OnTrackMax)
	assert.Equal(t, 0.5, cfg.Risk.AtRiskMax)
	assert.Equal(t, 2.0, cfg.Extractor.DefaultHours)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	_, err := FromYAML([]byte("risk:\n  on_track_max: 0.5\n  at_risk_max: 0.2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_track_max")
}

func TestValidateRejectsWebhookWithoutURL(t *testing.T) {
	_, err := FromYAML([]byte("webhooks:\n  - secret: s\n"))
	require.Error(t, err)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "groupsync.yml"), []byte("store:\n  max_retries: 9\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Store.MaxRetries)

	_, err = Load(t.TempDir())
	require.Error(t, err)
}
