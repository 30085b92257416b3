package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Detect.BatchSize)
	assert.Equal(t, 50, cfg.Detect.MinConfidence)
	assert.Equal(t, 70, cfg.Detect.EscalateConfidence)
	assert.Equal(t, 3, cfg.Ingest.MaxRetries)
	assert.Equal(t, "catalog.yaml", cfg.Ingest.CatalogPath)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LEXVEILLE_DETECT_MIN_CONFIDENCE", "60")
	t.Setenv("LEXVEILLE_STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Detect.MinConfidence)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoad_EnvCredentials(t *testing.T) {
	// Credentials have no config-file defaults; the env override must still
	// reach them.
	t.Setenv("LEXVEILLE_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("LEXVEILLE_NOTION_TOKEN", "secret-token")
	t.Setenv("LEXVEILLE_NOTION_INCIDENT_DB", "db-incidents")
	t.Setenv("LEXVEILLE_NOTION_ALERT_DB", "db-alerts")
	t.Setenv("LEXVEILLE_STORE_DATABASE_URL", "postgres://localhost/lexveille")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
	assert.Equal(t, "secret-token", cfg.Notion.Token)
	assert.Equal(t, "db-incidents", cfg.Notion.IncidentDB)
	assert.Equal(t, "db-alerts", cfg.Notion.AlertDB)
	assert.Equal(t, "postgres://localhost/lexveille", cfg.Store.DatabaseURL)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nonsense", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_ConsoleFormat(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
}
