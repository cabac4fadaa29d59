package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "assessflow-api", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 0.5, cfg.Assessment.ConfidenceThresholdLow)
	assert.Equal(t, 0.8, cfg.Assessment.ConfidenceThresholdHigh)
	assert.Equal(t, 2, cfg.Assessment.MaxClarifications)
	assert.Equal(t, 3, cfg.Assessment.InterpretMaxRetries)
	assert.Equal(t, 3, cfg.Assessment.MaxSessionErrors)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("APP_ENV", "development")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("CONFIDENCE_THRESHOLD_LOW", "0.4")
	t.Setenv("CONFIDENCE_THRESHOLD_HIGH", "0.9")
	t.Setenv("MAX_CLARIFICATIONS_PER_QUESTION", "1")
	t.Setenv("DB_SSLMODE", "disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.4, cfg.Assessment.ConfidenceThresholdLow)
	assert.Equal(t, 0.9, cfg.Assessment.ConfidenceThresholdHigh)
	assert.Equal(t, 1, cfg.Assessment.MaxClarifications)
	assert.Contains(t, cfg.Database.DSN(), "sslmode=disable")
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("APP_ENV", "development")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("APP_ENV", "development")
	t.Setenv("CONFIDENCE_THRESHOLD_LOW", "0.9")
	t.Setenv("CONFIDENCE_THRESHOLD_HIGH", "0.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIDENCE_THRESHOLD_LOW")
}

func TestLoadProductionGuards(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}
