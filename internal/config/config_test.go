package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileCommunity, cfg.Profile)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Scoring.Workers)
	assert.Equal(t, domain.MissingReduce, cfg.Scoring.MissingPolicy)
	assert.InDelta(t, 0.25, cfg.Scoring.BatchErrorThreshold, 0.001)
	assert.Equal(t, 15*time.Minute, cfg.Scoring.RunLockTTL)
	assert.InDelta(t, 80, cfg.Scoring.RiskBreachScore, 0.001)
	assert.InDelta(t, 60, cfg.Scoring.ComplianceBreachScore, 0.001)
	assert.Equal(t, "@hourly", cfg.Schedule.RiskCron)
	assert.Equal(t, "@daily", cfg.Schedule.ComplianceCron)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadProProfile(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PRUDENCE_PROFILE", "pro")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.ProfilePro, cfg.Profile)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, 25, cfg.Repository.MaxOpenConns)
	assert.Equal(t, 10*time.Second, cfg.Repository.PostgresConnectTimeout)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
server:
  port: 9090
scoring:
  missing_policy: skip
  run_lock_ttl: 2m
schedule:
  enabled: false
log:
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, domain.MissingSkip, cfg.Scoring.MissingPolicy)
	assert.Equal(t, 2*time.Minute, cfg.Scoring.RunLockTTL)
	assert.False(t, cfg.Schedule.Enabled)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Scoring.Workers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
scoring:
  workers: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("PRUDENCE_SCORING_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scoring.Workers)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRUDENCE_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PRUDENCE_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("UnknownProfile", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("PRUDENCE_PROFILE", "enterprise")

		_, err := Load()
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("UnknownMissingPolicy", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("PRUDENCE_SCORING_MISSING_POLICY", "guess")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing_policy")
	})
}

func TestValidate(t *testing.T) {
	cfg := domain.DefaultConfig()
	assert.NoError(t, Validate(cfg))

	cfg.Server.Port = 0
	cfg.Scoring.BatchErrorThreshold = 1.5
	cfg.Repository.Driver = "mysql"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "batch_error_threshold")
	assert.Contains(t, err.Error(), "repository.driver")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(domain.LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(domain.LogConfig{Level: "info", Format: "json"}))

	assert.Error(t, InitLogger(domain.LogConfig{Level: "invalid", Format: "json"}))
}
