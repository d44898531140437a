package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOCRED_SIGNING_KEY", strings.Repeat("s", 32))
	t.Setenv("GOCRED_MASTER_KEY", strings.Repeat("m", 32))
}

func TestLoadSettingsDefaultsAndEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GOCRED_ACCESS_TTL", "5m")
	t.Setenv("GOCRED_REDIS__ADDR", "redis:6380")
	t.Setenv("GOCRED_SCOPES", "billing,reports")

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, s.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, s.RefreshTTL)
	assert.Equal(t, "redis:6380", s.Redis.Addr)
	assert.Equal(t, []string{"billing", "reports"}, s.Scopes)
	assert.Equal(t, ":8080", s.Listen)
}

func TestLoadSettingsRejectsShortKeys(t *testing.T) {
	t.Setenv("GOCRED_SIGNING_KEY", "short")
	t.Setenv("GOCRED_MASTER_KEY", strings.Repeat("m", 32))

	_, err := loadSettings()
	require.Error(t, err)
}

func TestLoadSettingsRejectsInvertedTTLs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GOCRED_ACCESS_TTL", "2h")
	t.Setenv("GOCRED_REFRESH_TTL", "1h")

	_, err := loadSettings()
	require.ErrorContains(t, err, "refresh_ttl")
}

func TestEngineConfigIsValid(t *testing.T) {
	setRequiredEnv(t)
	s, err := loadSettings()
	require.NoError(t, err)

	cfg := engineConfig(s)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Metrics.Enabled)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "redis.addr", envKey("GOCRED_REDIS__ADDR"))
	assert.Equal(t, "access_ttl", envKey("GOCRED_ACCESS_TTL"))
}
