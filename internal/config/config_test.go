package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("INKWELL_DEFAULT_ORG_SLUG", "")

	cfg := Load()

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "all", cfg.DefaultOrgSlug)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, "http://localhost:8000", cfg.CustomFastAPIURL)
	assert.Equal(t, 20, cfg.DBMaxOpenConns)
	assert.False(t, cfg.GitHubEnabled())
	assert.False(t, cfg.StorageEnabled())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("INKWELL_ACCESS_TTL_SECONDS", "60")
	t.Setenv("CUSTOM_FASTAPI_URL", "http://agents:9000")
	t.Setenv("AI_RATE_LIMIT_BURST", "3")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "key")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, time.Minute, cfg.AccessTTL)
	assert.Equal(t, "http://agents:9000", cfg.CustomFastAPIURL)
	assert.Equal(t, 3, cfg.AIRateLimitBurst)
	assert.True(t, cfg.MinioUseSSL)
	assert.True(t, cfg.StorageEnabled())
}
