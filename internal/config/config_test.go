package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTokenExpiry)
	assert.Equal(t, "./uploads", cfg.Upload.Dir)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxFileSize)
	assert.Contains(t, cfg.Upload.AllowedTypes, "image/png")
	assert.Empty(t, cfg.S3.BucketName, "S3 is off by default")
	assert.Empty(t, cfg.Redis.Addr, "Redis is off by default")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", ":9000")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "2h")
	t.Setenv("UPLOAD_MAX_FILE_SIZE", "1048576")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Auth.AccessTokenExpiry)
	assert.Equal(t, int64(1048576), cfg.Upload.MaxFileSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestGetDuration(t *testing.T) {
	t.Run("bare number means seconds", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "90")
		assert.Equal(t, 90*time.Second, getDuration("TEST_DURATION", time.Minute))
	})

	t.Run("go duration string", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "1h30m")
		assert.Equal(t, 90*time.Minute, getDuration("TEST_DURATION", time.Minute))
	})

	t.Run("unset falls back", func(t *testing.T) {
		assert.Equal(t, time.Minute, getDuration("TEST_DURATION_UNSET", time.Minute))
	})
}
