package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	// 避免读取开发机上的 .env
	t.Setenv("ENV_FILE", "/nonexistent/.env")

	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "memory", cfg.Database.Type)
		assert.False(t, cfg.Database.UsesDatabase())
		assert.Equal(t, "mailadmin", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
		assert.Equal(t, int64(1048576), cfg.Provisioning.DefaultQuotaKB)
		assert.Equal(t, 16, cfg.Provisioning.PasswordLength)
		assert.Equal(t, "/var/vmail", cfg.Provisioning.MaildirRoot)
		assert.True(t, cfg.Reload.Enabled)
		assert.Equal(t, []string{"/usr/bin/sudo", "/usr/sbin/doveadm", "reload"}, cfg.Reload.Command)
		assert.Equal(t, 10*time.Second, cfg.Reload.Timeout)
		assert.Equal(t, 5, cfg.Reload.MaxRetries)
		assert.Empty(t, cfg.Database.SeedDomains)
		assert.Zero(t, cfg.Database.LocalCacheTTL)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", testSecret)
		t.Setenv("MAILADMIN_SERVER_PORT", "9090")
		t.Setenv("MAILADMIN_DATABASE_TYPE", "MariaDB")
		t.Setenv("MAILADMIN_DATABASE_DSN", "mail:secret@tcp(db:3306)/mailserver?parseTime=true")
		t.Setenv("MAILADMIN_CORS_ALLOWED_ORIGINS", "https://admin.example.com, https://ops.example.com")
		t.Setenv("MAILADMIN_RELOAD_COMMAND", "/usr/bin/doveadm reload")
		t.Setenv("MAILADMIN_RELOAD_TIMEOUT", "3s")
		t.Setenv("MAILADMIN_DATABASE_SEED_DOMAINS", "example.com,example.org")
		t.Setenv("MAILADMIN_DATABASE_LOCAL_CACHE_TTL", "30s")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "mysql", cfg.Database.Type)
		assert.True(t, cfg.Database.UsesDatabase())
		assert.Equal(t, []string{"https://admin.example.com", "https://ops.example.com"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, []string{"/usr/bin/doveadm", "reload"}, cfg.Reload.Command)
		assert.Equal(t, 3*time.Second, cfg.Reload.Timeout)
		assert.Equal(t, []string{"example.com", "example.org"}, cfg.Database.SeedDomains)
		assert.Equal(t, 30*time.Second, cfg.Database.LocalCacheTTL)
	})

	t.Run("拒绝默认JWT密钥", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", defaultJWTSecret)

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "default value")
	})

	t.Run("拒绝过短的JWT密钥", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", "short")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least 32 characters")
	})

	t.Run("数据库类型缺少DSN", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", testSecret)
		t.Setenv("MAILADMIN_DATABASE_TYPE", "postgres")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn")
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", testSecret)
		t.Setenv("MAILADMIN_DATABASE_TYPE", "oracle")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("无效的时长", func(t *testing.T) {
		t.Setenv("MAILADMIN_JWT_SECRET", testSecret)
		t.Setenv("MAILADMIN_RELOAD_TIMEOUT", "soon")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "reload.timeout")
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b ,"))
	assert.Empty(t, parseList(""))
}
