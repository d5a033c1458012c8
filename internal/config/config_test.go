package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  jwt_secret: secret
database:
  driver: memory
business:
  platform_account_id: 42
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, int64(42), cfg.Business.PlatformAccountID)
	// 默认值
	assert.Equal(t, int64(1000), cfg.Business.MinDeposit)
	assert.Equal(t, "0.02", cfg.Business.CommissionRateDecimal().String())
	assert.Equal(t, "VND", cfg.Business.Currency)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  jwt_secret: from-file
database:
  driver: memory
`)
	t.Setenv("MARKETPAY_SERVER_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing jwt secret", func(t *testing.T) {
		_, err := Load(writeConfig(t, "database:\n  driver: memory\n"))
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  jwt_secret: s\ndatabase:\n  driver: mongo\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestMySQLDSN(t *testing.T) {
	c := MySQLConfig{Host: "db", Port: 3306, User: "u", Password: "p", Database: "marketpay"}
	assert.Equal(t, "u:p@tcp(db:3306)/marketpay?charset=utf8mb4&parseTime=True&loc=Local", c.DSN())
}
