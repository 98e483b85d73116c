package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ServiceName, cfg.ServiceName)
	assert.Equal(t, 2*time.Second, cfg.Provision.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.Provision.ReadyTimeout)
	assert.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	assert.Equal(t, 3, cfg.Vault.HealthRetries)
	assert.Equal(t, "svc.cluster.local", cfg.Provision.ClusterDomain)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("READY_TIMEOUT", "45s")
	t.Setenv("VAULT_HEALTH_RETRIES", "5")
	t.Setenv("DB_LOG_LEVEL", "silent")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("VAULT_HTTP_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Provision.ReadyTimeout)
	assert.Equal(t, 5, cfg.Vault.HealthRetries)
	assert.Equal(t, logger.Silent, cfg.DB.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Vault.HTTPTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("ADMIN_API_KEY", "")
	t.Setenv("ROOT_JWT_PUBLIC_KEY", "")
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_API_KEY")
	assert.Contains(t, err.Error(), "ROOT_JWT_PUBLIC_KEY")

	cfg.Auth.AdminAPIKey = "k"
	cfg.Auth.RootJWTPublicKey = "pem"
	assert.NoError(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "kf", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=kf sslmode=disable", c.GetDSN())
}
