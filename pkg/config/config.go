package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// ServiceName is reported in logs and metrics.
const ServiceName = "keyforge"

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Env             string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// AuthConfig holds the credentials used to authenticate callers
type AuthConfig struct {
	AdminAPIKey      string
	RootJWTPublicKey string
	ClockSkew        time.Duration
}

// ProvisionConfig controls how tenant instances are installed on the cluster
type ProvisionConfig struct {
	HelmBin       string
	ChartPath     string
	HelmTimeout   time.Duration
	PollInterval  time.Duration
	ReadyTimeout  time.Duration
	CallTimeout   time.Duration
	Kubeconfig    string
	ClusterDomain string
}

// VaultConfig controls calls to the per-instance vault service
type VaultConfig struct {
	HTTPTimeout      time.Duration
	HealthRetries    int
	HealthRetryDelay time.Duration
	HealthTimeout    time.Duration
}

// RevocationConfig controls pruning of expired revoked tokens
type RevocationConfig struct {
	PruneInterval time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	Auth        AuthConfig
	Provision   ProvisionConfig
	Vault       VaultConfig
	Revocation  RevocationConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

// Load loads configuration from the environment, reading a .env file first when present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional; deployed environments set variables directly
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: ServiceName,
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", ServiceName),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "3000"),
			Env:             getEnv("APP_ENV", "development"),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3001"}),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			AdminAPIKey:      getEnv("ADMIN_API_KEY", ""),
			RootJWTPublicKey: getEnv("ROOT_JWT_PUBLIC_KEY", ""),
			ClockSkew:        getEnvAsDuration("JWT_CLOCK_SKEW", 30*time.Second),
		},
		Provision: ProvisionConfig{
			HelmBin:       getEnv("HELM_BIN", "helm"),
			ChartPath:     getEnv("HELM_CHART_PATH", "./helm-chart"),
			HelmTimeout:   getEnvAsDuration("HELM_TIMEOUT", 5*time.Minute),
			PollInterval:  getEnvAsDuration("READY_POLL_INTERVAL", 2*time.Second),
			ReadyTimeout:  getEnvAsDuration("READY_TIMEOUT", 120*time.Second),
			CallTimeout:   getEnvAsDuration("K8S_CALL_TIMEOUT", 10*time.Second),
			Kubeconfig:    getEnv("KUBECONFIG", ""),
			ClusterDomain: getEnv("CLUSTER_DOMAIN", "svc.cluster.local"),
		},
		Vault: VaultConfig{
			HTTPTimeout:      getEnvAsDuration("VAULT_HTTP_TIMEOUT", 10*time.Second),
			HealthRetries:    getEnvAsInt("VAULT_HEALTH_RETRIES", 3),
			HealthRetryDelay: getEnvAsDuration("VAULT_HEALTH_RETRY_DELAY", 2*time.Second),
			HealthTimeout:    getEnvAsDuration("VAULT_HEALTH_TIMEOUT", 5*time.Second),
		},
		Revocation: RevocationConfig{
			PruneInterval: getEnvAsDuration("REVOCATION_PRUNE_INTERVAL", 1*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", ServiceName),
		},
	}

	return config, nil
}

// Validate reports configuration the server cannot start without
func (c *Config) Validate() error {
	var missing []string
	if c.Auth.AdminAPIKey == "" {
		missing = append(missing, "ADMIN_API_KEY")
	}
	if c.Auth.RootJWTPublicKey == "" {
		missing = append(missing, "ROOT_JWT_PUBLIC_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.Provision.PollInterval <= 0 || c.Provision.ReadyTimeout <= 0 {
		return errors.New("READY_POLL_INTERVAL and READY_TIMEOUT must be positive")
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.String("helm_chart", c.Provision.ChartPath),
		zap.Bool("in_cluster", c.Provision.Kubeconfig == ""),
		zap.Duration("ready_timeout", c.Provision.ReadyTimeout),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get comma separated environment variables
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
