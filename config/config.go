package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the linking service.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Externally reachable base URL, used to build consent callback URLs.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// Pending-consent store. CONSENT_STORE selects "memory" or "redis".
	ConsentStore      string `mapstructure:"CONSENT_STORE"`
	ConsentTTLMinutes int    `mapstructure:"CONSENT_TTL_MIN"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`

	// Base64-encoded 32-byte key for encrypting stored broker secrets.
	SecretsKey string `mapstructure:"SECRETS_KEY"`

	// Upstream broker endpoints. Overridable for testing.
	DhanAuthBaseURL string `mapstructure:"DHAN_AUTH_BASE_URL"`
	DhanAPIBaseURL  string `mapstructure:"DHAN_API_BASE_URL"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/brokerlink/")
	v.AddConfigPath("$HOME/.brokerlink")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/brokerlink_dev")
	v.SetDefault("MONGO_DB_NAME", "brokerlink_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "brokerlink-server")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("CONSENT_STORE", "memory")
	v.SetDefault("CONSENT_TTL_MIN", 15)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DHAN_AUTH_BASE_URL", "https://auth.dhan.co")
	v.SetDefault("DHAN_API_BASE_URL", "https://api.dhan.co/v2")

	if err := v.ReadInConfig(); err != nil {
		// ConfigFileNotFoundError is acceptable, means we use defaults/env vars.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
