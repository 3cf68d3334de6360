package config

import (
	"os"
	"strconv"

	"github.com/ilyakaznacheev/cleanenv"
)

// AppConfig represents the application configuration
type AppConfig struct {
	Port            string `env:"PORT" env-default:"7043"`
	MongoURI        string `env:"MONGODB_URI" env-default:"mongodb://localhost:27017"`
	MongoDatabase   string `env:"MONGODB_DATABASE" env-default:"sanalpos"`
	CallbackBaseURL string `env:"CALLBACK_BASE_URL" env-default:"http://localhost:7043"`
	BinAPIURL       string `env:"BIN_API_URL" env-default:""`
	CorsOrigin      string `env:"CORS_ORIGIN" env-default:"*"`
	EncryptionKey   string `env:"ENCRYPTION_KEY" env-default:""`
	APIKey          string `env:"API_KEY" env-default:""`

	OpenSearchURL  string `env:"OPENSEARCH_URL" env-default:""`
	OpenSearchUser string `env:"OPENSEARCH_USER" env-default:""`
	OpenSearchPass string `env:"OPENSEARCH_PASSWORD" env-default:""`
	EnableLogging  bool   `env:"ENABLE_OPENSEARCH_LOGGING" env-default:"false"`
}

var appConfigInstance *AppConfig

// GetAppConfig returns the application configuration read from the environment
func GetAppConfig() *AppConfig {
	if appConfigInstance == nil {
		cfg := &AppConfig{}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			// fall back to defaults; individual env reads still work
			cfg.Port = GetEnv("PORT", "7043")
		}
		appConfigInstance = cfg
	}
	return appConfigInstance
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
