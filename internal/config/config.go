package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`
	PublicURL   string `mapstructure:"public_url"`

	// Authorization backend (tuple store)
	FGA FGAConfig `mapstructure:"fga"`

	// Identity provider
	FirebaseCredentialsFile string `mapstructure:"firebase_credentials_file"`

	// Auth
	JWTSecret string `mapstructure:"jwt_secret"`

	// Cache TTL tiers, in seconds
	CacheTTLShortSeconds int `mapstructure:"cache_ttl_short_seconds"`
	CacheTTLLongSeconds  int `mapstructure:"cache_ttl_long_seconds"`
}

// FGAConfig points the tuple-store client at the authorization backend.
// StoreID/ModelID empty means the client bootstraps a fresh store and model on
// first use and logs the ids for operators to pin here.
type FGAConfig struct {
	APIURL  string `mapstructure:"api_url"`
	StoreID string `mapstructure:"store_id"`
	ModelID string `mapstructure:"model_id"`
}

// CacheTTLShort returns the short cache tier as a duration.
func (c *Config) CacheTTLShort() time.Duration {
	return time.Duration(c.CacheTTLShortSeconds) * time.Second
}

// CacheTTLLong returns the long cache tier as a duration.
func (c *Config) CacheTTLLong() time.Duration {
	return time.Duration(c.CacheTTLLongSeconds) * time.Second
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so 'go run' works without manually
	// exporting env vars. Missing .env is fine (Production/Docker).
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("fga.api_url", "http://localhost:8081")
	v.SetDefault("cache_ttl_short_seconds", 300) // 5m
	v.SetDefault("cache_ttl_long_seconds", 3600) // 1h

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("envhub")

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("public_url", "PUBLIC_URL")

	_ = v.BindEnv("fga.api_url", "FGA_API_URL")
	_ = v.BindEnv("fga.store_id", "FGA_STORE_ID")
	_ = v.BindEnv("fga.model_id", "FGA_MODEL_ID")

	_ = v.BindEnv("firebase_credentials_file", "FIREBASE_CREDENTIALS_FILE")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")

	_ = v.BindEnv("cache_ttl_short_seconds", "CACHE_TTL_SHORT_SECONDS")
	_ = v.BindEnv("cache_ttl_long_seconds", "CACHE_TTL_LONG_SECONDS")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Backfill environment variables for code that still uses os.Getenv()
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_URL", App.RedisURL)
	setEnvIfEmpty("PORT", App.Port)
	setEnvIfEmpty("FGA_API_URL", App.FGA.APIURL)
	setEnvIfEmpty("FGA_STORE_ID", App.FGA.StoreID)
	setEnvIfEmpty("FGA_MODEL_ID", App.FGA.ModelID)
	setEnvIfEmpty("JWT_SECRET", App.JWTSecret)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
