package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("merge %s config: %w", env, err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "version-service")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.postgres.max_connections", 20)
	viper.SetDefault("database.postgres.max_idle", 5)
	viper.SetDefault("database.redis.address", "localhost:6379")
	viper.SetDefault("database.redis.enabled", true)
	viper.SetDefault("database.redis.ttl", 5*time.Minute)
	viper.SetDefault("registry.path", "configs/schema-registry.json")
	viper.SetDefault("retention.enabled", false)
	viper.SetDefault("retention.sweep_interval", time.Hour)
	viper.SetDefault("indexing.enabled", false)
	viper.SetDefault("indexing.index", "template-versions")
	viper.SetDefault("metrics.listen_address", ":9090")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// loadEnvFile loads .env from the working directory or any parent, so
// binaries run the same from the repo root and from cmd/ subdirs.
func loadEnvFile() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
