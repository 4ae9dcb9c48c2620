package config

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	APIBaseURL string
	APIKey     string
	TableID    int
	Debounce   time.Duration
	Redis      Redis
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

func Load(log *zap.Logger) *Config {
	return &Config{
		APIBaseURL: getEnv("API_BASE_URL", log),
		APIKey:     os.Getenv("API_KEY"),
		TableID:    atoiDefault(os.Getenv("TABLE_ID"), 1),
		Debounce:   time.Duration(atoiDefault(os.Getenv("DEBOUNCE_MS"), 300)) * time.Millisecond,
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", log),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       atoiDefault(os.Getenv("REDIS_DB"), 0),
		},
	}
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("required environment variable is not set", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
