package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis (optional; empty disables cross-instance locks and pub/sub)
	RedisURL string

	// OpenRouter
	OpenRouterAPIKey         string
	OpenRouterBaseURL        string
	OpenRouterDefaultModel   string
	OpenRouterTimeoutSecs    int
	OpenRouterConcurrentReqs int

	// Telemetry
	OTelServiceName  string
	OTelOTLPEndpoint string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    getEnvOrDefault("REDIS_URL", ""),

		OpenRouterAPIKey:         getEnvOrDefault("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:        getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterDefaultModel:   getEnvOrDefault("OPENROUTER_DEFAULT_MODEL", "openai/gpt-3.5-turbo"),
		OpenRouterTimeoutSecs:    getEnvAsIntOrDefault("OPENROUTER_TIMEOUT_SECONDS", 60),
		OpenRouterConcurrentReqs: getEnvAsIntOrDefault("OPENROUTER_CONCURRENT_REQUESTS", 5),

		OTelServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", "chatrelay-backend"),
		OTelOTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
