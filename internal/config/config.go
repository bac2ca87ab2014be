package config

import (
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                        string
	DatabaseURL                 string
	JWTSecret                   string
	RedisAddr                   string
	CoordinationURL             string
	CoordinationSecret          string
	// CoordinationSecretGenerated is set when COORDINATION_SECRET was empty.
	CoordinationSecretGenerated bool
	LogDev                      bool
	LogLevel                    string
	AllowedOrigins              []string
}

func mustGetenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// Load reads .env if present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	port := mustGetenv("PORT", "8080")
	cfg := Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		CoordinationURL:    mustGetenv("COORDINATION_URL", "http://localhost:"+port),
		CoordinationSecret: os.Getenv("COORDINATION_SECRET"),
		LogDev:             os.Getenv("LOG_DEV") == "1" || strings.EqualFold(os.Getenv("LOG_DEV"), "true"),
		LogLevel:           mustGetenv("LOG_LEVEL", "info"),
		AllowedOrigins:     splitList(mustGetenv("CORS_ALLOWED_ORIGINS", "*")),
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if cfg.CoordinationSecret == "" {
		// process-local: only this instance's dispatcher can reach its endpoint
		cfg.CoordinationSecret = uuid.NewString()
		cfg.CoordinationSecretGenerated = true
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
