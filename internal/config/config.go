// Package config reads server settings from flags, falling back to environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the server settings
type Config struct {
	Addr            string
	DatabaseURL     string
	JWTSecret       string
	AuctionDuration time.Duration
	SweepInterval   time.Duration
	NATSURL         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LogLevel        slog.Level

	// GeneratedSecret is set when no JWT secret was configured
	GeneratedSecret bool
}

// Load parses args; any flag left unset takes its value from the environment
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	addr := fs.String("addr", GetEnv("SERVER_ADDR", ":8080"), "listen address")
	databaseURL := fs.String("database-url", GetEnv("DATABASE_URL", ""), "PostgreSQL connection string (in-memory store if empty)")
	jwtSecret := fs.String("jwt-secret", GetEnv("JWT_SECRET", ""), "JWT signing key (auto-generated if empty)")
	durationMinutes := fs.Int("auction-duration-minutes", GetEnvInt("AUCTION_DURATION_MINUTES", 10), "auction length after the first bid")
	sweepMillis := fs.Int("sweep-interval-ms", GetEnvInt("SWEEP_INTERVAL_MS", 60000), "period between expiry sweeps")
	natsURL := fs.String("nats-url", GetEnv("NATS_URL", ""), "NATS server for notifications (disabled if empty)")
	redisAddr := fs.String("redis-addr", GetEnv("REDIS_ADDR", ""), "Redis address for notifications (disabled if empty)")
	redisPassword := fs.String("redis-password", GetEnv("REDIS_PASSWORD", ""), "Redis password")
	redisDB := fs.Int("redis-db", GetEnvInt("REDIS_DB", 0), "Redis database number")
	logLevel := fs.String("log-level", GetEnv("LOG_LEVEL", "info"), "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:            *addr,
		DatabaseURL:     *databaseURL,
		JWTSecret:       *jwtSecret,
		AuctionDuration: time.Duration(*durationMinutes) * time.Minute,
		SweepInterval:   time.Duration(*sweepMillis) * time.Millisecond,
		NATSURL:         *natsURL,
		RedisAddr:       *redisAddr,
		RedisPassword:   *redisPassword,
		RedisDB:         *redisDB,
	}

	if *durationMinutes <= 0 {
		return nil, errors.New("auction duration must be positive")
	}
	if *sweepMillis <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	if *redisDB < 0 {
		return nil, errors.New("redis db cannot be negative")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}

	if cfg.JWTSecret == "" {
		secret, err := generateSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.GeneratedSecret = true
	}

	return cfg, nil
}

// GetEnv returns the variable's value or fallback when it is unset or empty
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// GetEnvInt is GetEnv for integers; unparsable values fall back
func GetEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
