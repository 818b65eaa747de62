// File: config.go
package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig is read from the environment, with an optional .env file.
type ServerConfig struct {
	AppPort       string
	Image         string
	ImageHosts    []string // hosts a start request may name an image on
	FailTimeout   time.Duration
	ImageTimeout  time.Duration
	DBPath        string
	SessionTTL    time.Duration
	StaticDir     string
	AllowedOrigin string
	LogLevel      string
	LogJSON       bool
}

func loadConfig() *ServerConfig {
	_ = godotenv.Load()
	return configFromEnv(os.Getenv)
}

func configFromEnv(getenv func(string) string) *ServerConfig {
	cfg := &ServerConfig{
		AppPort:       envOr(getenv, "APP_PORT", "28416"),
		Image:         getenv("CAPTCHA_IMAGE"),
		ImageHosts:    envList(getenv, "CAPTCHA_IMAGE_HOSTS"),
		FailTimeout:   envMillis(getenv, "CAPTCHA_FAIL_TIMEOUT_MS", DefaultFailTimeout),
		ImageTimeout:  envMillis(getenv, "CAPTCHA_IMAGE_TIMEOUT_MS", 10*time.Second),
		DBPath:        envOr(getenv, "CAPTCHA_DB_PATH", "captcha.db"),
		SessionTTL:    10 * time.Minute,
		StaticDir:     envOr(getenv, "STATIC_DIR", "./static"),
		AllowedOrigin: getenv("ALLOWED_ORIGIN"),
		LogLevel:      envOr(getenv, "LOG_LEVEL", "info"),
		LogJSON:       getenv("LOG_JSON") == "true",
	}
	if v := getenv("CAPTCHA_SESSION_TTL_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}
	return cfg
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// envList reads a comma-separated list, skipping empty entries.
func envList(getenv func(string) string, key string) []string {
	var out []string
	for _, v := range strings.Split(getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// envMillis reads a positive millisecond count; anything else falls back to def.
func envMillis(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
