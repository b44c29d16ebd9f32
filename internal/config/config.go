// Package config loads portal settings from WILDWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const prefix = "WILDWATCH_"

type Config struct {
	HTTPAddr     string
	GRPCAddr     string
	BackendURL   string
	BackendWSURL string
	PublicURL    string
	OAuthURL     string

	SessionSecret string

	PostgresDSN   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string

	TokenTTL          time.Duration
	ProfileCacheTTL   time.Duration
	SessionStorageTTL time.Duration
	LogoutTimeout     time.Duration
	BackendTimeout    time.Duration

	CookieSecure bool
	RateBurst    int
	RatePerSec   int

	BackendRateBurst  int
	BackendRatePerSec int
}

// Load reads the environment and reports every missing or malformed variable at once.
func Load() (Config, error) {
	var problems []string
	cfg := Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:      getenv("GRPC_ADDR", ":9090"),
		BackendURL:    strings.TrimRight(getenv("BACKEND_URL", "http://localhost:8081"), "/"),
		PublicURL:     strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:8080"), "/"),
		OAuthURL:      os.Getenv(prefix + "OAUTH_URL"),
		SessionSecret: strings.TrimSpace(os.Getenv(prefix + "SESSION_SECRET")),
		PostgresDSN:   os.Getenv(prefix + "PG_DSN"),
		SQLitePath:    os.Getenv(prefix + "SQLITE_PATH"),
		RedisAddr:     os.Getenv(prefix + "REDIS_ADDR"),
		RedisPassword: os.Getenv(prefix + "REDIS_PASSWORD"),
	}
	cfg.BackendWSURL = getenv("BACKEND_WS_URL", DeriveWebsocketURL(cfg.BackendURL))

	if cfg.SessionSecret == "" {
		problems = append(problems, prefix+"SESSION_SECRET is required")
	} else if len(cfg.SessionSecret) < 16 {
		problems = append(problems, prefix+"SESSION_SECRET must be at least 16 characters")
	}
	for _, kv := range [][2]string{{"BACKEND_URL", cfg.BackendURL}, {"PUBLIC_URL", cfg.PublicURL}} {
		if u, err := url.Parse(kv[1]); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s%s must be an absolute URL, got %q", prefix, kv[0], kv[1]))
		}
	}
	if cfg.PostgresDSN != "" && cfg.SQLitePath != "" {
		problems = append(problems, prefix+"PG_DSN and "+prefix+"SQLITE_PATH are mutually exclusive")
	}

	cfg.TokenTTL = getenvDuration("TOKEN_TTL", 12*time.Hour, &problems)
	cfg.ProfileCacheTTL = getenvDuration("PROFILE_CACHE_TTL", 30*time.Second, &problems)
	cfg.SessionStorageTTL = getenvDuration("SESSION_STORAGE_TTL", 2*time.Hour, &problems)
	cfg.LogoutTimeout = getenvDuration("LOGOUT_TIMEOUT", 3*time.Second, &problems)
	cfg.BackendTimeout = getenvDuration("BACKEND_TIMEOUT", 10*time.Second, &problems)
	cfg.CookieSecure = getenvBool("COOKIE_SECURE", strings.HasPrefix(cfg.PublicURL, "https://"), &problems)
	cfg.RateBurst = getenvInt("RATE_BURST", 40, &problems)
	cfg.RatePerSec = getenvInt("RATE_PER_SEC", 20, &problems)
	cfg.BackendRateBurst = getenvInt("BACKEND_RATE_BURST", 50, &problems)
	cfg.BackendRatePerSec = getenvInt("BACKEND_RATE_PER_SEC", 25, &problems)

	if len(problems) > 0 {
		return Config{}, errors.New("config: " + strings.Join(problems, "; "))
	}
	return cfg, nil
}

// DeriveWebsocketURL maps http(s)://host to ws(s)://host/ws.
func DeriveWebsocketURL(backendURL string) string {
	switch {
	case strings.HasPrefix(backendURL, "https://"):
		return "wss://" + strings.TrimPrefix(backendURL, "https://") + "/ws"
	case strings.HasPrefix(backendURL, "http://"):
		return "ws://" + strings.TrimPrefix(backendURL, "http://") + "/ws"
	}
	return backendURL
}

func getenv(key, fallback string) string {
	if val := os.Getenv(prefix + key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration, problems *[]string) time.Duration {
	if val := os.Getenv(prefix + key); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil || parsed <= 0 {
			*problems = append(*problems, fmt.Sprintf("%s%s: invalid duration %q", prefix, key, val))
			return fallback
		}
		return parsed
	}
	if val := os.Getenv(prefix + key + "_SECONDS"); val != "" {
		seconds, err := strconv.Atoi(val)
		if err != nil || seconds <= 0 {
			*problems = append(*problems, fmt.Sprintf("%s%s_SECONDS: invalid value %q", prefix, key, val))
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func getenvInt(key string, fallback int, problems *[]string) int {
	val := os.Getenv(prefix + key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s%s: invalid positive integer %q", prefix, key, val))
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool, problems *[]string) bool {
	val := os.Getenv(prefix + key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s%s: invalid boolean %q", prefix, key, val))
		return fallback
	}
	return b
}
