package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	EditionServiceURL  string `yaml:"editionServiceURL"`
	IdentityServiceURL string `yaml:"identityServiceURL"`
	ChapterServiceURL  string `yaml:"chapterServiceURL"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	SessionTTL    string `yaml:"sessionTTL"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	DatabaseURL string `yaml:"databaseURL"`

	InternalToken    string `yaml:"internalToken"`
	AttachWorkers    int    `yaml:"attachWorkers"`
	AttachMaxRetries int    `yaml:"attachMaxRetries"`
	AttachStream     string `yaml:"attachStream"`
	AttachRetryDelay string `yaml:"attachRetryDelay"`

	SearchRateLimitPerMinute int `yaml:"searchRateLimitPerMinute"`
	CommitRateLimitPerMinute int `yaml:"commitRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PORTAL_EDITION_SERVICE_URL"); v != "" {
		cfg.EditionServiceURL = v
	}
	if v := os.Getenv("PORTAL_IDENTITY_SERVICE_URL"); v != "" {
		cfg.IdentityServiceURL = v
	}
	if v := os.Getenv("PORTAL_CHAPTER_SERVICE_URL"); v != "" {
		cfg.ChapterServiceURL = v
	}
	if v := os.Getenv("PORTAL_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PORTAL_SESSION_TTL"); v != "" {
		cfg.SessionTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("PORTAL_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("PORTAL_INTERNAL_TOKEN"); v != "" {
		cfg.InternalToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("PORTAL_ATTACH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AttachWorkers = n
		}
	}
	if v := os.Getenv("PORTAL_ATTACH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AttachMaxRetries = n
		}
	}
	if v := os.Getenv("PORTAL_SEARCH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PORTAL_COMMIT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommitRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.EditionServiceURL == "" {
		return errors.New("config: editionServiceURL is required (set in config.yaml)")
	}
	if cfg.IdentityServiceURL == "" {
		return errors.New("config: identityServiceURL is required (set in config.yaml)")
	}
	if cfg.ChapterServiceURL == "" {
		return errors.New("config: chapterServiceURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or PORTAL_AUTH_JWKS_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for sessions, rate limiting, and the retry queue")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required for the attachment outbox")
	}
	if cfg.SearchRateLimitPerMinute < 0 || cfg.CommitRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.AttachWorkers < 0 || cfg.AttachMaxRetries < 0 {
		return errors.New("config: attach worker settings must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseSessionTTL parses the optional wizard session TTL.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// ParseRetryDelay parses the optional attach retry delay.
func ParseRetryDelay(delayStr string) (time.Duration, error) {
	if delayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(delayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid attachRetryDelay duration: %w", err)
	}
	return dur, nil
}
