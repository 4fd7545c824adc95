// Package config loads authd settings from YAML with CODEMINGLE_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CODEMINGLE_"

// Config is the root configuration structure.
type Config struct {
	Environment string         `yaml:"environment"`
	HTTP        HTTPConfig     `yaml:"http"`
	GRPC        GRPCConfig     `yaml:"grpc"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	Cookies     CookieConfig   `yaml:"cookies"`
	Reset       ResetConfig    `yaml:"reset"`
	NATS        NATSConfig     `yaml:"nats"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// HTTPConfig configures the HTTP listener and middleware chain.
type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadTimeoutSec    int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSec   int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSec    int      `yaml:"idle_timeout_seconds"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes"`
	RateLimitPerSec   float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst    int      `yaml:"rate_limit_burst"`
	CORSAllowedOrigin []string `yaml:"cors_allowed_origins"`
	// TrustedProxies lists the peers, as addresses or CIDR prefixes, whose
	// X-Forwarded-For header is believed. Empty means the header is ignored.
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// GRPCConfig configures the gRPC health listener. Empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// AuthConfig holds token, key and password settings.
type AuthConfig struct {
	Issuer                      string `yaml:"issuer"`
	Audience                    string `yaml:"audience"`
	KeyID                       string `yaml:"key_id"`
	AccessTokenValiditySeconds  int    `yaml:"access_token_validity_seconds"`
	RefreshTokenValiditySeconds int    `yaml:"refresh_token_validity_seconds"`
	ResetTokenValiditySeconds   int    `yaml:"reset_token_validity_seconds"`
	PrivateKeyPath              string `yaml:"private_key_path"`
	PublicKeyPath               string `yaml:"public_key_path"`
	// PasswordHashCost is the bcrypt work factor. argon2id ignores it.
	PasswordHashCost            int    `yaml:"password_hash_cost"`
	PasswordAlgorithm           string `yaml:"password_algorithm"`
	PermissionCacheTTLSeconds   int    `yaml:"permission_cache_ttl_seconds"`
	LivePermissions             bool   `yaml:"live_permissions"`
}

// CookieConfig controls the session cookies. Secure defaults to true outside
// development.
type CookieConfig struct {
	Domain string `yaml:"domain"`
	Secure *bool  `yaml:"secure"`
}

// ResetConfig configures password reset mail links.
type ResetConfig struct {
	LinkBaseURL         string `yaml:"link_base_url"`
	PurgeIntervalSecond int    `yaml:"purge_interval_seconds"`
}

// NATSConfig configures event publishing. Empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Environment: "production",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 15,
			IdleTimeoutSec:  60,
			MaxBodyBytes:    1 << 20,
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 50,
			MaxIdleConns: 25,
		},
		Auth: AuthConfig{
			Issuer:                      "codemingle",
			Audience:                    "codemingle",
			KeyID:                       "default",
			AccessTokenValiditySeconds:  3600,
			RefreshTokenValiditySeconds: 86400,
			ResetTokenValiditySeconds:   3600,
			PrivateKeyPath:              "keys/private.pem",
			PublicKeyPath:               "keys/public.pem",
			PasswordHashCost:            12,
			PasswordAlgorithm:           "bcrypt",
		},
		Reset: ResetConfig{
			PurgeIntervalSecond: 3600,
		},
		NATS: NATSConfig{
			SubjectPrefix: "codemingle",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
			return
		}
		*dst = n
	}

	str("ENV", &cfg.Environment)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	str("AUTH_AUDIENCE", &cfg.Auth.Audience)
	str("AUTH_KEY_ID", &cfg.Auth.KeyID)
	str("AUTH_PRIVATE_KEY_PATH", &cfg.Auth.PrivateKeyPath)
	str("AUTH_PUBLIC_KEY_PATH", &cfg.Auth.PublicKeyPath)
	str("AUTH_PASSWORD_ALGORITHM", &cfg.Auth.PasswordAlgorithm)
	num("AUTH_ACCESS_TOKEN_VALIDITY_SECONDS", &cfg.Auth.AccessTokenValiditySeconds)
	num("AUTH_REFRESH_TOKEN_VALIDITY_SECONDS", &cfg.Auth.RefreshTokenValiditySeconds)
	num("AUTH_RESET_TOKEN_VALIDITY_SECONDS", &cfg.Auth.ResetTokenValiditySeconds)
	num("AUTH_PASSWORD_HASH_COST", &cfg.Auth.PasswordHashCost)
	num("AUTH_PERMISSION_CACHE_TTL_SECONDS", &cfg.Auth.PermissionCacheTTLSeconds)
	str("COOKIES_DOMAIN", &cfg.Cookies.Domain)
	str("RESET_LINK_BASE_URL", &cfg.Reset.LinkBaseURL)
	if v, ok := lookup(envPrefix + "HTTP_TRUSTED_PROXIES"); ok && v != "" {
		cfg.HTTP.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.HTTP.TrustedProxies = append(cfg.HTTP.TrustedProxies, p)
			}
		}
	}
	str("NATS_URL", &cfg.NATS.URL)
	str("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if v, ok := lookup(envPrefix + "AUTH_LIVE_PERMISSIONS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sAUTH_LIVE_PERMISSIONS: %v", envPrefix, err))
		} else {
			cfg.Auth.LivePermissions = b
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Auth.PrivateKeyPath == "" || c.Auth.PublicKeyPath == "" {
		errs = append(errs, "auth.private_key_path and auth.public_key_path are required")
	}
	if c.Auth.Issuer == "" || c.Auth.Audience == "" {
		errs = append(errs, "auth.issuer and auth.audience are required")
	}
	if c.Auth.AccessTokenValiditySeconds <= 0 || c.Auth.RefreshTokenValiditySeconds <= 0 || c.Auth.ResetTokenValiditySeconds <= 0 {
		errs = append(errs, "token validity periods must be positive")
	} else if c.Auth.AccessTokenValiditySeconds >= c.Auth.RefreshTokenValiditySeconds {
		errs = append(errs, "auth.access_token_validity_seconds must be shorter than the refresh validity")
	}
	switch strings.ToLower(c.Auth.PasswordAlgorithm) {
	case "bcrypt", "":
		if c.Auth.PasswordHashCost < 4 || c.Auth.PasswordHashCost > 31 {
			errs = append(errs, "auth.password_hash_cost must be between 4 and 31")
		}
	case "argon2id":
	default:
		errs = append(errs, fmt.Sprintf("auth.password_algorithm %q is not supported", c.Auth.PasswordAlgorithm))
	}
	if c.Auth.PermissionCacheTTLSeconds < 0 {
		errs = append(errs, "auth.permission_cache_ttl_seconds must not be negative")
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err.Error())
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, "logging.format must be json or console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Development reports whether the process runs outside production.
func (c *Config) Development() bool {
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// SecureCookies reports whether cookies carry the Secure flag.
func (c *Config) SecureCookies() bool {
	if c.Cookies.Secure != nil {
		return *c.Cookies.Secure
	}
	return !c.Development()
}

func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTokenValiditySeconds) * time.Second
}

func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTokenValiditySeconds) * time.Second
}

func (a AuthConfig) ResetTTL() time.Duration {
	return time.Duration(a.ResetTokenValiditySeconds) * time.Second
}

func (a AuthConfig) PermissionCacheTTL() time.Duration {
	return time.Duration(a.PermissionCacheTTLSeconds) * time.Second
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (h HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, entry := range h.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %q: %v", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %q: %v", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (h HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeoutSec) * time.Second
}

func (h HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutSec) * time.Second
}

func (h HTTPConfig) IdleTimeout() time.Duration {
	return time.Duration(h.IdleTimeoutSec) * time.Second
}

func (r ResetConfig) PurgeInterval() time.Duration {
	return time.Duration(r.PurgeIntervalSecond) * time.Second
}
