// Package config handles loading and validation of service configuration.
// Supports both development (env vars, .env) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"cartsync/internal/catalog"
	"cartsync/internal/totals"
)

// Remote modes.
const (
	RemoteHTTP   = "http"   // talk to the collection service at Remote.BaseURL
	RemoteMemory = "memory" // in-process service, development only
	RemoteOff    = "off"    // always local-only
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheFile   = "file"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
)

// DefaultWishlistWindow is how long a synced wishlist is considered fresh.
const DefaultWishlistWindow = 30 * time.Second

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject   string
	StorefrontID string

	Remote  RemoteConfig
	Cache   CacheConfig
	Pricing totals.Rules

	// WishlistWindow skips wishlist refreshes while the last sync is younger.
	WishlistWindow time.Duration

	Availability catalog.RulesConfig
}

// RemoteConfig configures the collection service client.
// In production, BaseURL and APIKey are loaded from Secret Manager as JSON.
type RemoteConfig struct {
	Mode              string        `json:"mode" toml:"mode"`
	BaseURL           string        `json:"base_url" toml:"base_url"`
	APIKey            string        `json:"api_key" toml:"api_key"`
	ChromeTLS         bool          `json:"chrome_tls" toml:"chrome_tls"`
	RequestsPerSecond float64       `json:"requests_per_second" toml:"requests_per_second"`
	Burst             int           `json:"burst" toml:"burst"`
	Timeout           time.Duration `json:"-" toml:"-"`
}

// CacheConfig selects and configures the local cache backend.
type CacheConfig struct {
	Backend     string        `json:"backend" toml:"backend"`
	Dir         string        `json:"dir" toml:"dir"`
	RedisAddr   string        `json:"redis_addr" toml:"redis_addr"`
	RedisPrefix string        `json:"redis_prefix" toml:"redis_prefix"`
	SQLitePath  string        `json:"sqlite_path" toml:"sqlite_path"`
	Debounce    time.Duration `json:"-" toml:"-"`
	Poll        time.Duration `json:"-" toml:"-"`
}

// fileConfig mirrors the CONFIG_FILE layout. Durations are strings ("250ms").
type fileConfig struct {
	Port           string              `json:"port" toml:"port"`
	Environment    string              `json:"environment" toml:"environment"`
	LogLevel       string              `json:"log_level" toml:"log_level"`
	GCPProject     string              `json:"gcp_project" toml:"gcp_project"`
	StorefrontID   string              `json:"storefront_id" toml:"storefront_id"`
	Remote         remoteFile          `json:"remote" toml:"remote"`
	Cache          cacheFile           `json:"cache" toml:"cache"`
	Pricing        totals.Rules        `json:"pricing" toml:"pricing"`
	WishlistWindow string              `json:"wishlist_window" toml:"wishlist_window"`
	Availability   catalog.RulesConfig `json:"availability" toml:"availability"`
}

type remoteFile struct {
	RemoteConfig
	Timeout string `json:"timeout" toml:"timeout"`
}

type cacheFile struct {
	CacheConfig
	Debounce string `json:"debounce" toml:"debounce"`
	Poll     string `json:"poll" toml:"poll"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// In development a .env file in the working directory is loaded first when present.
func Load(ctx context.Context) (*Config, error) {
	if os.Getenv("ENVIRONMENT") != "production" {
		// Existing variables win over .env entries.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	var (
		cfg *Config
		err error
	)
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		cfg, err = loadFromFile(configPath)
	} else {
		cfg, err = loadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	if cfg.Environment == "production" && cfg.Remote.Mode == RemoteHTTP {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading remote credentials: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults returns a Config with every optional setting filled in.
func defaults() *Config {
	return &Config{
		Port:        "8080",
		Environment: "development",
		LogLevel:    "info",
		Remote: RemoteConfig{
			Mode:    RemoteMemory,
			Timeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     CacheMemory,
			Dir:         ".cartsync",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "cartsync:",
			SQLitePath:  "cartsync.db",
			Debounce:    250 * time.Millisecond,
			Poll:        time.Second,
		},
		Pricing:        totals.DefaultRules(),
		WishlistWindow: DefaultWishlistWindow,
	}
}

// loadFromFile reads all configuration from a JSON or TOML file.
// The format follows the file extension; anything but .toml is JSON.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Pricing keys left out of the file keep their defaults.
	fc := fileConfig{Pricing: totals.DefaultRules()}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := defaults()
	cfg.Port = withDefault(fc.Port, cfg.Port)
	cfg.Environment = withDefault(fc.Environment, cfg.Environment)
	cfg.LogLevel = withDefault(fc.LogLevel, cfg.LogLevel)
	cfg.GCPProject = fc.GCPProject
	cfg.StorefrontID = fc.StorefrontID
	cfg.Availability = fc.Availability
	cfg.Pricing = fc.Pricing

	r := fc.Remote.RemoteConfig
	r.Mode = withDefault(r.Mode, cfg.Remote.Mode)
	r.Timeout = cfg.Remote.Timeout
	cfg.Remote = r

	c := fc.Cache.CacheConfig
	c.Backend = withDefault(c.Backend, cfg.Cache.Backend)
	c.Dir = withDefault(c.Dir, cfg.Cache.Dir)
	c.RedisAddr = withDefault(c.RedisAddr, cfg.Cache.RedisAddr)
	c.RedisPrefix = withDefault(c.RedisPrefix, cfg.Cache.RedisPrefix)
	c.SQLitePath = withDefault(c.SQLitePath, cfg.Cache.SQLitePath)
	c.Debounce = cfg.Cache.Debounce
	c.Poll = cfg.Cache.Poll
	cfg.Cache = c

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"remote.timeout", fc.Remote.Timeout, &cfg.Remote.Timeout},
		{"cache.debounce", fc.Cache.Debounce, &cfg.Cache.Debounce},
		{"cache.poll", fc.Cache.Poll, &cfg.Cache.Poll},
		{"wishlist_window", fc.WishlistWindow, &cfg.WishlistWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// loadFromEnv reads configuration from individual environment variables.
func loadFromEnv() (*Config, error) {
	cfg := defaults()
	cfg.Port = envOrDefault("PORT", cfg.Port)
	cfg.Environment = envOrDefault("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.GCPProject = os.Getenv("GCP_PROJECT")
	cfg.StorefrontID = os.Getenv("STOREFRONT_ID")

	cfg.Remote.Mode = envOrDefault("REMOTE_MODE", cfg.Remote.Mode)
	cfg.Remote.BaseURL = os.Getenv("REMOTE_BASE_URL")
	cfg.Remote.APIKey = os.Getenv("REMOTE_API_KEY")

	cfg.Cache.Backend = envOrDefault("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Dir = envOrDefault("CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.RedisAddr = envOrDefault("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPrefix = envOrDefault("REDIS_PREFIX", cfg.Cache.RedisPrefix)
	cfg.Cache.SQLitePath = envOrDefault("SQLITE_PATH", cfg.Cache.SQLitePath)

	var err error
	if cfg.Remote.ChromeTLS, err = envBool("REMOTE_CHROME_TLS", false); err != nil {
		return nil, err
	}
	if v := os.Getenv("REMOTE_RPS"); v != "" {
		if cfg.Remote.RequestsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("parsing REMOTE_RPS: %w", err)
		}
	}
	if v := os.Getenv("REMOTE_BURST"); v != "" {
		if cfg.Remote.Burst, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parsing REMOTE_BURST: %w", err)
		}
	}

	for name, dst := range map[string]*time.Duration{
		"REMOTE_TIMEOUT":  &cfg.Remote.Timeout,
		"CACHE_DEBOUNCE":  &cfg.Cache.Debounce,
		"CACHE_POLL":      &cfg.Cache.Poll,
		"WISHLIST_WINDOW": &cfg.WishlistWindow,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", name, err)
			}
			*dst = d
		}
	}

	for name, dst := range map[string]*decimal.Decimal{
		"FREE_SHIPPING_THRESHOLD": &cfg.Pricing.FreeShippingThreshold,
		"FLAT_SHIPPING_FEE":       &cfg.Pricing.FlatShippingFee,
		"TAX_RATE":                &cfg.Pricing.TaxRate,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", name, err)
			}
			*dst = d
		}
	}

	// Availability rules as JSON, same shape as the "availability" file section.
	if rulesJSON := os.Getenv("AVAILABILITY_RULES"); rulesJSON != "" {
		if err := json.Unmarshal([]byte(rulesJSON), &cfg.Availability); err != nil {
			return nil, fmt.Errorf("parsing AVAILABILITY_RULES JSON: %w", err)
		}
	}

	return cfg, nil
}

// remoteSecret is the Secret Manager payload.
type remoteSecret struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// loadFromSecretManager fetches remote credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{storefront_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	if c.StorefrontID == "" {
		return fmt.Errorf("STOREFRONT_ID required to locate the secret")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StorefrontID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}
	return c.applySecret(result.Payload.Data)
}

func (c *Config) applySecret(data []byte) error {
	var s remoteSecret
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	c.Remote.BaseURL = withDefault(s.BaseURL, c.Remote.BaseURL)
	c.Remote.APIKey = withDefault(s.APIKey, c.Remote.APIKey)
	return nil
}

// validate checks that all required configuration fields are present and sane.
func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (debug, info, warn or error)", c.LogLevel)
	}

	switch c.Remote.Mode {
	case RemoteHTTP:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote base_url is required in http mode")
		}
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid remote base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("remote base_url must be http or https, got %q", c.Remote.BaseURL)
		}
	case RemoteMemory:
		if c.Environment == "production" {
			return fmt.Errorf("remote mode %q is for development only", RemoteMemory)
		}
	case RemoteOff:
	default:
		return fmt.Errorf("unsupported remote mode: %s", c.Remote.Mode)
	}
	if c.Remote.RequestsPerSecond < 0 || c.Remote.Burst < 0 {
		return fmt.Errorf("remote rate limit must not be negative")
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache dir is required for the file backend")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis backend")
		}
	case CacheSQLite:
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.Debounce < 0 {
		return fmt.Errorf("cache debounce must not be negative")
	}

	if c.Pricing.FreeShippingThreshold.IsNegative() || c.Pricing.FlatShippingFee.IsNegative() {
		return fmt.Errorf("pricing amounts must not be negative")
	}
	if c.Pricing.TaxRate.IsNegative() || c.Pricing.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tax_rate must be a fraction between 0 and 1")
	}
	if c.WishlistWindow < 0 {
		return fmt.Errorf("wishlist_window must not be negative")
	}

	// Surface bad windows and timezones at startup rather than on first add.
	if _, err := catalog.NewRules(c.Availability, nil); err != nil {
		return fmt.Errorf("invalid availability rules: %w", err)
	}
	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}
