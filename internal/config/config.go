// Package config loads the node configuration from a .env file, an optional
// YAML file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// DefaultTransportRetries applies when no retry count is configured.
const DefaultTransportRetries = 2

// Config is the complete node configuration.
type Config struct {
	// NodeURL is the public base URL of this node. Rewritten links and
	// response URLs point here.
	NodeURL    string `yaml:"node_url" env:"OCN_NODE_URL"`
	ListenAddr string `yaml:"listen_addr" env:"OCN_LISTEN_ADDR"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Chain     ChainConfig     `yaml:"chain"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Admin     AdminConfig     `yaml:"admin"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Transport TransportConfig `yaml:"transport"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"OCN_LOG_LEVEL"`
	Format string `yaml:"format" env:"OCN_LOG_FORMAT"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" env:"OCN_STORAGE"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	// RedisURL moves proxy resources to Redis when set.
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

type ProxyConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"OCN_PROXY_TTL,strict"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"OCN_SWEEP_SCHEDULE"`
}

// ChainConfig points the trust registry at a Neo N3 RPC node. When RPCURL is
// empty the node runs with a static registry.
type ChainConfig struct {
	RPCURL           string        `yaml:"rpc_url" env:"NEO_RPC_URL"`
	NetworkID        uint32        `yaml:"network_id" env:"NEO_NETWORK_ID,strict"`
	RegistryContract string        `yaml:"registry_contract" env:"OCN_REGISTRY_CONTRACT"`
	RegistryTimeout  time.Duration `yaml:"registry_timeout" env:"OCN_REGISTRY_TIMEOUT,strict"`
}

type WalletConfig struct {
	PrivateKey    string `yaml:"private_key" env:"OCN_WALLET_PRIVATE_KEY"`
	MasterKeySeed string `yaml:"master_key_seed" env:"OCN_MASTER_KEY_SEED"`
}

type AdminConfig struct {
	Secret string `yaml:"secret" env:"OCN_ADMIN_SECRET"`
	// AllowedOrigins are separated by ";" in the environment.
	AllowedOrigins []string `yaml:"allowed_origins" env:"OCN_ADMIN_ALLOWED_ORIGINS"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"OCN_RATE_LIMIT_RPS,strict"`
	Burst             int `yaml:"burst" env:"OCN_RATE_LIMIT_BURST,strict"`
}

type TransportConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"OCN_TRANSPORT_TIMEOUT,strict"`
	Retries int           `yaml:"retries" env:"OCN_TRANSPORT_RETRIES,strict"`
}

// Load reads .env from the working directory, then the YAML file named by
// OCN_CONFIG_FILE, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(os.Getenv("OCN_CONFIG_FILE"))
}

// LoadFile reads the YAML file at path (skipped when empty) and overlays the
// environment.
func LoadFile(path string) (*Config, error) {
	// Zero is a valid retry count, so its default is set before decoding.
	cfg := &Config{Transport: TransportConfig{Retries: DefaultTransportRetries}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.NodeURL = strings.TrimSuffix(strings.TrimSpace(c.NodeURL), "/")
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
		if c.Storage.DatabaseURL != "" {
			c.Storage.Backend = StoragePostgres
		}
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Proxy.TTL == 0 {
		c.Proxy.TTL = 24 * time.Hour
	}
	if c.Proxy.SweepSchedule == "" {
		c.Proxy.SweepSchedule = "@every 1h"
	}
	if c.Chain.RegistryTimeout == 0 {
		c.Chain.RegistryTimeout = 5 * time.Second
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 30 * time.Second
	}
}

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() error {
	if c.NodeURL == "" {
		return fmt.Errorf("OCN_NODE_URL is required")
	}
	u, err := url.Parse(c.NodeURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("OCN_NODE_URL must be an absolute http(s) URL, got %q", c.NodeURL)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("OCN_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("OCN_STORAGE must be memory or postgres, got %q", c.Storage.Backend)
	}

	if c.Chain.RPCURL != "" && c.Chain.RegistryContract == "" {
		return fmt.Errorf("OCN_REGISTRY_CONTRACT is required when NEO_RPC_URL is set")
	}
	if c.Proxy.TTL < 0 || c.Chain.RegistryTimeout < 0 || c.Transport.Timeout < 0 {
		return fmt.Errorf("durations must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Transport.Retries < 0 {
		return fmt.Errorf("OCN_TRANSPORT_RETRIES must not be negative, got %d", c.Transport.Retries)
	}
	return nil
}

// UseChainRegistry reports whether the Neo registry is configured.
func (c *Config) UseChainRegistry() bool {
	return c.Chain.RPCURL != ""
}
