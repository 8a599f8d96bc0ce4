package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.Decode(value.Value)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for presaled. Environment variables
// prefixed with PRESALE_ override the file, e.g. PRESALE_AUTH_JWT_SECRET.
type Config struct {
	Env           string          `yaml:"env"`
	ListenAddress string          `yaml:"listen" split_words:"true"`
	SchedulePath  string          `yaml:"schedule" split_words:"true"`
	Owner         string          `yaml:"owner"`
	Vault         string          `yaml:"vault"`
	Treasury      string          `yaml:"treasury"`
	State         StateConfig     `yaml:"state"`
	Database      DatabaseConfig  `yaml:"database"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Feeds         []FeedConfig    `yaml:"feeds" ignored:"true"`
	Genesis       []GenesisEntry  `yaml:"genesis" ignored:"true"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Stream        StreamConfig    `yaml:"stream"`
	Export        ExportConfig    `yaml:"export"`
}

// StateConfig selects the sale state backend.
type StateConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// DatabaseConfig selects the ledger and journal database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

// AuthConfig configures owner bearer tokens.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" split_words:"true"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	Leeway    Duration `yaml:"leeway"`
}

// RateLimitConfig bounds buyer requests per client address. Forwarding
// headers are trusted only from TrustedProxies.
type RateLimitConfig struct {
	RPS            float64  `yaml:"rps"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies" split_words:"true"`
}

// OracleConfig tunes the price cache.
type OracleConfig struct {
	Refresh Duration `yaml:"refresh"`
	Timeout Duration `yaml:"timeout"`
}

// FeedConfig binds a payment currency to a price source.
type FeedConfig struct {
	Currency string `yaml:"currency"`
	Type     string `yaml:"type"`
	// Endpoint is the JSON-RPC URL for chainlink feeds or the API base for
	// coingecko.
	Endpoint string `yaml:"endpoint"`
	// Address is the aggregator contract for chainlink feeds.
	Address string `yaml:"address"`
	// ID is the upstream asset identifier for coingecko.
	ID string `yaml:"id"`
	// Rate is the fixed USD price for static feeds.
	Rate string `yaml:"rate"`
}

// GenesisEntry seeds a ledger balance at first start.
type GenesisEntry struct {
	Address string `yaml:"address"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
}

// LoggingConfig controls log level and the optional rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" split_words:"true"`
	MaxBackups int    `yaml:"max_backups" split_words:"true"`
	MaxAgeDays int    `yaml:"max_age_days" split_words:"true"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Headers     string  `yaml:"headers"`
	Insecure    bool    `yaml:"insecure"`
	Metrics     bool    `yaml:"metrics"`
	Traces      bool    `yaml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio" split_words:"true"`
}

// StreamConfig controls the websocket event stream.
type StreamConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
	Backlog        int      `yaml:"backlog"`
	WriteTimeout   Duration `yaml:"write_timeout" split_words:"true"`
}

// ExportConfig controls receipt exports.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads configuration from the supplied path and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := envconfig.Process("presale", &cfg); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8085"
	}
	if cfg.State.Driver == "" {
		cfg.State.Driver = "leveldb"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "/var/data/presale-state"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" && cfg.Database.Path == "" {
		cfg.Database.Path = "/var/data/presale.sqlite"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "presaled"
	}
	if cfg.Auth.Leeway.Duration == 0 {
		cfg.Auth.Leeway.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit.RPS = 5
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Oracle.Refresh.Duration == 0 {
		cfg.Oracle.Refresh.Duration = 30 * time.Second
	}
	if cfg.Oracle.Timeout.Duration == 0 {
		cfg.Oracle.Timeout.Duration = 10 * time.Second
	}
	if cfg.Stream.Backlog <= 0 {
		cfg.Stream.Backlog = 256
	}
	if cfg.Stream.WriteTimeout.Duration == 0 {
		cfg.Stream.WriteTimeout.Duration = 5 * time.Second
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "/var/data/presale-exports"
	}
}

func validate(cfg Config) error {
	for field, raw := range map[string]string{"owner": cfg.Owner, "vault": cfg.Vault, "treasury": cfg.Treasury} {
		if err := validAddress(raw); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret must be configured")
	}
	switch cfg.State.Driver {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("unsupported state driver %q", cfg.State.Driver)
	}
	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return fmt.Errorf("database.dsn must be configured for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	for i, proxy := range cfg.RateLimit.TrustedProxies {
		entry := strings.TrimSpace(proxy)
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("rate_limit.trusted_proxies[%d]: invalid address %q", i, proxy)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i, feed := range cfg.Feeds {
		symbol := strings.ToUpper(strings.TrimSpace(feed.Currency))
		if symbol == "" {
			return fmt.Errorf("feeds[%d]: currency required", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("feeds[%d]: duplicate feed for %s", i, symbol)
		}
		seen[symbol] = struct{}{}
	}
	for i, entry := range cfg.Genesis {
		if err := validAddress(entry.Address); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if strings.TrimSpace(entry.Asset) == "" || strings.TrimSpace(entry.Amount) == "" {
			return fmt.Errorf("genesis[%d]: asset and amount required", i)
		}
	}
	return nil
}

func validAddress(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return fmt.Errorf("invalid address %q", raw)
	}
	if common.HexToAddress(trimmed) == (common.Address{}) {
		return fmt.Errorf("zero address not allowed")
	}
	return nil
}

// Address parses a validated address field.
func Address(raw string) common.Address {
	return common.HexToAddress(strings.TrimSpace(raw))
}
