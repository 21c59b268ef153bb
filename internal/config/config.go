// Package config provides agentchatd configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// AGENTCHAT_* environment variables (a .env file in the working directory is
// loaded first when present).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/types"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Payment forwarders. Discard accepts every payment and moves nothing, so
// purchases always succeed. Memory keeps balances in process; only
// addresses seeded through Balances can pay.
const (
	ForwarderDiscard = "discard"
	ForwarderMemory  = "memory"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AGENTCHAT_"

// Config holds all daemon configuration.
type Config struct {
	Addr            string        `env:"ADDR"             yaml:"addr"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	Metrics         bool          `env:"METRICS"          yaml:"metrics"`

	Store         string `env:"STORE"          yaml:"store"`
	SQLitePath    string `env:"SQLITE_PATH"    yaml:"sqlite_path"`
	PostgresDSN   string `env:"POSTGRES_DSN"   yaml:"postgres_dsn"`
	MongoURI      string `env:"MONGO_URI"      yaml:"mongo_uri"`
	MongoDatabase string `env:"MONGO_DATABASE" yaml:"mongo_database"`

	Forwarder     string            `env:"FORWARDER"      yaml:"forwarder"`
	Balances      map[string]string `env:"BALANCES"       yaml:"balances"`
	PluginTimeout time.Duration     `env:"PLUGIN_TIMEOUT" yaml:"plugin_timeout"`

	JWTSecret string `env:"JWT_SECRET" yaml:"jwt_secret"`
	JWTIssuer string `env:"JWT_ISSUER" yaml:"jwt_issuer"`

	LogLevel  string `env:"LOG_LEVEL"  yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT" yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Metrics:         true,
		Store:           StoreSQLite,
		SQLitePath:      "./data/agentchat.db",
		MongoDatabase:   "agentchat",
		Forwarder:       ForwarderDiscard,
		PluginTimeout:   5 * time.Second,
		JWTIssuer:       "agentchat",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads configuration. An empty path falls back to AGENTCHAT_CONFIG;
// with neither set no file is read.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is usable for the selected store
// and logging setup.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("AGENTCHAT_ADDR cannot be empty")
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("AGENTCHAT_SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("AGENTCHAT_POSTGRES_DSN is required for the postgres store")
		}
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errors.New("AGENTCHAT_MONGO_URI and AGENTCHAT_MONGO_DATABASE are required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Forwarder {
	case ForwarderDiscard, ForwarderMemory:
	default:
		return fmt.Errorf("unknown forwarder %q", c.Forwarder)
	}
	if len(c.Balances) > 0 {
		if c.Forwarder != ForwarderMemory {
			return errors.New("AGENTCHAT_BALANCES requires the memory forwarder")
		}
		if _, err := c.Funding(); err != nil {
			return err
		}
	}
	if c.PluginTimeout <= 0 {
		return errors.New("AGENTCHAT_PLUGIN_TIMEOUT must be > 0")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Funding parses Balances into the opening balances of the memory
// forwarder. Amounts are base units in decimal.
func (c *Config) Funding() (map[account.Address]types.Amount, error) {
	out := make(map[account.Address]types.Amount, len(c.Balances))
	for addr, amount := range c.Balances {
		a, err := account.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("balance for %q: %w", addr, err)
		}
		v, err := types.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("balance for %s: %w", addr, err)
		}
		out[a] = v
	}
	return out, nil
}

// RequireSecret reports an error when no token signing secret is set.
func (c *Config) RequireSecret() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("AGENTCHAT_JWT_SECRET must be at least 16 bytes")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
