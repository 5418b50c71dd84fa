/*
config.go - Process configuration for the planner server and CLI

PURPOSE:
  One TOML file, then environment overrides, then validation. Every field
  has a default so an empty or missing file is a valid configuration.

FILE LOCATION:
  --config flag, else $XDG_CONFIG_HOME/planner/config.toml, else
  ~/.config/planner/config.toml. A missing file yields Default().

EXAMPLE:
  [server]
  addr = ":8080"
  cors_origins = ["http://localhost:5173"]
  request_timeout = "30s"

  [storage]
  driver = "postgres"
  postgres_dsn = "postgres://localhost:5432/planner"

  [planner]
  default_strategy = "avalanche"
  default_target_utilization = "30"
  urgent_window_days = 21

  [log]
  level = "info"
  format = "json"

ENVIRONMENT OVERRIDES:
  PLANNER_ADDR, PLANNER_STORAGE_DRIVER, PLANNER_SQLITE_PATH,
  PLANNER_POSTGRES_DSN, PLANNER_MONGO_URI, PLANNER_MONGO_DATABASE,
  PLANNER_LOG_LEVEL, PLANNER_LOG_FORMAT
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/ledger"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds all planner configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Planner PlannerConfig `toml:"planner"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	RequestTimeout  Duration `toml:"request_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// StorageConfig selects the backend and holds each driver's settings.
type StorageConfig struct {
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	PostgresDSN   string `toml:"postgres_dsn"`
	MongoURI      string `toml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database"`
}

// PlannerConfig holds the allocation defaults.
type PlannerConfig struct {
	DefaultStrategy          string          `toml:"default_strategy"`
	DefaultTargetUtilization decimal.Decimal `toml:"default_target_utilization"`
	UrgentWindowDays         int             `toml:"urgent_window_days"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration decodes TOML strings such as "15s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			IdleTimeout:     Duration{60 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
			RequestTimeout:  Duration{10 * time.Second},
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Storage: StorageConfig{
			Driver:        DriverSQLite,
			SQLitePath:    "planner.db",
			MongoDatabase: "planner",
		},
		Planner: PlannerConfig{
			DefaultStrategy:          string(ledger.StrategyAvalanche),
			DefaultTargetUtilization: decimal.NewFromInt(30),
			UrgentWindowDays:         21,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planner")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "planner")
}

// DefaultPath returns the full path to the default config file.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads path (DefaultPath when empty), applies environment overrides
// and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("reading config: %w", err)
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("PLANNER_ADDR", &c.Server.Addr)
	set("PLANNER_STORAGE_DRIVER", &c.Storage.Driver)
	set("PLANNER_SQLITE_PATH", &c.Storage.SQLitePath)
	set("PLANNER_POSTGRES_DSN", &c.Storage.PostgresDSN)
	set("PLANNER_MONGO_URI", &c.Storage.MongoURI)
	set("PLANNER_MONGO_DATABASE", &c.Storage.MongoDatabase)
	set("PLANNER_LOG_LEVEL", &c.Log.Level)
	set("PLANNER_LOG_FORMAT", &c.Log.Format)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case DriverMongo:
		if c.Storage.MongoURI == "" || c.Storage.MongoDatabase == "" {
			errs = append(errs, errors.New("storage.mongo_uri and storage.mongo_database are required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres, mongo", c.Storage.Driver))
	}

	if !ledger.Strategy(c.Planner.DefaultStrategy).Valid() {
		errs = append(errs, fmt.Errorf("planner.default_strategy %q is not avalanche or snowball", c.Planner.DefaultStrategy))
	}
	if err := ledger.ValidatePercent("planner.default_target_utilization", decimal.NewNullDecimal(c.Planner.DefaultTargetUtilization)); err != nil {
		errs = append(errs, err)
	}
	if c.Planner.UrgentWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("planner.urgent_window_days must be positive, got %d", c.Planner.UrgentWindowDays))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}
