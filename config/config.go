/*
config.go - Configuration for the txengine CLI and HTTP server

FORMAT:
  YAML, with a JSON fallback for files that do not parse as YAML.

    engine:
      duplicate_policy: reject   # reject | overwrite
      shards: 1                  # >1 processes clients in parallel
    log:
      level: info
      format: json               # json | console
    output:
      path: ""                   # empty writes balances to stdout
    journal:
      type: none                 # none | memory | sqlite
      db_path: payments.db
    server:
      port: 8080
      allowed_origins: ["http://localhost:3000"]

  Fields missing from a file keep their Default() values. Command-line
  flags override both.
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/warp/payments-engine/logging"
	"github.com/warp/payments-engine/payment"
)

const (
	JournalNone   = "none"
	JournalMemory = "memory"
	JournalSQLite = "sqlite"
)

type Config struct {
	Engine  EngineConfig   `json:"engine" yaml:"engine"`
	Log     logging.Config `json:"log" yaml:"log"`
	Output  OutputConfig   `json:"output" yaml:"output"`
	Journal JournalConfig  `json:"journal" yaml:"journal"`
	Server  ServerConfig   `json:"server" yaml:"server"`
}

type EngineConfig struct {
	DuplicatePolicy string `json:"duplicate_policy" yaml:"duplicate_policy"`
	Shards          int    `json:"shards" yaml:"shards"`
}

type OutputConfig struct {
	Path string `json:"path" yaml:"path"`
}

type JournalConfig struct {
	Type   string `json:"type" yaml:"type"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type ServerConfig struct {
	Port           int      `json:"port" yaml:"port"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DuplicatePolicy: string(payment.DuplicateReject),
			Shards:          1,
		},
		Log: logging.Config{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		Journal: JournalConfig{
			Type:   JournalNone,
			DBPath: "payments.db",
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of Default().
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := payment.ParseDuplicatePolicy(c.Engine.DuplicatePolicy); err != nil {
		return fmt.Errorf("engine.duplicate_policy: %w", err)
	}
	if c.Engine.Shards < 1 {
		return fmt.Errorf("engine.shards must be at least 1")
	}

	if c.Log.Level != "" {
		var level zapcore.Level
		if err := level.Set(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch c.Log.Format {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}

	switch c.Journal.Type {
	case "", JournalNone, JournalMemory:
	case JournalSQLite:
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for sqlite journal")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'memory' or 'sqlite'")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}

// EngineOptions translates the engine section into payment.Engine options.
// Call Validate first; an invalid duplicate policy falls back to reject.
func (c *Config) EngineOptions(logger *zap.Logger) []payment.Option {
	policy, err := payment.ParseDuplicatePolicy(c.Engine.DuplicatePolicy)
	if err != nil {
		policy = payment.DuplicateReject
	}
	return []payment.Option{
		payment.WithDuplicatePolicy(policy),
		payment.WithLogger(logger),
	}
}
