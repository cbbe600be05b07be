// Package config manages the persistctl configuration and the .persist
// directory structure. It handles loading, saving and initializing it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/persistence/internal/store"
	"github.com/pelletier/go-toml/v2"
)

const (
	PersistDir   = ".persist"
	ConfigFile   = "config"
	SchemaFile   = "schema.toml"
	DatabaseFile = "persist.db"
)

// Config represents the persistctl configuration.
type Config struct {
	Backend     string   `toml:"backend"`
	Database    string   `toml:"database"`
	SchemaFile  string   `toml:"schema_file"`
	LogLevel    string   `toml:"log_level,omitempty"`
	LogFormat   string   `toml:"log_format,omitempty"`
	WebhookURLs []string `toml:"webhook_urls,omitempty"`
	path        string   // path to .persist directory
}

// FindRoot finds the .persist directory by walking up from dir.
func FindRoot(dir string) (string, error) {
	for {
		p := filepath.Join(dir, PersistDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a persist directory (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .persist directory above the
// working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(cwd)
}

// LoadFrom loads the configuration from the .persist directory above dir.
func LoadFrom(dir string) (*Config, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = root
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the backend and logging settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case store.BackendBolt, store.BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, store.BackendBolt, store.BackendSQLite)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Save saves the configuration to disk.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .persist directory.
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the database path. Relative paths are resolved
// against the .persist directory.
func (c *Config) DatabasePath() string {
	return c.resolve(c.Database)
}

// SchemaPath returns the class schema file path.
func (c *Config) SchemaPath() string {
	return c.resolve(c.SchemaFile)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.path, p)
}

// Level returns the configured log level, info by default.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Initialize creates a new .persist directory in dir with the initial
// configuration and an empty class schema file.
func Initialize(dir, backend string) (*Config, error) {
	root := filepath.Join(dir, PersistDir)

	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("persist directory already exists")
	}

	cfg := &Config{
		Backend:    backend,
		Database:   DatabaseFile,
		SchemaFile: SchemaFile,
		LogLevel:   "info",
		LogFormat:  "text",
		path:       root,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .persist directory: %w", err)
	}
	if err := os.WriteFile(cfg.SchemaPath(), []byte(schemaTemplate), 0644); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to write schema file: %w", err)
	}
	if err := cfg.Save(); err != nil {
		os.RemoveAll(root)
		return nil, err
	}
	return cfg, nil
}

const schemaTemplate = `# Class schemas. Example:
#
# [[class]]
# name = "Post"
# model = "entity"
# aggregate_root = true
#
# [[class.property]]
# name = "title"
# type = "string"
`
