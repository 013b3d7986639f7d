// Package config loads tabink settings from defaults, a JSONC file, a .env
// file and TABINK_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"

	"github.com/bryan-buckman/tabink/internal/storage"
)

// Config holds all configuration options.
type Config struct {
	DataDir     string `json:"data_dir"`
	Record      string `json:"record"`
	Listen      string `json:"listen"`
	LogLevel    string `json:"log_level"`
	PollMinutes int    `json:"poll_minutes"`
}

// Sources tracks which files were loaded.
type Sources struct {
	File    string // config file, empty if none
	EnvFile string // .env file, empty if none
}

// Options controls where Load looks.
type Options struct {
	// Path is an explicit config file. It must exist when set.
	Path string
	// EnvFile is a .env file. Missing files are ignored.
	EnvFile string
	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "TABINK_"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config")
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:     defaultDataDir(),
		Record:      storage.DefaultRecord,
		Listen:      "127.0.0.1:8080",
		LogLevel:    "info",
		PollMinutes: 15,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tabink")
	}
	return ".tabink"
}

// DefaultPath returns the config file read when no explicit path is given.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.json")
}

// Load builds the configuration. Precedence, lowest first: defaults, the
// config file, the .env file, the environment. Command line flags are
// applied by the caller.
func Load(opts Options) (Config, Sources, error) {
	cfg := Default()
	var sources Sources

	path, mustExist := opts.Path, true
	if path == "" {
		path, mustExist = DefaultPath(), false
	}
	fileCfg, loaded, err := loadFile(path, mustExist)
	if err != nil {
		return Config{}, Sources{}, err
	}
	if loaded {
		sources.File = path
		cfg = merge(cfg, fileCfg)
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = values
			sources.EnvFile = opts.EnvFile
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, Sources{}, fmt.Errorf("%w %s: %w", errConfigInvalid, opts.EnvFile, err)
		}
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}

	cfg, err = applyEnv(cfg, env)
	if err != nil {
		return Config{}, Sources{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}
	return cfg, sources, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		if os.IsNotExist(err) {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}
		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, true, nil
}

// Parse decodes a config file. Comments and trailing commas are allowed.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.Record != "" {
		base.Record = overlay.Record
	}
	if overlay.Listen != "" {
		base.Listen = overlay.Listen
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.PollMinutes != 0 {
		base.PollMinutes = overlay.PollMinutes
	}
	return base
}

func applyEnv(cfg Config, env func(string) (string, bool)) (Config, error) {
	var overlay Config
	if v, ok := env("DATA_DIR"); ok {
		overlay.DataDir = v
	}
	if v, ok := env("RECORD"); ok {
		overlay.Record = v
	}
	if v, ok := env("LISTEN"); ok {
		overlay.Listen = v
	}
	if v, ok := env("LOG_LEVEL"); ok {
		overlay.LogLevel = v
	}
	if v, ok := env("POLL_MINUTES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %sPOLL_MINUTES: %w", errConfigInvalid, EnvPrefix, err)
		}
		overlay.PollMinutes = n
	}
	return merge(cfg, overlay), nil
}

// Validate checks a fully merged configuration.
func Validate(cfg Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", errConfigInvalid)
	}
	if strings.ContainsAny(cfg.Record, `/\`) {
		return fmt.Errorf("%w: record %q must be a plain name", errConfigInvalid, cfg.Record)
	}
	if cfg.PollMinutes < 0 {
		return fmt.Errorf("%w: poll_minutes must not be negative", errConfigInvalid)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
