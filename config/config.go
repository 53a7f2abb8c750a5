// Package config loads llmtoolbox.yaml.
package config

import (
	"errors"
	"fmt"
	"gopkg.in/yaml.v3"
	"io"
	"io/fs"
	"llmtoolbox/clients/ollama"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	DefaultListen       = ":8640"
	DefaultModel        = "llama3.2"
	DefaultDatabase     = "llmtoolbox.db"
	DefaultProbeTimeout = 10 * time.Second
)

type Config struct {
	Listen   string `yaml:"listen"`
	Database string `yaml:"database"`
	Ollama   Ollama `yaml:"ollama"`
	CORS     CORS   `yaml:"cors"`
	Log      Log    `yaml:"log"`
}

type Ollama struct {
	Host         string        `yaml:"host"`
	Model        string        `yaml:"model"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// GenerateTimeout bounds one generation, 0 for none.
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Listen:   DefaultListen,
		Database: DefaultDatabase,
		Ollama: Ollama{
			Host:         ollama.DefaultHost,
			Model:        DefaultModel,
			ProbeTimeout: DefaultProbeTimeout,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Parse overlays data on Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Ollama.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("config: ollama.probe_timeout must be positive, got %s", cfg.Ollama.ProbeTimeout)
	}
	if cfg.Ollama.GenerateTimeout < 0 {
		return nil, fmt.Errorf("config: ollama.generate_timeout must not be negative, got %s", cfg.Ollama.GenerateTimeout)
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("config: log.format must be text or json, got %q", cfg.Log.Format)
	}
	return cfg, nil
}

// Load reads path. A missing file yields Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func (l Log) SlogLevel() (slog.Level, error) {
	var ret slog.Level
	if err := ret.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return ret, nil
}

func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
