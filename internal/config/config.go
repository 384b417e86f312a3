package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/rendersup/internal/logger"
	"github.com/loykin/rendersup/internal/supervisor"
)

// EnvPrefix prefixes environment overrides, e.g. RENDERSUP_SERVER_LISTEN.
const EnvPrefix = "RENDERSUP"

// Recovery modes for a surface.
const (
	RecoveryReload   = "reload"
	RecoveryRecreate = "recreate"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Surfaces   []SurfaceConfig  `toml:"surfaces" mapstructure:"surfaces"`
}

type SupervisorConfig struct {
	GraceWindow time.Duration `toml:"grace_window" mapstructure:"grace_window"`
	HomeURL     string        `toml:"home_url" mapstructure:"home_url"`
	Recovery    string        `toml:"recovery" mapstructure:"recovery"`
	// RecentReports bounds the in-memory report log.
	RecentReports int `toml:"recent_reports" mapstructure:"recent_reports"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// SurfaceConfig declares a bridge surface attached at startup.
type SurfaceConfig struct {
	ID       string `toml:"id" mapstructure:"id"`
	HomeURL  string `toml:"home_url" mapstructure:"home_url"`
	Recovery string `toml:"recovery" mapstructure:"recovery"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.grace_window", supervisor.DefaultGraceWindow)
	v.SetDefault("supervisor.recovery", RecoveryReload)
	v.SetDefault("supervisor.recent_reports", 256)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", true)
}

// Default returns the configuration used when no file is given.
func Default() *FileConfig {
	v := viper.New()
	setDefaults(v)
	var fc FileConfig
	// defaults alone always decode
	_ = v.Unmarshal(&fc)
	return &fc
}

// Load reads a TOML config file. Scalar keys may be overridden from the
// environment with the RENDERSUP_ prefix.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks recovery modes and surface ids.
func (fc *FileConfig) Validate() error {
	if fc.Supervisor.GraceWindow < 0 {
		return errors.New("supervisor.grace_window must not be negative")
	}
	if err := checkRecovery(fc.Supervisor.Recovery); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	seen := make(map[string]struct{}, len(fc.Surfaces))
	for i, s := range fc.Surfaces {
		if s.ID == "" {
			return fmt.Errorf("surfaces[%d] requires id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate surface id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if err := checkRecovery(s.Recovery); err != nil {
			return fmt.Errorf("surface %s: %w", s.ID, err)
		}
	}
	return nil
}

func checkRecovery(mode string) error {
	switch mode {
	case "", RecoveryReload, RecoveryRecreate:
		return nil
	}
	return fmt.Errorf("unknown recovery mode %q", mode)
}

// SupervisorOptions maps the [supervisor] table onto supervisor defaults.
func (fc *FileConfig) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		GraceWindow: fc.Supervisor.GraceWindow,
		HomeURL:     fc.Supervisor.HomeURL,
		Recreate:    fc.Supervisor.Recovery == RecoveryRecreate,
	}
}

// LoggerConfig maps the [log] table onto the logger package.
func (fc *FileConfig) LoggerConfig() logger.Config {
	l := fc.Log
	return logger.Config{
		Level:  l.Level,
		Format: l.Format,
		Color:  l.Color,
		File: logger.FileConfig{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// Recreate returns the surface's recovery override, nil when the surface
// inherits [supervisor] recovery.
func (s SurfaceConfig) Recreate() *bool { return RecreateMode(s.Recovery) }

// RecreateMode maps a recovery mode onto an override; "" yields nil.
func RecreateMode(mode string) *bool {
	if mode == "" {
		return nil
	}
	v := mode == RecoveryRecreate
	return &v
}
