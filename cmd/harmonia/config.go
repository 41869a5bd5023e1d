package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all harmonia server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath             string  `json:"db_path"`
	LogLevel           string  `json:"log_level"`
	MaxConcurrentTasks int     `json:"max_concurrent_tasks"`
	CheckpointInterval string  `json:"checkpoint_interval"`
	JitterFraction     float64 `json:"jitter_fraction"`
}

func defaultConfig() Config {
	return Config{
		DBPath:             filepath.Join(harmoniaDir(), "harmonia.db"),
		LogLevel:           "info",
		MaxConcurrentTasks: 10,
		CheckpointInterval: "60s",
		JitterFraction:     0.10,
	}
}

func harmoniaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".harmonia"
	}
	return filepath.Join(home, ".harmonia")
}

func settingsPath() string {
	return filepath.Join(harmoniaDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("HARMONIA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HARMONIA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HARMONIA_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("HARMONIA_CHECKPOINT_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointInterval = v
		}
	}
	if v := os.Getenv("HARMONIA_JITTER_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.JitterFraction = f
		}
	}

	return cfg
}

// checkpointInterval parses the configured interval, falling back to the
// default on garbage from settings.json.
func (c Config) checkpointInterval() time.Duration {
	d, err := time.ParseDuration(c.CheckpointInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// nonDefaultKeys lists the config fields that differ from the defaults, for
// startup logging.
func nonDefaultKeys(cfg Config) []string {
	def := defaultConfig()
	var keys []string
	if cfg.DBPath != def.DBPath {
		keys = append(keys, "db_path")
	}
	if cfg.LogLevel != def.LogLevel {
		keys = append(keys, "log_level")
	}
	if cfg.MaxConcurrentTasks != def.MaxConcurrentTasks {
		keys = append(keys, "max_concurrent_tasks")
	}
	if cfg.CheckpointInterval != def.CheckpointInterval {
		keys = append(keys, "checkpoint_interval")
	}
	if cfg.JitterFraction != def.JitterFraction {
		keys = append(keys, "jitter_fraction")
	}
	return keys
}
