package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the ckpt configuration file (~/.config/ckpt/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Store
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`

	// Inference
	NCtx *int64 `yaml:"n_ctx"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ckpt", "config.yaml")
}

// applyStoreConfig applies config file defaults to store and logging
// variables when the corresponding CLI flag was not explicitly set.
func applyStoreConfig(c *cli.Command, cfg Config) {
	if cfg.Dir != "" && !c.IsSet("dir") {
		storeDir = cfg.Dir
	}
	if cfg.Bucket != "" && !c.IsSet("bucket") {
		bucket = cfg.Bucket
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyStoreConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
