package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the weft configuration file (~/.config/weft/config.yaml).
// Scalar overrides use pointers so "not set" is distinguishable from zero.
type Config struct {
	DefaultModel string `yaml:"default_model"`
	ModelsDir    string `yaml:"models_dir"`

	Pooling    string `yaml:"pooling"`
	Normalize  *bool  `yaml:"normalize"`
	MaxContext *int64 `yaml:"max_context"`
	CacheDType string `yaml:"cache_dtype"`

	ServerAddress string `yaml:"server_address"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "weft", "config.yaml")
}

// applyModelConfig applies config file defaults to the shared model flag
// variables when the corresponding CLI flag was not set explicitly.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.DefaultModel != "" && !c.IsSet("model") {
		modelID = cfg.DefaultModel
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		maxContext = *cfg.MaxContext
	}
	if cfg.CacheDType != "" && !c.IsSet("cache-dtype") {
		cacheDType = cfg.CacheDType
	}
}

// applyPoolingConfig applies pooling defaults from the config file.
func applyPoolingConfig(c *cli.Command, cfg Config) {
	if cfg.Pooling != "" && !c.IsSet("pool") {
		poolMode = cfg.Pooling
	}
	if cfg.Normalize != nil && !c.IsSet("normalize") {
		normalize = *cfg.Normalize
	}
}

// applyServeConfig applies server defaults from the config file.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or fails to parse.
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
