package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr            string `json:"addr" yaml:"addr" toml:"addr"`
	ModelID         string `json:"model_id" yaml:"model_id" toml:"model_id"`
	ArtifactBaseURL string `json:"artifact_base_url" yaml:"artifact_base_url" toml:"artifact_base_url"`
	DefaultDevice   string `json:"default_device" yaml:"default_device" toml:"default_device"`
	PreviewMaxPx    int    `json:"preview_max_px" yaml:"preview_max_px" toml:"preview_max_px"`
	StripeRows      int    `json:"stripe_rows" yaml:"stripe_rows" toml:"stripe_rows"`
	LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSEnabled     bool   `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
