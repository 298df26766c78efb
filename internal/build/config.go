// Package build loads the deploy-time build configuration (modelfile.yaml)
// consumed by the deployment hook and packaging tooling.
package build

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config mirrors modelfile.yaml.
type Config struct {
	Service     string            `yaml:"service"`
	Description string            `yaml:"description"`
	Include     []string          `yaml:"include"`
	Exclude     []string          `yaml:"exclude"`
	Labels      map[string]string `yaml:"labels"`
}

// Load reads and validates a build config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading build config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a build config document. The service field is required.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("malformed build config: %w", err)
	}
	if cfg.Service == "" {
		return nil, fmt.Errorf("build config missing service")
	}
	if len(cfg.Include) == 0 {
		cfg.Include = []string{"*"}
	}
	return &cfg, nil
}
