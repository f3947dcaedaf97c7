package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config's externally-tunable fields in a
// yaml-friendly shape; Clock has no serializable representation and is
// always set to the real clock by LoadConfigYAML.
type yamlConfig struct {
	StageTimeout    time.Duration `yaml:"stageTimeout"`
	Workers         int           `yaml:"workers"`
	EnableOptimizer bool          `yaml:"enableOptimizer"`
}

// LoadConfigYAML reads a Config from a YAML file: operators who don't
// want to construct Config in code can externalize
// StageTimeout/Workers/EnableOptimizer this way.
func LoadConfigYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading config %q: %w", path, err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return nil, fmt.Errorf("pipeline: parsing config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if yc.StageTimeout > 0 {
		cfg.StageTimeout = yc.StageTimeout
	}
	if yc.Workers > 0 {
		cfg.Workers = yc.Workers
	}
	cfg.EnableOptimizer = yc.EnableOptimizer
	return cfg, nil
}
