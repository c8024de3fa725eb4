// Package config loads a node's on-disk settings, decoding a single flat
// YAML document straight into a struct rather than a set of typed
// resource manifests.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every setting "raftd serve" can take from a file instead of
// a flag. Zero values mean "not set here"; CLI flags that were explicitly
// passed always win over whatever a file says.
type Config struct {
	Addr           string   `yaml:"addr"`
	DataDir        string   `yaml:"dataDir"`
	Servers        []string `yaml:"servers"`
	MaxLogCapacity int      `yaml:"maxLogCapacity"`
	MetricsAddr    string   `yaml:"metricsAddr"`
	LogLevel       string   `yaml:"logLevel"`
	LogJSON        bool     `yaml:"logJSON"`
}

// Load reads and decodes a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
