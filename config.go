package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config is the debugger's user-level configuration, loaded from ~/.sdbrc
// (see DefaultConfigPath) or the path passed via --config.
type Config struct {
	SourcePaths  []string `yaml:"source_paths"`
	ContextLines int      `yaml:"context_lines"`
	Color        *bool    `yaml:"color"`
}

func defaultConfig() Config {
	return Config{
		SourcePaths:  []string{"."},
		ContextLines: 5,
	}
}

// LoadConfig reads path if it exists, overlaying its values onto the
// defaults. A missing file is not an error — every field just keeps its
// default.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.sdbrc, the config file's conventional
// location when --config isn't given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sdbrc"
	}
	return filepath.Join(home, ".sdbrc")
}
