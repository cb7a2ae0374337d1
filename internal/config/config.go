package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete bidsc tool configuration (v1 schema).
// Acquisition-parameter grouping rules live in the separate grouping
// configuration; this file only carries tool-level settings.
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	// GroupingLevel is "subject" or "session". At "subject" level the
	// session entity is excluded from entity-set strings.
	GroupingLevel string `json:"groupingLevel" mapstructure:"groupingLevel"`

	// GroupingConfigPath optionally points at a YAML/JSON/TOML grouping
	// configuration; empty means the built-in default.
	GroupingConfigPath string `json:"groupingConfigPath" mapstructure:"groupingConfigPath"`

	Cache   CacheConfig   `json:"cache" mapstructure:"cache"`
	Output  OutputConfig  `json:"output" mapstructure:"output"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// CacheConfig contains scan-cache configuration
type CacheConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// OutputConfig contains table output configuration
type OutputConfig struct {
	// Prefix is prepended to derived table filenames (<prefix>_summary.tsv etc.)
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:       1,
		GroupingLevel: "subject",
		Cache: CacheConfig{
			Enabled: true,
		},
		Output: OutputConfig{
			Prefix: "bidsc",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <datasetRoot>/.bidsc/config.json,
// returning defaults when no config file exists.
func LoadConfig(datasetRoot string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)
	v.SetDefault("groupingLevel", "subject")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("output.prefix", "bidsc")
	v.SetDefault("logging.format", "human")
	v.SetDefault("logging.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(datasetRoot, ".bidsc"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to <datasetRoot>/.bidsc/config.json
func (c *Config) Save(datasetRoot string) error {
	dir := filepath.Join(datasetRoot, ".bidsc")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.GroupingLevel != "subject" && c.GroupingLevel != "session" {
		return &ConfigError{Field: "groupingLevel", Message: "must be \"subject\" or \"session\""}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
