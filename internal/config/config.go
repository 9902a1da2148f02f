package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for rag-mcp
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Search  SearchConfig  `mapstructure:"search"`
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig holds dispatcher settings
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// SearchConfig holds retrieval settings
type SearchConfig struct {
	DefaultK int     `mapstructure:"default_k"`
	BM25K1   float64 `mapstructure:"bm25_k1"`
	BM25B    float64 `mapstructure:"bm25_b"`
}

// StorageConfig holds store settings
type StorageConfig struct {
	GlobalDBPath       string `mapstructure:"global_db_path"`
	ProjectDBName      string `mapstructure:"project_db_name"`
	MaxSessionMemories int    `mapstructure:"max_session_memories"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: "info",
		},
		Search: SearchConfig{
			DefaultK: 5,
			BM25K1:   1.2,
			BM25B:    0.75,
		},
		Storage: StorageConfig{
			GlobalDBPath:       filepath.Join(configDir(), "global.db"),
			ProjectDBName:      filepath.Join(".rag-mcp", "data.db"),
			MaxSessionMemories: 1000,
		},
	}
}

// Load loads configuration from <config-dir>/rag-mcp/config.toml.
// A missing file is equivalent to defaults; unknown keys are ignored.
func Load() (*Config, error) {
	return LoadFrom(configDir())
}

// LoadFrom loads configuration from a config.toml inside dir.
func LoadFrom(dir string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
		return config, nil
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// ProjectDBPath returns the database path for a project rooted at dir.
func (c *Config) ProjectDBPath(dir string) string {
	return filepath.Join(dir, c.Storage.ProjectDBName)
}

// configDir returns the rag-mcp directory under the user config dir.
func configDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "rag-mcp")
}
