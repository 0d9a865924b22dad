package app

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the config file name (without extension)
	ConfigFileName = "config"

	// ConfigDir is the directory for config files, under the user's home
	ConfigDir = ".clipvault"

	// CacheDirName is the default cache directory name, under the
	// platform cache dir
	CacheDirName = "clipvault"

	// DefaultHistorySize is the default cap on non-favorite entries
	DefaultHistorySize = 15

	// DefaultCacheFileSizeLimitMiB is the default index size threshold
	DefaultCacheFileSizeLimitMiB = 10
)

// Config holds application configuration
type Config struct {
	// HistorySize caps the number of non-favorite history entries.
	HistorySize int `mapstructure:"history_size"`

	// CacheFileSizeLimitMiB is the index size, in MiB, past which the
	// history file is rotated aside and history starts over.
	CacheFileSizeLimitMiB int `mapstructure:"cache_file_size_limit_mib"`

	// CacheDir overrides where the history index and blobs live.
	CacheDir string `mapstructure:"cache_dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		HistorySize:           DefaultHistorySize,
		CacheFileSizeLimitMiB: DefaultCacheFileSizeLimitMiB,
		CacheDir:              defaultCacheDir(),
	}
}

// LoadConfig loads configuration from the user's config directory
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(getConfigDir())
}

// LoadConfigFrom loads configuration from the given directory, applying
// defaults for anything unset. A missing config file is not an error.
func LoadConfigFrom(dir string) (*Config, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("history_size", DefaultHistorySize)
	v.SetDefault("cache_file_size_limit_mib", DefaultCacheFileSizeLimitMiB)
	v.SetDefault("cache_dir", defaultCacheDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves configuration to the user's config directory
func SaveConfig(config *Config) error {
	return SaveConfigTo(getConfigDir(), config)
}

// SaveConfigTo saves configuration as YAML in the given directory
func SaveConfigTo(dir string, config *Config) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	v := viper.New()
	v.Set("history_size", config.HistorySize)
	v.Set("cache_file_size_limit_mib", config.CacheFileSizeLimitMiB)
	v.Set("cache_dir", config.CacheDir)

	return v.WriteConfigAs(filepath.Join(dir, ConfigFileName+".yaml"))
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ConfigDir)
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, CacheDirName)
}
