package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "CloudAmp"
	AppTagline     = "Terminal streaming player"
	AppDescription = "A terminal player that streams tracks progressively over HTTP"

	ConfigDir      = ".config/cloudamp"
	ConfigFileName = "config.yml"

	MinVolume = 0.0
	MaxVolume = 1.0
	// DefaultVolume keeps first playback well below full scale.
	DefaultVolume = 0.7

	// DefaultNetworkQuality leaves the adaptive stream timeouts unscaled.
	// Values above 1.0 loosen them for poor connections.
	DefaultNetworkQuality = 1.0
	MinNetworkQuality     = 0.1

	DefaultTokenEnv = "CLOUDAMP_TOKEN"
	historyFileName = "history.db"
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/ysokolov/cloudamp/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// ClampVolume ensures volume is within the valid range [0, 1].
func ClampVolume(volume float64) float64 {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

type Config struct {
	Volume float64 `yaml:"volume"`
	// Visualizer controls whether the frequency analyzer tap (and its
	// goroutine and queues) is created at all.
	Visualizer bool `yaml:"visualizer"`
	// NetworkQualityFactor scales the source's stuck-detection timeouts.
	NetworkQualityFactor float64 `yaml:"network_quality_factor"`
	// HistoryDB is the sqlite file recording played tracks.
	HistoryDB string `yaml:"history_db"`
	// TokenEnv names the environment variable holding the OAuth bearer token.
	TokenEnv string `yaml:"token_env"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)
	if cfg.NetworkQualityFactor < MinNetworkQuality {
		cfg.NetworkQualityFactor = DefaultNetworkQuality
	}
	if cfg.TokenEnv == "" {
		cfg.TokenEnv = DefaultTokenEnv
	}

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:               DefaultVolume,
		Visualizer:           false,
		NetworkQualityFactor: DefaultNetworkQuality,
		HistoryDB:            defaultHistoryPath(),
		TokenEnv:             DefaultTokenEnv,
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFileName
	}
	return filepath.Join(home, ConfigDir, historyFileName)
}
