package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ChatConfig carries everything the chat engine and its console loop need.
// All durations are plain integer seconds/milliseconds so the TOML stays
// readable and the env overrides stay trivial.
type ChatConfig struct {
	BasePort               int    `mapstructure:"base_port"`
	ChunkSize              int    `mapstructure:"chunk_size"`
	TransferTimeoutSeconds int    `mapstructure:"transfer_timeout_seconds"`
	HoldoffMillis          int    `mapstructure:"holdoff_millis"`
	WriteRetryLimit        int    `mapstructure:"write_retry_limit"`
	NameProbeLimit         int    `mapstructure:"name_probe_limit"`
	DownloadDir            string `mapstructure:"download_dir"`
	ChatLogDir             string `mapstructure:"chat_log_dir"`
	ChatLogEnabled         bool   `mapstructure:"chat_log_enabled"`
	LogLevel               string `mapstructure:"log_level"`
}

func LoadChatConfig(configPath string) (*ChatConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, ".chatbetween"), "config", "toml", "CHATBETWEEN")
	if err != nil {
		return nil, err
	}

	v.SetDefault("base_port", 5777)
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("transfer_timeout_seconds", 10)
	v.SetDefault("holdoff_millis", 10)
	v.SetDefault("write_retry_limit", 20)
	v.SetDefault("name_probe_limit", 20)
	v.SetDefault("download_dir", ".")
	v.SetDefault("chat_log_dir", ".")
	v.SetDefault("chat_log_enabled", true)
	v.SetDefault("log_level", "info")

	var cfg ChatConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.DownloadDir = expandPath(cfg.DownloadDir)
	cfg.ChatLogDir = expandPath(cfg.ChatLogDir)

	return &cfg, nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Save writes the configuration as TOML. An empty path lands in the
// default location under the user's home directory.
func (cfg *ChatConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".chatbetween", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("base_port", cfg.BasePort)
	v.Set("chunk_size", cfg.ChunkSize)
	v.Set("transfer_timeout_seconds", cfg.TransferTimeoutSeconds)
	v.Set("holdoff_millis", cfg.HoldoffMillis)
	v.Set("write_retry_limit", cfg.WriteRetryLimit)
	v.Set("name_probe_limit", cfg.NameProbeLimit)
	v.Set("download_dir", cfg.DownloadDir)
	v.Set("chat_log_dir", cfg.ChatLogDir)
	v.Set("chat_log_enabled", cfg.ChatLogEnabled)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
