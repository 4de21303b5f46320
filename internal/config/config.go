package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Keys understood in runbar.yaml, RUNBAR_* variables and flags.
const (
	KeyDataDir    = "data_dir"
	KeyLogLevel   = "log_level"
	KeyLogFile    = "log_file"
	KeyAddr       = "addr"
	KeyOnConflict = "on_conflict"
)

const appDataDirName = "runbar"

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "RUNBAR"

// Config holds process-wide settings that are not part of the registry
type Config struct {
	DataDir    string `mapstructure:"data_dir"`
	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"`
	Addr       string `mapstructure:"addr"`
	OnConflict string `mapstructure:"on_conflict"` // ignore, adopt, kill, or empty to ask
}

// appDataDir returns the platform-specific application data path for Runbar.
func appDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDataDirName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDataDirName), nil
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, appDataDirName), nil
	}
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyAddr, "127.0.0.1:7420")
	v.SetDefault(KeyOnConflict, "")
}

// Init prepares v to read runbar.yaml from the working directory or the data
// dir, plus RUNBAR_* environment variables. file overrides the search.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("runbar")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := appDataDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config: %w", err)
		}
	}
	return nil
}

// Load resolves the configuration from v and creates the data directory.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		dir, err := appDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "logs", "runbar.log")
	}

	// Ensure directories exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}
