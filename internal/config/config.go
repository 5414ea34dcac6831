package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// Config holds all application configuration
type Config struct {
	Update  UpdateConfig  `mapstructure:"update"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// UpdateConfig holds self-update configuration
type UpdateConfig struct {
	// Repo is the release registry repository in owner/name form.
	Repo string `mapstructure:"repo"`

	// Token overrides the GITHUB_TOKEN environment variable when set.
	Token string `mapstructure:"token"`

	CheckTimeout    time.Duration `mapstructure:"check_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`

	// WaitAttempts and WaitInterval bound the wait for the previous
	// application instance to exit before the swap phase.
	WaitAttempts int           `mapstructure:"wait_attempts"`
	WaitInterval time.Duration `mapstructure:"wait_interval"`

	// FailOnWaitTimeout turns the wait-for-exit timeout into a hard
	// failure instead of a logged warning.
	FailOnWaitTimeout bool `mapstructure:"fail_on_wait_timeout"`

	// PreferLargerAsset keeps the full-package-is-larger selection
	// heuristic. Disable when release packaging makes it unreliable.
	PreferLargerAsset bool `mapstructure:"prefer_larger_asset"`

	// AllowPrerelease lets the updater install prerelease builds.
	AllowPrerelease bool `mapstructure:"allow_prerelease"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InstallDir returns the directory holding the running executable. An
// update always targets the installation the current process runs from.
func InstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// UserDataDir returns the per-user directory for cabplanner state.
func UserDataDir() string {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "cabplanner")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cabplanner")
	}
	return filepath.Join(home, ".cabplanner")
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("update.repo", "bmruszaj/cabplanner")
	v.SetDefault("update.check_timeout", 10*time.Second)
	v.SetDefault("update.download_timeout", 30*time.Second)
	v.SetDefault("update.wait_attempts", 15)
	v.SetDefault("update.wait_interval", time.Second)
	v.SetDefault("update.fail_on_wait_timeout", false)
	v.SetDefault("update.prefer_larger_asset", true)
	v.SetDefault("update.allow_prerelease", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(UserDataDir())
		if dir, err := InstallDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CABPLANNER")

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	err = v.Unmarshal(&config)
	if err != nil {
		return nil, err
	}

	if err := initLogger(&config.Logging); err != nil {
		return nil, err
	}

	return &config, nil
}

// initLogger initializes the logger with the provided configuration
func initLogger(cfg *LoggingConfig) error {
	logConfig := logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Module: "main",
	}

	return logger.Init(logConfig)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Update: UpdateConfig{
			Repo:              "bmruszaj/cabplanner",
			CheckTimeout:      10 * time.Second,
			DownloadTimeout:   30 * time.Second,
			WaitAttempts:      15,
			WaitInterval:      time.Second,
			PreferLargerAsset: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
