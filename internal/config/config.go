package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	DataDir string
	DBPath  string
	LogDir  string

	LogLevel     string
	PollInterval time.Duration
	RunRetention int
	ProbeDelay   time.Duration
	ProbeWindow  time.Duration
	// Platform overrides runtime.GOOS for plan building.
	Platform string
}

// New reads .env files, then config.yaml in the data dir, then DECK_*
// environment variables. Later sources win.
func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	loadEnvFiles(".env")
	dataDir := getEnv("DECK_DATA_DIR", filepath.Join(homeDir, ".deck"))
	loadEnvFiles(filepath.Join(dataDir, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix("DECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("run_retention", 20)
	v.SetDefault("probe_delay", 500*time.Millisecond)
	v.SetDefault("probe_window", 2*time.Second)
	v.SetDefault("platform", runtime.GOOS)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := &Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "deck.db"),
		LogDir:       filepath.Join(dataDir, "logs"),
		LogLevel:     v.GetString("log_level"),
		PollInterval: v.GetDuration("poll_interval"),
		RunRetention: v.GetInt("run_retention"),
		ProbeDelay:   v.GetDuration("probe_delay"),
		ProbeWindow:  v.GetDuration("probe_window"),
		Platform:     v.GetString("platform"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RunRetention <= 0 {
		return fmt.Errorf("run_retention must be positive, got %d", c.RunRetention)
	}
	if c.ProbeDelay < 0 || c.ProbeWindow < 0 {
		return errors.New("probe_delay and probe_window must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	switch c.Platform {
	case "windows", "darwin", "macos", "linux":
	default:
		return fmt.Errorf("unsupported platform %q", c.Platform)
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.LogDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir, "deck.log")
}

// loadEnvFiles loads each file that exists. Variables already in the
// environment are not overwritten.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "warning: unable to read %s: %v\n", path, err)
			}
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
