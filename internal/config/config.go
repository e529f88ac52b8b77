// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/riskradar/riskradar/internal/risk"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Daily      DailyConfig      `mapstructure:"daily"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig sets where archives and markers are persisted.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// MonitorConfig governs the hourly archiver.
type MonitorConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	LookbackDays    int  `mapstructure:"lookback_days"`
}

// DailyConfig governs the once-daily annotation pass.
type DailyConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Time                string `mapstructure:"time"`
	Timezone            string `mapstructure:"timezone"`
	Workers             int    `mapstructure:"workers"`
	TopK                int    `mapstructure:"top_k"`
	TopicTimeoutSeconds int    `mapstructure:"topic_timeout_seconds"`
}

// ClassifierConfig configures the chat-completions classifier. An empty
// APIKey selects the heuristic-only path.
type ClassifierConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
}

// FeedConfig points at the upstream collaborators. An empty HotlistBaseURL
// with HotlistDir set serves hot lists from the local directory instead.
type FeedConfig struct {
	HotlistBaseURL string `mapstructure:"hotlist_base_url"`
	HotlistDir     string `mapstructure:"hotlist_dir"`
	PostsURL       string `mapstructure:"posts_url"`
}

// RiskConfig carries the scoring weights.
type RiskConfig struct {
	Weights risk.Weights `mapstructure:"weights"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISKRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindAliases(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval_minutes", 5)
	v.SetDefault("monitor.lookback_days", 1)
	v.SetDefault("daily.enabled", true)
	v.SetDefault("daily.time", "09:30")
	v.SetDefault("daily.timezone", "Asia/Shanghai")
	v.SetDefault("daily.workers", 3)
	v.SetDefault("daily.top_k", 50)
	v.SetDefault("daily.topic_timeout_seconds", 60)
	v.SetDefault("feed.hotlist_base_url",
		"https://raw.githubusercontent.com/lxw15337674/weibo-trending-hot-history/refs/heads/master/api")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.timeout_seconds", 30)
	v.SetDefault("classifier.max_attempts", 2)
	v.SetDefault("risk.weights.negative", 0.35)
	v.SetDefault("risk.weights.growth", 0.25)
	v.SetDefault("risk.weights.sensitive", 0.20)
	v.SetDefault("risk.weights.mass_involvement", 0.20)
	v.SetDefault("logging.development", true)
}

// bindAliases accepts the legacy environment names alongside the prefixed
// ones so existing deployments keep working.
func bindAliases(v *viper.Viper) {
	_ = v.BindEnv("daily.time", "RISKRADAR_DAILY_TIME", "DAILY_LLM_TIME")
	_ = v.BindEnv("daily.workers", "RISKRADAR_DAILY_WORKERS", "LLM_ANALYSIS_WORKERS")
	_ = v.BindEnv("daily.top_k", "RISKRADAR_DAILY_TOP_K", "LLM_ANALYSIS_TOP_K")
	_ = v.BindEnv("classifier.api_key", "RISKRADAR_CLASSIFIER_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("classifier.model", "RISKRADAR_CLASSIFIER_MODEL", "OPENAI_MODEL")
	_ = v.BindEnv("classifier.base_url", "RISKRADAR_CLASSIFIER_BASE_URL", "OPENAI_BASE_URL")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Monitor.Enabled && c.Monitor.IntervalMinutes <= 0 {
		return fmt.Errorf("monitor.interval_minutes must be > 0")
	}
	if c.Monitor.LookbackDays < 0 {
		return fmt.Errorf("monitor.lookback_days must be >= 0")
	}
	if c.Daily.Enabled {
		if _, err := time.Parse("15:04", c.Daily.Time); err != nil {
			return fmt.Errorf("daily.time must be HH:MM: %w", err)
		}
		if _, err := time.LoadLocation(c.Daily.Timezone); err != nil {
			return fmt.Errorf("daily.timezone: %w", err)
		}
		if c.Daily.Workers <= 0 {
			return fmt.Errorf("daily.workers must be > 0")
		}
		if c.Daily.TopK < 0 {
			return fmt.Errorf("daily.top_k must be >= 0")
		}
		if c.Daily.TopicTimeoutSeconds <= 0 {
			return fmt.Errorf("daily.topic_timeout_seconds must be > 0")
		}
	}
	if c.Monitor.Enabled && c.Feed.HotlistBaseURL == "" && c.Feed.HotlistDir == "" {
		return fmt.Errorf("feed.hotlist_base_url or feed.hotlist_dir must be set when the monitor is enabled")
	}
	if err := c.Risk.Weights.Validate(); err != nil {
		return fmt.Errorf("risk.weights: %w", err)
	}
	return nil
}

// Location resolves the configured daily timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Daily.Timezone)
}

// MonitorInterval converts the monitor cadence into a duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// TopicTimeout converts the per-topic budget into a duration.
func (c Config) TopicTimeout() time.Duration {
	return time.Duration(c.Daily.TopicTimeoutSeconds) * time.Second
}

// ClassifierTimeout converts the classifier call budget into a duration.
func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}
