// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// It is loaded once at startup and passed to components as an immutable
// value; no component reads ambient global state.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Session    SessionConfig    `mapstructure:"session"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Store      StoreConfig      `mapstructure:"store"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Injector   InjectorConfig   `mapstructure:"injector"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Categories []CategoryConfig `mapstructure:"categories"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`
	APIKey      string `mapstructure:"api_key"`
}

// SessionConfig governs the browser session against the live feed.
type SessionConfig struct {
	FeedURL          string `mapstructure:"feed_url"`
	LoginURL         string `mapstructure:"login_url"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	StatePath        string `mapstructure:"state_path"`
	UserAgent        string `mapstructure:"user_agent"`
	NavTimeoutSec    int    `mapstructure:"nav_timeout_seconds"`
	ColumnSelector   string `mapstructure:"column_selector"`
	ItemSelector     string `mapstructure:"item_selector"`
	TextSelector     string `mapstructure:"text_selector"`
	AuthorSelector   string `mapstructure:"author_selector"`
	UsernameSelector string `mapstructure:"username_selector"`
	PasswordSelector string `mapstructure:"password_selector"`
	SubmitSelector   string `mapstructure:"submit_selector"`
}

// CollectorConfig governs the poll loop and session recovery.
type CollectorConfig struct {
	PollIntervalMs         int `mapstructure:"poll_interval_ms"`
	RecentWindow           int `mapstructure:"recent_window"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	MaxRestartAttempts     int `mapstructure:"max_restart_attempts"`
	RestartBackoffMs       int `mapstructure:"restart_backoff_ms"`
}

// PipelineConfig governs the four filter stages.
type PipelineConfig struct {
	IntervalSec     int      `mapstructure:"interval_seconds"`
	AlphaThreshold  float64  `mapstructure:"alpha_threshold"`
	RiskThreshold   int      `mapstructure:"risk_threshold"`
	RiskKeywords    []string `mapstructure:"risk_keywords"`
	NewsMinWords    int      `mapstructure:"news_min_words"`
	NewsMaxAgeHours int      `mapstructure:"news_max_age_hours"`
}

// OracleConfig configures the scoring oracle client.
type OracleConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	TimeoutSec     int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	BackoffMs      int     `mapstructure:"backoff_ms"`
	RequestsPerSec float64 `mapstructure:"requests_per_second"`
}

// MonitorConfig governs the resource watchdog.
type MonitorConfig struct {
	IntervalSec       int     `mapstructure:"interval_seconds"`
	MemoryWarnPct     float64 `mapstructure:"memory_warn_pct"`
	MemoryCriticalPct float64 `mapstructure:"memory_critical_pct"`
	DiskWarnPct       float64 `mapstructure:"disk_warn_pct"`
	DiskPath          string  `mapstructure:"disk_path"`
	RetentionHours    int     `mapstructure:"retention_hours"`
	MaxItemsPerStage  int     `mapstructure:"max_items_per_stage"`
}

// StoreConfig selects and configures item persistence.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // "postgres" or "memory"
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// SinkConfig selects the distribution sink.
type SinkConfig struct {
	Kind      string `mapstructure:"kind"` // "log" or "pubsub"
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// InjectorConfig configures side-channel URL resolution.
type InjectorConfig struct {
	UserAgent  string `mapstructure:"user_agent"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CategoryConfig is one static category definition: keyword list, focus
// descriptors for the oracle, and a tie-break priority (lower wins).
type CategoryConfig struct {
	Name     string   `mapstructure:"name"`
	Priority int      `mapstructure:"priority"`
	Keywords []string `mapstructure:"keywords"`
	Focus    []string `mapstructure:"focus"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALPHAFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("session.user_agent", "alphafeed/0.1")
	v.SetDefault("session.nav_timeout_seconds", 25)
	v.SetDefault("session.state_path", "data/session/state.json")
	v.SetDefault("session.column_selector", "section[data-column]")
	v.SetDefault("session.item_selector", "article[data-item-id]")
	v.SetDefault("session.text_selector", "[data-testid=itemText]")
	v.SetDefault("session.author_selector", "[data-testid=itemAuthor]")
	v.SetDefault("session.username_selector", "input[name=username]")
	v.SetDefault("session.password_selector", "input[name=password]")
	v.SetDefault("session.submit_selector", "button[type=submit]")
	v.SetDefault("collector.poll_interval_ms", 500)
	v.SetDefault("collector.recent_window", 4096)
	v.SetDefault("collector.max_consecutive_failures", 3)
	v.SetDefault("collector.max_restart_attempts", 3)
	v.SetDefault("collector.restart_backoff_ms", 2000)
	v.SetDefault("pipeline.interval_seconds", 30)
	v.SetDefault("pipeline.alpha_threshold", 0.8)
	v.SetDefault("pipeline.risk_threshold", 1)
	v.SetDefault("pipeline.news_min_words", 5)
	v.SetDefault("pipeline.news_max_age_hours", 48)
	v.SetDefault("oracle.timeout_seconds", 10)
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.backoff_ms", 2000)
	v.SetDefault("oracle.requests_per_second", 4)
	v.SetDefault("monitor.interval_seconds", 60)
	v.SetDefault("monitor.memory_warn_pct", 75)
	v.SetDefault("monitor.memory_critical_pct", 90)
	v.SetDefault("monitor.disk_warn_pct", 85)
	v.SetDefault("monitor.disk_path", "/")
	v.SetDefault("monitor.retention_hours", 72)
	v.SetDefault("monitor.max_items_per_stage", 50000)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.table_prefix", "items")
	v.SetDefault("sink.kind", "log")
	v.SetDefault("injector.user_agent", "alphafeed-injector/0.1")
	v.SetDefault("injector.timeout_seconds", 15)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.AuthEnabled && c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key must be set when auth is enabled")
	}
	if c.Collector.PollIntervalMs <= 0 {
		return fmt.Errorf("collector.poll_interval_ms must be > 0")
	}
	if c.Pipeline.AlphaThreshold < 0 || c.Pipeline.AlphaThreshold > 1 {
		return fmt.Errorf("pipeline.alpha_threshold must be in [0,1]")
	}
	if c.Monitor.MemoryCriticalPct < c.Monitor.MemoryWarnPct {
		return fmt.Errorf("monitor.memory_critical_pct must be >= memory_warn_pct")
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "postgres" {
		return fmt.Errorf("store.driver must be memory or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.driver is postgres")
	}
	if c.Sink.Kind != "log" && c.Sink.Kind != "pubsub" {
		return fmt.Errorf("sink.kind must be log or pubsub")
	}
	if c.Sink.Kind == "pubsub" && (c.Sink.ProjectID == "" || c.Sink.Topic == "") {
		return fmt.Errorf("sink.project_id and sink.topic are required when sink.kind is pubsub")
	}
	names := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("categories entries must have a name")
		}
		if _, dup := names[cat.Name]; dup {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		names[cat.Name] = struct{}{}
	}
	return nil
}

// PollInterval returns the collector poll cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Collector.PollIntervalMs) * time.Millisecond
}

// PipelineInterval returns the cadence of pipeline runs.
func (c Config) PipelineInterval() time.Duration {
	return time.Duration(c.Pipeline.IntervalSec) * time.Second
}

// RetentionWindow returns the item retention window for pruning.
func (c Config) RetentionWindow() time.Duration {
	return time.Duration(c.Monitor.RetentionHours) * time.Hour
}
