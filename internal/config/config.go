// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Tracker() TrackerConfig
	Uploader() UploaderConfig
	Learning() LearningConfig
	Matching() MatchingConfig
	Suggestions() SuggestionsConfig
	Actions() ActionsConfig
	Engagement() EngagementConfig

	// Tracker Setters
	SetTrackerEnabled(bool)
	SetTrackerSessionID(string)

	// Uploader Setters
	SetUploaderEnabled(bool)
	SetUploaderInterval(time.Duration)

	// Suggestions Setters
	SetSuggestionsMinInterval(time.Duration)
}

// Config holds the entire application configuration. Viper populates it via
// mapstructure; access goes through the Interface getters so components can be
// tested against a mock.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	TrackerCfg     TrackerConfig     `mapstructure:"tracker" yaml:"tracker"`
	UploaderCfg    UploaderConfig    `mapstructure:"uploader" yaml:"uploader"`
	LearningCfg    LearningConfig    `mapstructure:"learning" yaml:"learning"`
	MatchingCfg    MatchingConfig    `mapstructure:"matching" yaml:"matching"`
	SuggestionsCfg SuggestionsConfig `mapstructure:"suggestions" yaml:"suggestions"`
	ActionsCfg     ActionsConfig     `mapstructure:"actions" yaml:"actions"`
	EngagementCfg  EngagementConfig  `mapstructure:"engagement" yaml:"engagement"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Tracker() TrackerConfig         { return c.TrackerCfg }
func (c *Config) Uploader() UploaderConfig       { return c.UploaderCfg }
func (c *Config) Learning() LearningConfig       { return c.LearningCfg }
func (c *Config) Matching() MatchingConfig       { return c.MatchingCfg }
func (c *Config) Suggestions() SuggestionsConfig { return c.SuggestionsCfg }
func (c *Config) Actions() ActionsConfig         { return c.ActionsCfg }
func (c *Config) Engagement() EngagementConfig   { return c.EngagementCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetTrackerEnabled(b bool)     { c.TrackerCfg.Enabled = b }
func (c *Config) SetTrackerSessionID(s string) { c.TrackerCfg.SessionID = s }

func (c *Config) SetUploaderEnabled(b bool)           { c.UploaderCfg.Enabled = b }
func (c *Config) SetUploaderInterval(d time.Duration) { c.UploaderCfg.Interval = d }

func (c *Config) SetSuggestionsMinInterval(d time.Duration) {
	c.SuggestionsCfg.MinInterval = d
}

// LoggerConfig holds all settings for structured logging.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`

	Colors ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds connection settings for the Postgres store backing
// event persistence and learned pattern history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// TrackerConfig bounds the in-memory behavioral recorder.
type TrackerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Per-capability gates. A disabled capability is never captured, not
	// merely discarded downstream.
	TrackClicks     bool `mapstructure:"track_clicks" yaml:"track_clicks"`
	TrackInputs     bool `mapstructure:"track_inputs" yaml:"track_inputs"`
	TrackNavigation bool `mapstructure:"track_navigation" yaml:"track_navigation"`

	// SessionID overrides the generated session identifier. Mostly useful
	// for tests and replay tooling.
	SessionID string `mapstructure:"session_id" yaml:"session_id"`

	MaxActions     int `mapstructure:"max_actions" yaml:"max_actions"`
	MaxNavigations int `mapstructure:"max_navigations" yaml:"max_navigations"`

	// BatchDebounce is how long the recorder waits before flushing a burst
	// of events to subscribers.
	BatchDebounce time.Duration `mapstructure:"batch_debounce" yaml:"batch_debounce"`

	// MaxTimeSpent caps the per-event dwell time recorded, guarding
	// against clock skew and abandoned tabs.
	MaxTimeSpent time.Duration `mapstructure:"max_time_spent" yaml:"max_time_spent"`
}

// UploaderConfig controls the batched durable upload of behavioral events.
type UploaderConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// MaxQueued bounds the pending queue. Oldest events are dropped once
	// the bound is hit.
	MaxQueued int `mapstructure:"max_queued" yaml:"max_queued"`
}

// LearningConfig tunes the feedback-driven confidence adjustment.
type LearningConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// FlushThreshold is the number of buffered feedback entries that
	// forces an immediate persistence flush.
	FlushThreshold int           `mapstructure:"flush_threshold" yaml:"flush_threshold"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`

	// RawWeight and LearnedWeight blend detector confidence with learned
	// confidence. They must sum to 1.
	RawWeight     float64 `mapstructure:"raw_weight" yaml:"raw_weight"`
	LearnedWeight float64 `mapstructure:"learned_weight" yaml:"learned_weight"`

	// SuccessRateInfluence scales how far the success rate can push the
	// blended confidence in either direction.
	SuccessRateInfluence float64 `mapstructure:"success_rate_influence" yaml:"success_rate_influence"`
}

// MatchingConfig tunes the pattern matching engine.
type MatchingConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	MaxPatterns   int     `mapstructure:"max_patterns" yaml:"max_patterns"`

	// ScanInterval is the cadence of background trend scans.
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`

	// StreamBuffer caps the rolling match history; when exceeded it is
	// trimmed to StreamTrimTo.
	StreamBuffer int `mapstructure:"stream_buffer" yaml:"stream_buffer"`
	StreamTrimTo int `mapstructure:"stream_trim_to" yaml:"stream_trim_to"`

	// EmergingThreshold is the repeat count at which a pattern in the
	// rolling history is flagged as an emerging trend.
	EmergingThreshold int `mapstructure:"emerging_threshold" yaml:"emerging_threshold"`
}

// SuggestionsConfig throttles the proactive suggestion arbiter.
type SuggestionsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MinInterval is the global gate between any two suggestions.
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`

	// DismissCooldown suppresses a dismissed suggestion id for this long.
	DismissCooldown time.Duration `mapstructure:"dismiss_cooldown" yaml:"dismiss_cooldown"`

	// TypingGrace suppresses suggestions while the user typed within this
	// window.
	TypingGrace time.Duration `mapstructure:"typing_grace" yaml:"typing_grace"`

	// PruneAfter drops dismissal records older than this.
	PruneAfter time.Duration `mapstructure:"prune_after" yaml:"prune_after"`
}

// ActionsConfig bounds the UI action executor.
type ActionsConfig struct {
	// BackendBaseURL prefixes relative endpoints on execute actions.
	BackendBaseURL string        `mapstructure:"backend_base_url" yaml:"backend_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Prefill payload limits.
	MaxPrefillDepth int `mapstructure:"max_prefill_depth" yaml:"max_prefill_depth"`
	MaxPrefillKeys  int `mapstructure:"max_prefill_keys" yaml:"max_prefill_keys"`
	MaxPrefillItems int `mapstructure:"max_prefill_items" yaml:"max_prefill_items"`
}

// EngagementConfig bounds the suggestion engagement tracker.
type EngagementConfig struct {
	// IgnoreAfter converts an unanswered shown suggestion into an ignored
	// verdict.
	IgnoreAfter time.Duration `mapstructure:"ignore_after" yaml:"ignore_after"`

	// MaxEvents caps the in-memory engagement buffer.
	MaxEvents int `mapstructure:"max_events" yaml:"max_events"`

	UploadInterval time.Duration `mapstructure:"upload_interval" yaml:"upload_interval"`
	UploadBatch    int           `mapstructure:"upload_batch" yaml:"upload_batch"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mira-core")
	v.SetDefault("logger.log_file", "mira.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Tracker --
	v.SetDefault("tracker.enabled", true)
	v.SetDefault("tracker.track_clicks", true)
	v.SetDefault("tracker.track_inputs", true)
	v.SetDefault("tracker.track_navigation", true)
	v.SetDefault("tracker.max_actions", 50)
	v.SetDefault("tracker.max_navigations", 20)
	v.SetDefault("tracker.batch_debounce", "100ms")
	v.SetDefault("tracker.max_time_spent", "1h")

	// -- Uploader --
	v.SetDefault("uploader.enabled", true)
	v.SetDefault("uploader.batch_size", 50)
	v.SetDefault("uploader.interval", "30s")
	v.SetDefault("uploader.max_retries", 3)
	v.SetDefault("uploader.retry_delay", "5s")
	v.SetDefault("uploader.max_queued", 1000)

	// -- Learning --
	v.SetDefault("learning.enabled", true)
	v.SetDefault("learning.flush_threshold", 10)
	v.SetDefault("learning.flush_interval", "60s")
	v.SetDefault("learning.raw_weight", 0.6)
	v.SetDefault("learning.learned_weight", 0.4)
	v.SetDefault("learning.success_rate_influence", 0.2)

	// -- Matching --
	v.SetDefault("matching.min_confidence", 0.65)
	v.SetDefault("matching.max_patterns", 5)
	v.SetDefault("matching.scan_interval", "5s")
	v.SetDefault("matching.stream_buffer", 100)
	v.SetDefault("matching.stream_trim_to", 50)
	v.SetDefault("matching.emerging_threshold", 3)

	// -- Suggestions --
	v.SetDefault("suggestions.enabled", true)
	v.SetDefault("suggestions.min_interval", "2m")
	v.SetDefault("suggestions.dismiss_cooldown", "5m")
	v.SetDefault("suggestions.typing_grace", "2s")
	v.SetDefault("suggestions.prune_after", "24h")

	// -- Actions --
	v.SetDefault("actions.backend_base_url", "http://localhost:8080")
	v.SetDefault("actions.request_timeout", "30s")
	v.SetDefault("actions.max_prefill_depth", 3)
	v.SetDefault("actions.max_prefill_keys", 50)
	v.SetDefault("actions.max_prefill_items", 25)

	// -- Engagement --
	v.SetDefault("engagement.ignore_after", "30s")
	v.SetDefault("engagement.max_events", 1000)
	v.SetDefault("engagement.upload_interval", "60s")
	v.SetDefault("engagement.upload_batch", 50)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "MIRA_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.DatabaseCfg.URL == "" {
		cfg.DatabaseCfg.URL = os.Getenv("MIRA_DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.TrackerCfg.MaxActions <= 0 {
		return fmt.Errorf("tracker.max_actions must be a positive integer")
	}
	if c.TrackerCfg.MaxNavigations <= 0 {
		return fmt.Errorf("tracker.max_navigations must be a positive integer")
	}
	if err := c.UploaderCfg.Validate(); err != nil {
		return fmt.Errorf("uploader configuration invalid: %w", err)
	}
	if err := c.LearningCfg.Validate(); err != nil {
		return fmt.Errorf("learning configuration invalid: %w", err)
	}
	if err := c.MatchingCfg.Validate(); err != nil {
		return fmt.Errorf("matching configuration invalid: %w", err)
	}
	if c.SuggestionsCfg.MinInterval < 0 {
		return fmt.Errorf("suggestions.min_interval must not be negative")
	}
	if c.ActionsCfg.MaxPrefillDepth <= 0 {
		return fmt.Errorf("actions.max_prefill_depth must be a positive integer")
	}
	return nil
}

// Validate checks the Uploader configuration.
func (u *UploaderConfig) Validate() error {
	if !u.Enabled {
		return nil
	}
	if u.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be greater than 0")
	}
	if u.Interval <= 0 {
		return fmt.Errorf("interval must be a positive duration")
	}
	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// Validate checks the Learning configuration.
func (l *LearningConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	if l.FlushThreshold <= 0 {
		return fmt.Errorf("flush_threshold must be greater than 0")
	}
	if sum := l.RawWeight + l.LearnedWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("raw_weight and learned_weight must sum to 1, got %.3f", sum)
	}
	if l.SuccessRateInfluence < 0 || l.SuccessRateInfluence > 1 {
		return fmt.Errorf("success_rate_influence must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the Matching configuration.
func (m *MatchingConfig) Validate() error {
	if m.MinConfidence < 0 || m.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0")
	}
	if m.MaxPatterns <= 0 {
		return fmt.Errorf("max_patterns must be greater than 0")
	}
	if m.StreamTrimTo > m.StreamBuffer {
		return fmt.Errorf("stream_trim_to must not exceed stream_buffer")
	}
	return nil
}
