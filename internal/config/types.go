package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Filename    string            `yaml:"-"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Engine      EngineConfig      `yaml:"engine"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Browser     BrowserConfig     `yaml:"browser"`
	Fetcher     FetcherConfig     `yaml:"fetcher"`
	Proxies     ProxyPoolConfig   `yaml:"proxies"`
	Storage     StorageConfig     `yaml:"storage"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// ServerConfig holds the control-plane HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	FileOutput bool   `yaml:"file_output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// EngineConfig holds engine-wide worker limits
type EngineConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// SchedulerConfig holds cadence and dispatch configuration
type SchedulerConfig struct {
	Cadence         CadenceConfig `yaml:"cadence"`
	JitterPercent   float64       `yaml:"jitter_percent"`
	StartupSplayMax time.Duration `yaml:"startup_splay_max"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// CadenceConfig maps account priority to base scrape interval; higher
// priority scrapes more often
type CadenceConfig struct {
	Priority1 time.Duration `yaml:"priority_1"`
	Priority2 time.Duration `yaml:"priority_2"`
	Priority3 time.Duration `yaml:"priority_3"`
	Priority4 time.Duration `yaml:"priority_4"`
	Priority5 time.Duration `yaml:"priority_5"`
}

// IntervalFor returns the base interval for a priority; unknown
// priorities fall back to the slowest cadence
func (c *CadenceConfig) IntervalFor(priority int) time.Duration {
	switch priority {
	case 5:
		return c.Priority5
	case 4:
		return c.Priority4
	case 3:
		return c.Priority3
	case 2:
		return c.Priority2
	case 1:
		return c.Priority1
	default:
		return c.Priority1
	}
}

// BrowserConfig holds headless browser pool configuration
type BrowserConfig struct {
	MaxBrowsers        int           `yaml:"max_browsers"`
	MaxPagesPerBrowser int           `yaml:"max_pages_per_browser"`
	MaxBrowserAge      time.Duration `yaml:"max_browser_age"`
	BrowserResetCount  int           `yaml:"browser_reset_count"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout"`
	Headless           bool          `yaml:"headless"`
	BlockResources     bool          `yaml:"block_resources"`
	UserAgent          string        `yaml:"user_agent"`
}

// FetcherConfig holds profile extraction configuration. Selectors are
// configuration, not contract; extraction failures surface as parse
// errors.
type FetcherConfig struct {
	BaseURL             string          `yaml:"base_url"`
	MaxRecentPosts      int             `yaml:"max_recent_posts"`
	MaxScrollIterations int             `yaml:"max_scroll_iterations"`
	Selectors           SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig names the DOM selectors used for extraction
type SelectorsConfig struct {
	DisplayName   string `yaml:"display_name"`
	Bio           string `yaml:"bio"`
	Location      string `yaml:"location"`
	Website       string `yaml:"website"`
	JoinDate      string `yaml:"join_date"`
	Verified      string `yaml:"verified"`
	FollowersStat string `yaml:"followers_stat"`
	FollowingStat string `yaml:"following_stat"`
	PostsStat     string `yaml:"posts_stat"`
	PostCell      string `yaml:"post_cell"`
	Promoted      string `yaml:"promoted"`
	SocialContext string `yaml:"social_context"`
	LikeCount     string `yaml:"like_count"`
	RetweetCount  string `yaml:"retweet_count"`
	ReplyCount    string `yaml:"reply_count"`
}

// ProxyPoolConfig holds proxy rotation and health configuration
type ProxyPoolConfig struct {
	File                string        `yaml:"file"`
	WatchFile           bool          `yaml:"watch_file"`
	HealthCheckURL      string        `yaml:"health_check_url"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	MinRequestInterval  time.Duration `yaml:"min_request_interval"`
	MaxRequestInterval  time.Duration `yaml:"max_request_interval"`
	MaxUsagePerProxy    int64         `yaml:"max_usage_per_proxy"`
	CoolingPeriod       time.Duration `yaml:"cooling_period"`
	RecheckDelay        time.Duration `yaml:"recheck_delay"`
}

// StorageConfig selects the persistence wiring
type StorageConfig struct {
	Accounts AccountStorageConfig `yaml:"accounts"`
	Samples  SampleStorageConfig  `yaml:"samples"`
}

// AccountStorageConfig selects the durable account/rule store
type AccountStorageConfig struct {
	Type string `yaml:"type"` // memory | sqlite
	Path string `yaml:"path"`
}

// SampleStorageConfig selects the sample store backing
type SampleStorageConfig struct {
	Type      string `yaml:"type"` // memory | redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// AlertsConfig holds alert dispatch configuration
type AlertsConfig struct {
	ThrottleWindow time.Duration `yaml:"throttle_window"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}
