package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 19843
	DefaultHost = "localhost"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			FileOutput: false,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			MaxWorkers: 3,
		},
		Scheduler: SchedulerConfig{
			Cadence: CadenceConfig{
				Priority5: 1 * time.Hour,
				Priority4: 3 * time.Hour,
				Priority3: 12 * time.Hour,
				Priority2: 24 * time.Hour,
				Priority1: 72 * time.Hour,
			},
			JitterPercent:   0.05,
			StartupSplayMax: 10 * time.Second,
			RetryDelay:      30 * time.Second,
		},
		Browser: BrowserConfig{
			MaxBrowsers:        2,
			MaxPagesPerBrowser: 3,
			MaxBrowserAge:      30 * time.Minute,
			BrowserResetCount:  50,
			NavigationTimeout:  45 * time.Second,
			Headless:           true,
			BlockResources:     true,
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Fetcher: FetcherConfig{
			BaseURL:             "https://x.com",
			MaxRecentPosts:      20,
			MaxScrollIterations: 10,
			Selectors: SelectorsConfig{
				DisplayName:   `[data-testid="UserName"] span`,
				Bio:           `[data-testid="UserDescription"]`,
				Location:      `[data-testid="UserLocation"]`,
				Website:       `[data-testid="UserUrl"]`,
				JoinDate:      `[data-testid="UserJoinDate"]`,
				Verified:      `[data-testid="icon-verified"]`,
				FollowersStat: `a[href$="/verified_followers"] span span`,
				FollowingStat: `a[href$="/following"] span span`,
				PostsStat:     `[data-testid="primaryColumn"] h2 + div`,
				PostCell:      `[data-testid="cellInnerDiv"] article`,
				Promoted:      `[data-testid="placementTracking"]`,
				SocialContext: `[data-testid="socialContext"]`,
				LikeCount:     `[data-testid="like"] span span`,
				RetweetCount:  `[data-testid="retweet"] span span`,
				ReplyCount:    `[data-testid="reply"] span span`,
			},
		},
		Proxies: ProxyPoolConfig{
			File:                "./proxies.json",
			WatchFile:           true,
			HealthCheckURL:      "https://api.ipify.org",
			HealthCheckInterval: 5 * time.Minute,
			HealthCheckTimeout:  10 * time.Second,
			MinRequestInterval:  3 * time.Second,
			MaxRequestInterval:  5 * time.Second,
			MaxUsagePerProxy:    100,
			CoolingPeriod:       10 * time.Minute,
			RecheckDelay:        1 * time.Minute,
		},
		Storage: StorageConfig{
			Accounts: AccountStorageConfig{
				Type: "memory",
				Path: "./perch.db",
			},
			Samples: SampleStorageConfig{
				Type:      "memory",
				RedisAddr: "localhost:6379",
				RedisDB:   0,
			},
		},
		Alerts: AlertsConfig{
			ThrottleWindow: 0,
			WebhookTimeout: 10 * time.Second,
			HistoryLimit:   1000,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Address: ":9090",
			},
		},
		Engineering: EngineeringConfig{
			ShowNerdStats: false,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("PERCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have PERCH_CONFIG_FILE env var
		if configFile := os.Getenv("PERCH_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.Filename = viper.ConfigFileUsed()

	viper.WatchConfig()

	return config, nil
}

// OnChange registers a callback fired when the watched config file
// changes; used for live log-level and worker-count updates
func OnChange(fn func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err == nil {
			fn(cfg)
		}
	})
}
