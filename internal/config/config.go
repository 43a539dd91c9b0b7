// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-harvester/internal/jitter"
)

// Config captures every knob of the harvester.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Inputs    InputsConfig    `mapstructure:"inputs"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Session   SessionConfig   `mapstructure:"session"`
	Challenge ChallengeConfig `mapstructure:"challenge"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Simple    SimpleConfig    `mapstructure:"simple"`
	Output    OutputConfig    `mapstructure:"output"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls the HTTP surface of the serve command.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the batch endpoint with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// InputsConfig names the keyword and place lists.
type InputsConfig struct {
	KeywordsFile string `mapstructure:"keywords_file"`
	PlacesFile   string `mapstructure:"places_file"`
}

// ScrapeConfig governs the multi-session strategy.
type ScrapeConfig struct {
	SearchURL   string       `mapstructure:"search_url"`
	Pages       int          `mapstructure:"pages"`
	Concurrency int          `mapstructure:"concurrency"`
	Jitter      jitter.Range `mapstructure:"jitter"`
	ComboDelay  jitter.Range `mapstructure:"combo_delay"`
}

// SessionConfig configures each browser session.
type SessionConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ChromePath        string        `mapstructure:"chrome_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	Width             int           `mapstructure:"width"`
	Height            int           `mapstructure:"height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	Settle            jitter.Range  `mapstructure:"settle"`
}

// ChallengeConfig tunes the interstitial handler.
type ChallengeConfig struct {
	Marker       string        `mapstructure:"marker"`
	Pause        jitter.Range  `mapstructure:"pause"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ProxyConfig locates the proxy list.
type ProxyConfig struct {
	FeedURL     string        `mapstructure:"feed_url"`
	File        string        `mapstructure:"file"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFailures int           `mapstructure:"max_failures"`
	Required    bool          `mapstructure:"required"`
}

// SimpleConfig governs the synchronous crawler.
type SimpleConfig struct {
	SearchURL   string        `mapstructure:"search_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	Rate        float64       `mapstructure:"rate"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// OutputConfig chooses where CSV artifacts land. A bucket wins over Dir.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig controls the optional Postgres sink.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	PageTable string `mapstructure:"page_table"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables run summaries on a topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WebhookConfig enables final delivery over HTTP.
type WebhookConfig struct {
	URL           string        `mapstructure:"url"`
	JSONTimeout   time.Duration `mapstructure:"json_timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

// ProgressConfig sizes the event hub.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Load builds a Config from an optional file and HARVESTER_* variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("inputs.keywords_file", "keywords.csv")
	v.SetDefault("inputs.places_file", "pst.csv")

	v.SetDefault("scrape.search_url", "https://www.yellowpages.com/search")
	v.SetDefault("scrape.pages", 20)
	v.SetDefault("scrape.concurrency", 2)
	v.SetDefault("scrape.jitter.min", time.Duration(0))
	v.SetDefault("scrape.jitter.max", 5*time.Second)
	v.SetDefault("scrape.combo_delay.min", 30*time.Second)
	v.SetDefault("scrape.combo_delay.max", 60*time.Second)

	v.SetDefault("session.headless", true)
	v.SetDefault("session.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("session.width", 1920)
	v.SetDefault("session.height", 1080)
	v.SetDefault("session.navigation_timeout", 60*time.Second)
	v.SetDefault("session.task_timeout", 3*time.Minute)
	v.SetDefault("session.settle.min", 4*time.Second)
	v.SetDefault("session.settle.max", 7*time.Second)

	v.SetDefault("challenge.marker", "just a moment")
	v.SetDefault("challenge.pause.min", 2*time.Second)
	v.SetDefault("challenge.pause.max", 4*time.Second)
	v.SetDefault("challenge.poll_timeout", 30*time.Second)
	v.SetDefault("challenge.poll_interval", 250*time.Millisecond)

	v.SetDefault("proxy.file", "proxies.txt")
	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.max_failures", 0)
	v.SetDefault("proxy.required", false)

	v.SetDefault("simple.search_url", "https://www.yellowpages.com/search")
	v.SetDefault("simple.rate", 1.0)
	v.SetDefault("simple.max_attempts", 10)
	v.SetDefault("simple.retry_delay", time.Second)
	v.SetDefault("simple.timeout", 30*time.Second)

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.gcs_prefix", "harvests")
	v.SetDefault("db.table", "listings")
	v.SetDefault("db.page_table", "page_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("webhook.json_timeout", 30*time.Second)
	v.SetDefault("webhook.upload_timeout", 60*time.Second)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.flush_interval", 250*time.Millisecond)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return errors.New("server.port must be > 0")
	case c.Auth.Enabled && c.Auth.APIKey == "":
		return errors.New("auth.api_key must be set when auth is enabled")
	case c.Scrape.Pages <= 0:
		return errors.New("scrape.pages must be > 0")
	case c.Scrape.Concurrency <= 0:
		return errors.New("scrape.concurrency must be > 0")
	case c.Session.NavigationTimeout <= 0:
		return errors.New("session.navigation_timeout must be > 0")
	case c.Session.TaskTimeout < c.Session.NavigationTimeout:
		return errors.New("session.task_timeout must be >= session.navigation_timeout")
	case c.Challenge.PollTimeout <= 0 || c.Challenge.PollInterval <= 0:
		return errors.New("challenge.poll_timeout and challenge.poll_interval must be > 0")
	case c.Proxy.MaxFailures < 0:
		return errors.New("proxy.max_failures must be >= 0")
	case c.Simple.Rate <= 0:
		return errors.New("simple.rate must be > 0")
	case c.Simple.MaxAttempts <= 0:
		return errors.New("simple.max_attempts must be > 0")
	case c.PubSub.TopicName != "" && c.PubSub.ProjectID == "":
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is")
	}
	ranges := []struct {
		key string
		r   jitter.Range
	}{
		{"scrape.jitter", c.Scrape.Jitter},
		{"scrape.combo_delay", c.Scrape.ComboDelay},
		{"session.settle", c.Session.Settle},
		{"challenge.pause", c.Challenge.Pause},
	}
	for _, kr := range ranges {
		if err := kr.r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", kr.key, err)
		}
	}
	return nil
}
