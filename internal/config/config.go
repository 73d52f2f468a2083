// Package config loads crawler settings from defaults, an optional YAML file,
// RELENTLESS_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"relentless-tracks/internal/platform"
)

// EnvPrefix namespaces environment overrides, e.g. RELENTLESS_MAX_DEPTH.
const EnvPrefix = "RELENTLESS"

// AudioFormats are the output formats yt-dlp is asked to extract.
var AudioFormats = []string{"mp3", "wav", "flac", "m4a"}

// Config is the full set of crawl settings.
type Config struct {
	Platform string   `mapstructure:"platform"`
	URLs     []string `mapstructure:"urls"`
	Keywords []string `mapstructure:"keywords"`
	CrawlID  string   `mapstructure:"crawl_id"`

	MaxDepth   int `mapstructure:"max_depth"`
	MaxWorkers int `mapstructure:"max_workers"`
	RetryLimit int `mapstructure:"retry_limit"`

	DownloadFolder string `mapstructure:"download_folder"`
	AudioQuality   string `mapstructure:"audio_quality"`
	AudioFormat    string `mapstructure:"audio_format"`

	DBPath      string        `mapstructure:"db_path"`
	ClearState  bool          `mapstructure:"clear_state"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl"`

	PageTimeout     time.Duration `mapstructure:"page_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	SaveEvery       int           `mapstructure:"save_every"`
	SaveInterval    time.Duration `mapstructure:"save_interval"`
	HighWater       int           `mapstructure:"high_water"`
	LowWater        int           `mapstructure:"low_water"`

	UserAgent    string `mapstructure:"user_agent"`
	IgnoreRobots bool   `mapstructure:"ignore_robots"`
	ProxyURL     string `mapstructure:"proxy_url"`
	ProxyPool    string `mapstructure:"proxy_pool"`

	KafkaBroker string `mapstructure:"kafka_broker"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Verbose   bool   `mapstructure:"verbose"`
	Quiet     bool   `mapstructure:"quiet"`
	LogFormat string `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"platform":         "",
	"urls":             []string{},
	"keywords":         []string{},
	"crawl_id":         "",
	"max_depth":        2,
	"max_workers":      8,
	"retry_limit":      3,
	"download_folder":  "~/Music/Downloads",
	"audio_quality":    "192",
	"audio_format":     "mp3",
	"db_path":          "",
	"clear_state":      false,
	"redis_prefix":     "relentless:state:",
	"redis_ttl":        time.Duration(0),
	"page_timeout":     45 * time.Second,
	"download_timeout": 10 * time.Minute,
	"retry_base":       2 * time.Second,
	"retry_max_delay":  time.Minute,
	"save_every":       25,
	"save_interval":    30 * time.Second,
	"high_water":       256,
	"low_water":        64,
	"user_agent":       platform.DefaultUserAgent,
	"ignore_robots":    false,
	"proxy_url":        "",
	"proxy_pool":       "",
	"kafka_broker":     "",
	"metrics_addr":     "",
	"verbose":          false,
	"quiet":            false,
	"log_format":       "console",
}

// Unprefixed variables the deployment tooling already sets.
var legacyEnv = map[string]string{
	"proxy_url":    "PROXY_URL",
	"proxy_pool":   "PROXY_POOL",
	"kafka_broker": "KAFKA_BROKER",
	"metrics_addr": "METRICS_ADDR",
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env)
	}
	return v
}

// LoadDotEnv reads .env from the working directory if present.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads file (if set) into v and decodes the result. Derived defaults
// are filled in: db_path is <platform>.db and crawl_id is the platform name.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Platform = strings.ToLower(strings.TrimSpace(cfg.Platform))
	cfg.AudioFormat = strings.ToLower(strings.TrimSpace(cfg.AudioFormat))
	if cfg.DBPath == "" && cfg.Platform != "" {
		cfg.DBPath = cfg.Platform + ".db"
	}
	if cfg.CrawlID == "" {
		cfg.CrawlID = cfg.Platform
	}

	var err error
	if cfg.DownloadFolder, err = ExpandHome(cfg.DownloadFolder); err != nil {
		return nil, err
	}
	if cfg.DBPath, err = ExpandHome(cfg.DBPath); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !slices.Contains(platform.Names(), c.Platform) {
		add("platform must be one of %s, got %q", strings.Join(platform.Names(), ", "), c.Platform)
	}
	switch {
	case len(c.URLs) == 0 && len(c.Keywords) == 0:
		add("either urls or keywords is required")
	case len(c.URLs) > 0 && len(c.Keywords) > 0:
		add("urls and keywords are mutually exclusive")
	}
	for _, raw := range c.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("invalid seed url %q", raw)
		}
	}
	if c.MaxDepth < 0 {
		add("max_depth must be >= 0")
	}
	if c.MaxWorkers < 1 {
		add("max_workers must be >= 1")
	}
	if c.RetryLimit < 1 {
		add("retry_limit must be >= 1")
	}
	if !slices.Contains(AudioFormats, c.AudioFormat) {
		add("audio_format must be one of %s, got %q", strings.Join(AudioFormats, ", "), c.AudioFormat)
	}
	if strings.TrimSpace(c.AudioQuality) == "" {
		add("audio_quality is required")
	}
	if c.DownloadFolder == "" {
		add("download_folder is required")
	}
	if c.DBPath == "" {
		add("db_path is required")
	}
	if c.PageTimeout <= 0 || c.DownloadTimeout <= 0 {
		add("page_timeout and download_timeout must be positive")
	}
	if c.RetryBase < 0 || c.RetryMaxDelay < 0 {
		add("retry_base and retry_max_delay must not be negative")
	}
	if c.SaveEvery < 1 || c.SaveInterval <= 0 {
		add("save_every and save_interval must be positive")
	}
	if c.HighWater < 1 || c.LowWater < 0 || c.LowWater >= c.HighWater {
		add("need 0 <= low_water < high_water, got %d/%d", c.LowWater, c.HighWater)
	}
	return errors.Join(errs...)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
