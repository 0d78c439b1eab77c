package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/MimeLyc/bazarr-autotranslate/pkg/icron"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// Bazarr:
// - BAZARR_HOSTNAME: Bazarr host (required)
// - BAZARR_PORT: Bazarr port (default: 6767)
// - BAZARR_APIKEY: Bazarr API key (required)
// - BAZARR_SCHEME: http or https (default: http)
// - BAZARR_RATE_LIMIT: max requests per second, 0 disables pacing (default: 0)
//
// Translation:
// - FIRST_LANG: language searched for and translated into (required)
// - SECOND_LANG: language translated from (required)
// - AUTO_TRANSLATE: enables the translation cycle (default: true)
// - CRON_EXPR: schedule used by the daemon command (default: 0 * * * *)
// - LOCK_FILE: lock preventing overlapping cycles (default: <tmp>/bazarr-autotranslate.lock)
//
// Heartbeat:
// - HEARTBEAT_FILE: liveness marker written after each cycle, empty disables (default: translations_heartbeat.txt)
// - HEARTBEAT_MAX_AGE: age after which the heartbeat is stale (default: 3h)
//
// Logging & metrics:
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FORMAT: console or json (default: console)
// - LOG_FILE: rotated log file, empty disables (default: empty)
// - METRICS_TEXTFILE: Prometheus textfile written after each cycle (default: empty)
// - METRICS_ADDR: listen address of /metrics in daemon mode (default: empty)
//
// System:
// - TZ: zone of Bazarr history timestamps (default: Local)
// - CONFIG_FILE: optional yaml/toml/json file using the same keys in lower case
type Config struct {
	Bazarr    BazarrConfig    `json:"bazarr"`
	Translate TranslateConfig `json:"translate"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Log       LogConfig       `json:"log"`
	Metrics   MetricsConfig   `json:"metrics"`
	System    SystemConfig    `json:"system"`
}

type BazarrConfig struct {
	Hostname  string  `json:"hostname"`
	Port      int     `json:"port"`
	APIKey    string  `json:"-"`
	Scheme    string  `json:"scheme"`
	RateLimit float64 `json:"rate_limit"`
}

// BaseURL returns the root URL of the Bazarr API.
func (c BazarrConfig) BaseURL() string {
	u := url.URL{
		Scheme: c.Scheme,
		Host:   c.Hostname + ":" + strconv.Itoa(c.Port),
	}
	return u.String()
}

type TranslateConfig struct {
	FirstLang     string `json:"first_lang"`
	SecondLang    string `json:"second_lang"`
	AutoTranslate bool   `json:"auto_translate"`
	CronExpr      string `json:"cron_expr"`
	LockFile      string `json:"lock_file"`
}

type HeartbeatConfig struct {
	File   string        `json:"file"`
	MaxAge time.Duration `json:"max_age"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

type MetricsConfig struct {
	Textfile string `json:"textfile"`
	Addr     string `json:"addr"`
}

type SystemConfig struct {
	TZ string `json:"tz"`
}

// Location resolves TZ; "Local" and empty map to the process zone.
func (c SystemConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.TZ) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TZ)
}

// Option is a function type for configuring Config
type Option func(*Config)

// LoadDotEnv loads variables from .env files into the process environment
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewFromEnv creates a new Config instance from environment variables, an
// optional CONFIG_FILE, and options, then validates it.
func NewFromEnv(opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{
		Bazarr: BazarrConfig{
			Hostname:  strings.TrimSpace(v.GetString("bazarr_hostname")),
			Port:      v.GetInt("bazarr_port"),
			APIKey:    strings.TrimSpace(v.GetString("bazarr_apikey")),
			Scheme:    strings.ToLower(strings.TrimSpace(v.GetString("bazarr_scheme"))),
			RateLimit: v.GetFloat64("bazarr_rate_limit"),
		},
		Translate: TranslateConfig{
			FirstLang:     normalizeLanguage(v.GetString("first_lang")),
			SecondLang:    normalizeLanguage(v.GetString("second_lang")),
			AutoTranslate: v.GetBool("auto_translate"),
			CronExpr:      strings.TrimSpace(v.GetString("cron_expr")),
			LockFile:      strings.TrimSpace(v.GetString("lock_file")),
		},
		Heartbeat: HeartbeatConfig{
			File:   heartbeatFile(v),
			MaxAge: v.GetDuration("heartbeat_max_age"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
			File:   strings.TrimSpace(v.GetString("log_file")),
		},
		Metrics: MetricsConfig{
			Textfile: strings.TrimSpace(v.GetString("metrics_textfile")),
			Addr:     strings.TrimSpace(v.GetString("metrics_addr")),
		},
		System: SystemConfig{
			TZ: strings.TrimSpace(v.GetString("tz")),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	for _, code := range []string{config.Translate.FirstLang, config.Translate.SecondLang} {
		if _, err := language.Parse(code); err != nil {
			log.Warn("Language code %q is not a BCP 47 tag, passing it to Bazarr unchanged", code)
		}
	}

	log.Info("Config: bazarr=%s first_lang=%s second_lang=%s auto_translate=%t",
		config.Bazarr.BaseURL(), config.Translate.FirstLang, config.Translate.SecondLang, config.Translate.AutoTranslate)

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bazarr_port", 6767)
	v.SetDefault("bazarr_scheme", "http")
	v.SetDefault("bazarr_rate_limit", 0)
	v.SetDefault("auto_translate", true)
	v.SetDefault("cron_expr", "0 * * * *")
	v.SetDefault("lock_file", filepath.Join(os.TempDir(), "bazarr-autotranslate.lock"))
	v.SetDefault("heartbeat_file", "translations_heartbeat.txt")
	v.SetDefault("heartbeat_max_age", 3*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("tz", "Local")
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	var errs []error

	if c.Translate.FirstLang == "" {
		errs = append(errs, fmt.Errorf("FIRST_LANG is required"))
	}
	if c.Translate.SecondLang == "" {
		errs = append(errs, fmt.Errorf("SECOND_LANG is required"))
	}
	if c.Translate.FirstLang != "" && c.Translate.FirstLang == c.Translate.SecondLang {
		errs = append(errs, fmt.Errorf("FIRST_LANG and SECOND_LANG must differ"))
	}
	if c.Bazarr.Hostname == "" {
		errs = append(errs, fmt.Errorf("BAZARR_HOSTNAME is required"))
	}
	if c.Bazarr.APIKey == "" {
		errs = append(errs, fmt.Errorf("BAZARR_APIKEY is required"))
	}
	if c.Bazarr.Port < 1 || c.Bazarr.Port > 65535 {
		errs = append(errs, fmt.Errorf("BAZARR_PORT must be between 1 and 65535"))
	}
	if c.Bazarr.Scheme != "http" && c.Bazarr.Scheme != "https" {
		errs = append(errs, fmt.Errorf("BAZARR_SCHEME must be http or https"))
	}
	if c.Bazarr.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("BAZARR_RATE_LIMIT must not be negative"))
	}
	if _, err := icron.Parse(c.Translate.CronExpr); err != nil {
		errs = append(errs, fmt.Errorf("CRON_EXPR: %w", err))
	}
	if c.Heartbeat.File != "" && c.Heartbeat.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("HEARTBEAT_MAX_AGE must be positive"))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json"))
	}
	if _, err := c.System.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TZ: %w", err))
	}

	return errors.Join(errs...)
}

// heartbeatFile honours an explicitly empty HEARTBEAT_FILE, which viper would
// otherwise replace with the default.
func heartbeatFile(v *viper.Viper) string {
	if value, ok := os.LookupEnv("HEARTBEAT_FILE"); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(v.GetString("heartbeat_file"))
}

func normalizeLanguage(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
