package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jujuci/bundleverify/internal/validation"
)

// Config holds verifier configuration loaded from YAML and env.
type Config struct {
	JujuPath      string
	Model         string
	StatusTimeout time.Duration

	Scheme             string
	Text               string
	Port               int
	ProbeTimeout       time.Duration
	InsecureSkipVerify bool

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerCooldown         time.Duration

	ServerPort     string
	RateLimitRPS   int
	RateLimitBurst int

	WatchInterval time.Duration
	ReportTTL     time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Juju struct {
		Path          string `yaml:"path"`
		Model         string `yaml:"model"`
		StatusTimeout string `yaml:"status_timeout"`
	} `yaml:"juju"`

	Probe struct {
		Scheme             string `yaml:"scheme"`
		Text               string `yaml:"text"`
		Port               int    `yaml:"port"`
		Timeout            string `yaml:"timeout"`
		InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
	} `yaml:"probe"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerCooldown         string `yaml:"breaker_cooldown"`
	} `yaml:"reliability"`

	Server struct {
		Port           string `yaml:"port"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Watch struct {
		Interval  string `yaml:"interval"`
		ReportTTL string `yaml:"report_ttl"`
	} `yaml:"watch"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// envOverrides is applied after the file; set fields win. Pointer fields
// distinguish "unset" from a zero value.
type envOverrides struct {
	JujuPath           string `envconfig:"JUJU_PATH"`
	Model              string `envconfig:"MODEL"`
	Scheme             string `envconfig:"SCHEME"`
	Text               string `envconfig:"TEXT"`
	Port               *int   `envconfig:"PORT"`
	InsecureSkipVerify *bool  `envconfig:"INSECURE_SKIP_VERIFY"`
	ServerPort         string `envconfig:"SERVER_PORT"`
	CacheBackend       string `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs     string `envconfig:"MEMCACHED_ADDRS"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) when the
// file exists, applies defaults otherwise, then applies BUNDLEVERIFY_*
// environment overrides. Call from the project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// The tool runs with defaults when no file is present.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	cfg.JujuPath = fc.Juju.Path
	if cfg.JujuPath == "" {
		cfg.JujuPath = "juju"
	}
	cfg.Model = fc.Juju.Model
	cfg.StatusTimeout = parseDuration(fc.Juju.StatusTimeout, 30*time.Second)

	cfg.Scheme = fc.Probe.Scheme
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	cfg.Text = fc.Probe.Text
	cfg.Port = fc.Probe.Port
	cfg.ProbeTimeout = parseDuration(fc.Probe.Timeout, 10*time.Second)
	cfg.InsecureSkipVerify = true
	if fc.Probe.InsecureSkipVerify != nil {
		cfg.InsecureSkipVerify = *fc.Probe.InsecureSkipVerify
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerCooldown = parseDuration(fc.Reliability.BreakerCooldown, 30*time.Second)

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RateLimitRPS = fc.Server.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	cfg.RateLimitBurst = fc.Server.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 25
	}

	cfg.WatchInterval = parseDuration(fc.Watch.Interval, 5*time.Minute)
	cfg.ReportTTL = parseDuration(fc.Watch.ReportTTL, 15*time.Minute)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("bundleverify", &env); err != nil {
		return fmt.Errorf("config: env overrides: %w", err)
	}
	if env.JujuPath != "" {
		cfg.JujuPath = env.JujuPath
	}
	if env.Model != "" {
		cfg.Model = env.Model
	}
	if env.Scheme != "" {
		cfg.Scheme = env.Scheme
	}
	if env.Text != "" {
		cfg.Text = env.Text
	}
	if env.Port != nil {
		cfg.Port = *env.Port
	}
	if env.InsecureSkipVerify != nil {
		cfg.InsecureSkipVerify = *env.InsecureSkipVerify
	}
	if env.ServerPort != "" {
		cfg.ServerPort = env.ServerPort
	}
	if env.CacheBackend != "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(env.CacheBackend))
	}
	if env.MemcachedAddrs != "" {
		cfg.MemcachedAddrs = env.MemcachedAddrs
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal on empty
// string, parse error, or a non-positive result.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if _, err := validation.ValidateScheme(cfg.Scheme); err != nil {
		return fmt.Errorf("probe.scheme: %w", err)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("probe.port out of range: %d", cfg.Port)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.StatusTimeout <= 0 || cfg.ProbeTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if cfg.WatchInterval < 10*time.Second {
		cfg.WatchInterval = 10 * time.Second
	}
	if cfg.ReportTTL < cfg.WatchInterval {
		cfg.ReportTTL = 3 * cfg.WatchInterval
	}
	return nil
}
