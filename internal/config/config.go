// Package config provides configuration management for the editing engine.
// Values come from built-in defaults, overridden by an optional YAML file,
// overridden by environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	// Default values
	DefaultPort         = 8686
	DefaultLogLevel     = "info"
	DefaultDataDir      = ".chuangcut"
	DefaultPollInterval = 5 * time.Second
	DefaultLockTTL      = 2 * time.Minute
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = 2 * time.Second
	DefaultBackoffMax   = 2 * time.Minute

	// Scene worker pool bounds
	DefaultSceneConcurrency = 3
	MinSceneConcurrency     = 1
	MaxSceneConcurrency     = 8

	// Environment variable names
	EnvPort             = "CHUANGCUT_PORT"
	EnvLogLevel         = "CHUANGCUT_LOG_LEVEL"
	EnvDataDir          = "CHUANGCUT_DATA_DIR"
	EnvConfigFile       = "CHUANGCUT_CONFIG_FILE"
	EnvPollInterval     = "CHUANGCUT_POLL_INTERVAL_SECONDS"
	EnvLockTTL          = "CHUANGCUT_LOCK_TTL_SECONDS"
	EnvMaxAttempts      = "CHUANGCUT_MAX_ATTEMPTS"
	EnvSceneConcurrency = "CHUANGCUT_SCENE_CONCURRENCY"
	EnvAIBaseURL        = "CHUANGCUT_AI_BASE_URL"
	EnvAIToken          = "CHUANGCUT_AI_TOKEN"
	EnvMediaBaseURL     = "CHUANGCUT_MEDIA_BASE_URL"
	EnvMediaToken       = "CHUANGCUT_MEDIA_TOKEN"
	EnvVoice            = "CHUANGCUT_TTS_VOICE"

	// Database filename
	DBFilename = "chuangcut.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	PollInterval() time.Duration
	LockTTL() time.Duration
	MaxAttempts() int
	BackoffBase() time.Duration
	BackoffMax() time.Duration
	SceneConcurrency() int
	AIBaseURL() string
	AIToken() string
	MediaBaseURL() string
	MediaToken() string
	Voice() string
}

// fileConfig mirrors the optional YAML config file.
type fileConfig struct {
	Port                int    `yaml:"port"`
	LogLevel            string `yaml:"log_level"`
	DataDir             string `yaml:"data_dir"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
	SceneConcurrency    int    `yaml:"scene_concurrency"`
	AIBaseURL           string `yaml:"ai_base_url"`
	AIToken             string `yaml:"ai_token"`
	MediaBaseURL        string `yaml:"media_base_url"`
	MediaToken          string `yaml:"media_token"`
	Voice               string `yaml:"voice"`
}

// EnvConfig is the layered configuration described at the top of the package.
type EnvConfig struct {
	port             int
	logLevel         string
	dataDir          string
	pollInterval     time.Duration
	lockTTL          time.Duration
	maxAttempts      int
	sceneConcurrency int
	aiBaseURL        string
	aiToken          string
	mediaBaseURL     string
	mediaToken       string
	voice            string
}

// New builds configuration from defaults, the optional YAML file and
// environment variables.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		pollInterval:     DefaultPollInterval,
		lockTTL:          DefaultLockTTL,
		maxAttempts:      DefaultMaxAttempts,
		sceneConcurrency: DefaultSceneConcurrency,
	}

	if err := cfg.applyFile(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.sceneConcurrency = clampConcurrency(cfg.sceneConcurrency)
	if cfg.maxAttempts < 1 {
		cfg.maxAttempts = DefaultMaxAttempts
	}

	return cfg, nil
}

func (c *EnvConfig) applyFile() error {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = filepath.Join(c.dataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.PollIntervalSeconds > 0 {
		c.pollInterval = time.Duration(fc.PollIntervalSeconds) * time.Second
	}
	if fc.LockTTLSeconds > 0 {
		c.lockTTL = time.Duration(fc.LockTTLSeconds) * time.Second
	}
	if fc.MaxAttempts > 0 {
		c.maxAttempts = fc.MaxAttempts
	}
	if fc.SceneConcurrency > 0 {
		c.sceneConcurrency = fc.SceneConcurrency
	}
	if fc.AIBaseURL != "" {
		c.aiBaseURL = fc.AIBaseURL
	}
	if fc.AIToken != "" {
		c.aiToken = fc.AIToken
	}
	if fc.MediaBaseURL != "" {
		c.mediaBaseURL = fc.MediaBaseURL
	}
	if fc.MediaToken != "" {
		c.mediaToken = fc.MediaToken
	}
	if fc.Voice != "" {
		c.voice = fc.Voice
	}

	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if v := os.Getenv(EnvPollInterval); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			return fmt.Errorf("invalid %s: %q", EnvPollInterval, v)
		}
		c.pollInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(EnvLockTTL); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			return fmt.Errorf("invalid %s: %q", EnvLockTTL, v)
		}
		c.lockTTL = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: %q", EnvMaxAttempts, v)
		}
		c.maxAttempts = n
	}
	if v := os.Getenv(EnvSceneConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvSceneConcurrency, v)
		}
		c.sceneConcurrency = n
	}

	if v := os.Getenv(EnvAIBaseURL); v != "" {
		c.aiBaseURL = v
	}
	if v := os.Getenv(EnvAIToken); v != "" {
		c.aiToken = v
	}
	if v := os.Getenv(EnvMediaBaseURL); v != "" {
		c.mediaBaseURL = v
	}
	if v := os.Getenv(EnvMediaToken); v != "" {
		c.mediaToken = v
	}
	if v := os.Getenv(EnvVoice); v != "" {
		c.voice = v
	}

	return nil
}

func (c *EnvConfig) Port() int {
	return c.port
}

func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) LockTTL() time.Duration {
	return c.lockTTL
}

func (c *EnvConfig) MaxAttempts() int {
	return c.maxAttempts
}

func (c *EnvConfig) BackoffBase() time.Duration {
	return DefaultBackoffBase
}

func (c *EnvConfig) BackoffMax() time.Duration {
	return DefaultBackoffMax
}

// SceneConcurrency returns the scene worker pool size, always within
// [1, 8].
func (c *EnvConfig) SceneConcurrency() int {
	return c.sceneConcurrency
}

func (c *EnvConfig) AIBaseURL() string {
	return c.aiBaseURL
}

func (c *EnvConfig) AIToken() string {
	return c.aiToken
}

func (c *EnvConfig) MediaBaseURL() string {
	return c.mediaBaseURL
}

func (c *EnvConfig) MediaToken() string {
	return c.mediaToken
}

func (c *EnvConfig) Voice() string {
	return c.voice
}

func clampConcurrency(n int) int {
	if n < MinSceneConcurrency {
		return DefaultSceneConcurrency
	}
	if n > MaxSceneConcurrency {
		return MaxSceneConcurrency
	}
	return n
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
