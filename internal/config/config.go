// Package config loads, validates and edits the process configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir     string `json:"data_dir" yaml:"data_dir"`
	ArtifactDir string `json:"artifact_dir" yaml:"artifact_dir"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"`
	QueueDepth  int    `json:"queue_depth" yaml:"queue_depth"`

	Bridge struct {
		URL   string `json:"url" yaml:"url"`
		Token string `json:"token" yaml:"token" secret:"true"`
	} `json:"bridge" yaml:"bridge"`
	Auth struct {
		Passphrase string `json:"passphrase" yaml:"passphrase" secret:"true"`
	} `json:"auth" yaml:"auth"`
	Pacing struct {
		MinDelay   Duration `json:"min_delay" yaml:"min_delay"`
		MaxDelay   Duration `json:"max_delay" yaml:"max_delay"`
		BatchSize  int      `json:"batch_size" yaml:"batch_size"`
		BatchDelay Duration `json:"batch_delay" yaml:"batch_delay"`
	} `json:"pacing" yaml:"pacing"`
	Session struct {
		MaxReconnects  int      `json:"max_reconnects" yaml:"max_reconnects"`
		DialRetryDelay Duration `json:"dial_retry_delay" yaml:"dial_retry_delay"`
	} `json:"session" yaml:"session"`
	Fetch struct {
		Timeout     Duration `json:"timeout" yaml:"timeout"`
		MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
		RetryDelay  Duration `json:"retry_delay" yaml:"retry_delay"`
	} `json:"fetch" yaml:"fetch"`
	Redis struct {
		URL string `json:"url" yaml:"url" secret:"true"`
		Key string `json:"key" yaml:"key"`
	} `json:"redis" yaml:"redis"`
	Telegram struct {
		Token  string `json:"token" yaml:"token" secret:"true"`
		ChatID int64  `json:"chat_id" yaml:"chat_id"`
	} `json:"telegram" yaml:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Listen  string `json:"listen" yaml:"listen"`
	} `json:"http" yaml:"http"`
	StatsSchedule string `json:"stats_schedule" yaml:"stats_schedule"`
}

// DefaultPath returns ~/.statuskeeper/config.json.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".statuskeeper", "config.json")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:    filepath.Join(homeDir(), ".statuskeeper"),
		LogLevel:   "info",
		LogFormat:  "text",
		QueueDepth: 256,
	}
	cfg.Bridge.URL = "ws://localhost:3001"
	cfg.Pacing.MinDelay = Duration(1 * time.Second)
	cfg.Pacing.MaxDelay = Duration(3 * time.Second)
	cfg.Pacing.BatchSize = 20
	cfg.Pacing.BatchDelay = Duration(60 * time.Second)
	cfg.Session.DialRetryDelay = Duration(5 * time.Second)
	cfg.Fetch.Timeout = Duration(30 * time.Second)
	cfg.Fetch.MaxAttempts = 3
	cfg.Fetch.RetryDelay = Duration(2 * time.Second)
	cfg.Redis.Key = "statuskeeper:artifacts"
	cfg.HTTP.Listen = "127.0.0.1:8377"
	cfg.StatsSchedule = "@every 10m"
	return cfg
}

// Load reads the config file on top of the defaults, writing the defaults
// out first if the file does not exist. Environment variables override the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// envOverrides maps keys to the environment variables that override them.
var envOverrides = []struct {
	key, env string
	set      func(*Config, string)
}{
	{"bridge.url", "STATUSKEEPER_BRIDGE_URL", func(c *Config, v string) { c.Bridge.URL = v }},
	{"bridge.token", "STATUSKEEPER_BRIDGE_TOKEN", func(c *Config, v string) { c.Bridge.Token = v }},
	{"auth.passphrase", "STATUSKEEPER_AUTH_PASSPHRASE", func(c *Config, v string) { c.Auth.Passphrase = v }},
	{"telegram.token", "TELEGRAM_BOT_TOKEN", func(c *Config, v string) { c.Telegram.Token = v }},
	{"redis.url", "REDIS_URL", func(c *Config, v string) { c.Redis.URL = v }},
}

func applyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.env); v != "" {
			o.set(cfg, v)
		}
	}
}

// OverriddenBy returns the environment variable currently overriding key,
// if any.
func OverriddenBy(key string) (string, bool) {
	for _, o := range envOverrides {
		if o.key == key && os.Getenv(o.env) != "" {
			return o.env, true
		}
	}
	return "", false
}

// Validate checks the ranges the pipeline relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.Pacing.MinDelay < 0 {
		errs = append(errs, errors.New("pacing.min_delay must not be negative"))
	}
	if c.Pacing.MaxDelay < c.Pacing.MinDelay {
		errs = append(errs, fmt.Errorf("pacing.max_delay (%s) must be >= pacing.min_delay (%s)", c.Pacing.MaxDelay, c.Pacing.MinDelay))
	}
	if c.Pacing.BatchSize < 1 {
		errs = append(errs, errors.New("pacing.batch_size must be at least 1"))
	}
	if c.Pacing.BatchDelay < 0 {
		errs = append(errs, errors.New("pacing.batch_delay must not be negative"))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, errors.New("fetch.max_attempts must be at least 1"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if c.Fetch.RetryDelay < 0 {
		errs = append(errs, errors.New("fetch.retry_delay must not be negative"))
	}
	if c.Session.MaxReconnects < 0 {
		errs = append(errs, errors.New("session.max_reconnects must not be negative"))
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.token is set"))
	}
	switch c.LogFormat {
	case "", "text", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not one of text, json, pretty", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ArtifactPath is the artifact directory, defaulting to <data_dir>/artifacts.
func (c *Config) ArtifactPath() string {
	if c.ArtifactDir != "" {
		return c.ArtifactDir
	}
	return filepath.Join(c.DataDir, "artifacts")
}

func (c *Config) AuthPath() string   { return filepath.Join(c.DataDir, "auth.state") }
func (c *Config) LedgerPath() string { return filepath.Join(c.DataDir, "ingest.jsonl") }
func (c *Config) PIDPath() string    { return filepath.Join(c.DataDir, "statuskeeper.pid") }

// Save writes cfg to path atomically, in YAML for .yaml/.yml paths and JSON
// otherwise.
func Save(path string, cfg *Config) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

// ToMap converts cfg to a nested map with the file's key names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as a flat dot-keyed map, optionally with secrets
// masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any)
	flattenMap("", m, flat)
	if mask {
		for k, v := range flat {
			if s, ok := v.(string); ok && IsSecretKey(k) {
				flat[k] = Mask(s)
			}
		}
	}
	return flat, nil
}

// GetValue returns the effective value of one key: file, then defaults,
// then environment. The file is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, ok := LookupKey(key); !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	return flat[key], nil
}

// SetValue sets one key in an existing config file. The value is parsed by
// the key's type and the edited file must still pass Validate; otherwise
// the file is left untouched. Sections the user added by hand are kept.
func SetValue(path, key, value string) error {
	k, ok := LookupKey(key)
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	parsed, err := k.Parse(value)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	doc, err := readRaw(path)
	if err != nil {
		return err
	}
	if err := setPath(doc, key, parsed); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	candidate := Default()
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(buf, candidate); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("%s = %s would make the config invalid: %w", key, value, err)
	}

	var data []byte
	if isYAML(path) {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := decode(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(jsonc.ToJSON(data), v)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return os.Getenv("HOME")
}
