package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestLoad_CreatesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Load should write defaults: %v", err)
	}
	if cfg.Pacing.BatchSize != 20 {
		t.Errorf("expected default batch_size=20, got %d", cfg.Pacing.BatchSize)
	}
	if cfg.Pacing.BatchDelay.Std() != time.Minute {
		t.Errorf("expected default batch_delay=1m, got %s", cfg.Pacing.BatchDelay)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("expected default fetch.max_attempts=3, got %d", cfg.Fetch.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.Bridge.URL = "ws://bridge:3001"
	original.Bridge.Token = "bridge-token-123"
	original.Pacing.MinDelay = Duration(500 * time.Millisecond)
	original.Pacing.BatchSize = 7
	original.Telegram.Token = "bot-token-456"
	original.Telegram.ChatID = 42

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.Bridge.URL != original.Bridge.URL {
		t.Errorf("Bridge.URL mismatch: %v != %v", loaded.Bridge.URL, original.Bridge.URL)
	}
	if loaded.Pacing.MinDelay != original.Pacing.MinDelay {
		t.Errorf("Pacing.MinDelay mismatch: %v != %v", loaded.Pacing.MinDelay, original.Pacing.MinDelay)
	}
	if loaded.Pacing.BatchSize != original.Pacing.BatchSize {
		t.Errorf("Pacing.BatchSize mismatch: %v != %v", loaded.Pacing.BatchSize, original.Pacing.BatchSize)
	}
	if loaded.Telegram.ChatID != original.Telegram.ChatID {
		t.Errorf("Telegram.ChatID mismatch: %v != %v", loaded.Telegram.ChatID, original.Telegram.ChatID)
	}
}

func TestLoad_JSONCComments(t *testing.T) {
	path := tempConfigPath(t)
	content := `{
  // pacing for history drains
  "pacing": {
    "min_delay": "250ms",
    "max_delay": "750ms", /* upper bound */
    "batch_size": 5,
  },
  "log_level": "warn"
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pacing.MinDelay.Std() != 250*time.Millisecond {
		t.Errorf("expected min_delay=250ms, got %s", cfg.Pacing.MinDelay)
	}
	if cfg.Pacing.BatchSize != 5 {
		t.Errorf("expected batch_size=5, got %d", cfg.Pacing.BatchSize)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Pacing.BatchDelay.Std() != time.Minute {
		t.Errorf("expected default batch_delay=1m, got %s", cfg.Pacing.BatchDelay)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected log_level=warn, got %s", cfg.LogLevel)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `log_format: json
bridge:
  url: ws://yaml-bridge:3001
fetch:
  timeout: 10s
  max_attempts: 5
pacing:
  batch_delay: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.URL != "ws://yaml-bridge:3001" {
		t.Errorf("expected yaml bridge url, got %s", cfg.Bridge.URL)
	}
	if cfg.Fetch.Timeout.Std() != 10*time.Second {
		t.Errorf("expected fetch.timeout=10s, got %s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MaxAttempts != 5 {
		t.Errorf("expected fetch.max_attempts=5, got %d", cfg.Fetch.MaxAttempts)
	}
	// Bare numbers are seconds.
	if cfg.Pacing.BatchDelay.Std() != 2*time.Second {
		t.Errorf("expected batch_delay=2s, got %s", cfg.Pacing.BatchDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("STATUSKEEPER_BRIDGE_URL", "ws://env-bridge:9000")
	t.Setenv("STATUSKEEPER_AUTH_PASSPHRASE", "from-env")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.URL != "ws://env-bridge:9000" {
		t.Errorf("expected env bridge url, got %s", cfg.Bridge.URL)
	}
	if cfg.Auth.Passphrase != "from-env" {
		t.Errorf("expected env passphrase, got %s", cfg.Auth.Passphrase)
	}
	if cfg.Redis.URL != "redis://localhost:6379/2" {
		t.Errorf("expected env redis url, got %s", cfg.Redis.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"max below min", func(c *Config) { c.Pacing.MaxDelay = Duration(time.Millisecond) }, "pacing.max_delay"},
		{"zero batch", func(c *Config) { c.Pacing.BatchSize = 0 }, "pacing.batch_size"},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "fetch.max_attempts"},
		{"telegram without chat", func(c *Config) { c.Telegram.Token = "tok" }, "telegram.chat_id"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/sk"
	if got := cfg.ArtifactPath(); got != "/var/lib/sk/artifacts" {
		t.Errorf("unexpected artifact path %s", got)
	}
	cfg.ArtifactDir = "/srv/statuses"
	if got := cfg.ArtifactPath(); got != "/srv/statuses" {
		t.Errorf("artifact_dir should win, got %s", got)
	}
	if got := cfg.AuthPath(); got != "/var/lib/sk/auth.state" {
		t.Errorf("unexpected auth path %s", got)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{
		DataDir:  "/tmp/test",
		LogLevel: "debug",
	}
	cfg.Pacing.BatchSize = 20
	cfg.Pacing.MaxDelay = Duration(3 * time.Second)

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}

	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}

	pacing, ok := m["pacing"].(map[string]any)
	if !ok {
		t.Fatalf("expected pacing to be map, got %T", m["pacing"])
	}
	// JSON numbers are float64
	if pacing["batch_size"] != float64(20) {
		t.Errorf("expected pacing.batch_size=20, got %v", pacing["batch_size"])
	}
	if pacing["max_delay"] != "3s" {
		t.Errorf("expected pacing.max_delay=3s, got %v", pacing["max_delay"])
	}
}

func TestListValues_NoMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.Bridge.Token = "bridge-secret-1234"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}

	if flat["bridge.token"] != "bridge-secret-1234" {
		t.Errorf("expected unmasked bridge.token, got %v", flat["bridge.token"])
	}
	if flat["telegram.token"] != "bot-token-abcd" {
		t.Errorf("expected unmasked telegram.token, got %v", flat["telegram.token"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.Bridge.Token = "bridge-secret-1234"
	cfg.Auth.Passphrase = "pass-5678"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}

	if flat["bridge.token"] != "****1234" {
		t.Errorf("expected masked bridge.token=****1234, got %v", flat["bridge.token"])
	}
	if flat["auth.passphrase"] != "****" {
		t.Errorf("expected short auth.passphrase fully masked, got %v", flat["auth.passphrase"])
	}
	if flat["telegram.token"] != "****abcd" {
		t.Errorf("expected masked telegram.token=****abcd, got %v", flat["telegram.token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.QueueDepth = 8
	cfg.Bridge.URL = "ws://bridge:3001"
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "bridge.url")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "ws://bridge:3001" {
		t.Errorf("expected bridge.url=ws://bridge:3001, got %v", v)
	}

	v, err = GetValue(path, "queue_depth")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(8) {
		t.Errorf("expected queue_depth=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_String(t *testing.T) {
	path := tempConfigPath(t)

	cfg := Default()
	cfg.Bridge.URL = "ws://bridge:3001"
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug after set, got %v", v)
	}

	v, err = GetValue(path, "bridge.url")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "ws://bridge:3001" {
		t.Errorf("expected bridge.url preserved, got %v", v)
	}
}

func TestSetValue_Numeric(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "pacing.batch_size", "10"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "pacing.batch_size")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(10) {
		t.Errorf("expected pacing.batch_size=10, got %v (%T)", v, v)
	}
}

func TestSetValue_Boolean(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "http.enabled", "true"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.HTTP.Enabled {
		t.Error("expected http.enabled=true after set")
	}
}

func TestSetValue_Duration(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "pacing.batch_delay", "90s"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pacing.BatchDelay.Std() != 90*time.Second {
		t.Errorf("expected batch_delay=90s, got %s", cfg.Pacing.BatchDelay)
	}
}

func TestSetValue_RejectsBadType(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "pacing.min_delay", "soon"); err == nil {
		t.Fatal("expected error for unparseable duration")
	}

	// The file is left untouched.
	v, err := GetValue(path, "pacing.min_delay")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "1s" {
		t.Errorf("expected pacing.min_delay=1s, got %v", v)
	}
}

func TestSetValue_RejectsUnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())
	before, _ := os.ReadFile(path)

	err := SetValue(path, "custom.setting", "value")
	if err == nil || err.Error() != "unknown config key: custom.setting" {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("config file changed after a rejected set")
	}
}

func TestSetValue_ValidatesResult(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	// max_delay below the default min_delay of 1s.
	err := SetValue(path, "pacing.max_delay", "500ms")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "pacing.max_delay") {
		t.Errorf("error should name the offending key, got %q", err)
	}
	if err := SetValue(path, "pacing.batch_size", "0"); err == nil {
		t.Fatal("expected batch_size 0 to be rejected")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pacing.MaxDelay.Std() != 3*time.Second || cfg.Pacing.BatchSize != 20 {
		t.Errorf("rejected values were written: max_delay=%s batch_size=%d", cfg.Pacing.MaxDelay, cfg.Pacing.BatchSize)
	}
}

func TestSetValue_StringKeyKeepsDigits(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "bridge.token", "0012345"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.Token != "0012345" && os.Getenv("STATUSKEEPER_BRIDGE_TOKEN") == "" {
		t.Errorf("expected token kept verbatim, got %q", cfg.Bridge.Token)
	}
}

func TestSetValue_TelegramChatID(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "telegram.chat_id", "-1001234567890"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.ChatID != -1001234567890 {
		t.Errorf("expected chat_id=-1001234567890, got %d", cfg.Telegram.ChatID)
	}
	if err := SetValue(path, "telegram.chat_id", "chan"); err == nil {
		t.Error("expected non-integer chat_id to be rejected")
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	// Load writes defaults on first use.
	path := tempConfigPath(t)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.json")

	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}
