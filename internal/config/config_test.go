package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.OutputFile != "sensor_data.csv" {
		t.Fatalf("unexpected OutputFile %q", cfg.OutputFile)
	}
	if cfg.LogFile != "sensor_monitor.log" {
		t.Fatalf("unexpected LogFile %q", cfg.LogFile)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.OriginalLengthMM != 50 {
		t.Fatalf("unexpected OriginalLengthMM %v", cfg.OriginalLengthMM)
	}
	if !cfg.ExperimentStart.Equal(time.Date(2025, 8, 11, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected ExperimentStart %s", cfg.ExperimentStart)
	}
	if cfg.RunDuration != 168*time.Hour {
		t.Fatalf("unexpected RunDuration %s", cfg.RunDuration)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("unexpected PollInterval %s", cfg.PollInterval)
	}
	if cfg.ProgressEvery != 120 {
		t.Fatalf("unexpected ProgressEvery %d", cfg.ProgressEvery)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected RequestTimeout %s", cfg.RequestTimeout)
	}
	if cfg.API.URL != DefaultAPIURL {
		t.Fatalf("unexpected API URL %q", cfg.API.URL)
	}
	if cfg.API.ContextID != "3" || cfg.API.CaptureID != "t193_creep_capture" || cfg.API.Service != "creep" || cfg.API.Action != "getUpdate" {
		t.Fatalf("unexpected API form defaults %+v", cfg.API)
	}
	if cfg.Credentials.Source != CookieSourceBrowser || cfg.Credentials.Domain != "open.ac.uk" || cfg.Credentials.TokenCookie != "s" {
		t.Fatalf("unexpected credential defaults %+v", cfg.Credentials)
	}
	if cfg.Status.Enable {
		t.Fatalf("expected status server disabled by default")
	}
	if got := cfg.DisplayZone().String(); got != "UTC+1" {
		t.Fatalf("unexpected display zone %q", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_OUTPUT_FILE", "/data/run.csv")
	t.Setenv("APP_LOG_FILE", "")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_ORIGINAL_LENGTH_MM", "42.5")
	t.Setenv("APP_EXPERIMENT_START", "2025-09-01 08:30:00")
	t.Setenv("APP_DISPLAY_UTC_OFFSET", "-5h30m")
	t.Setenv("APP_RUN_DURATION", "2h")
	t.Setenv("APP_POLL_INTERVAL", "5s")
	t.Setenv("APP_PROGRESS_EVERY", "10")
	t.Setenv("APP_REQUEST_TIMEOUT", "3s")
	t.Setenv("APP_API_URL", "http://localhost:9000/service.php")
	t.Setenv("APP_CONTEXT_ID", "7")
	t.Setenv("APP_CAPTURE_ID", "cap")
	t.Setenv("APP_SERVICE", "svc")
	t.Setenv("APP_ACTION", "act")
	t.Setenv("APP_USER_AGENT", "probe/1.0")
	t.Setenv("APP_SESSION_KEY", "abc")
	t.Setenv("APP_COOKIE_SOURCE", "FILE")
	t.Setenv("APP_COOKIE_FILE", "/tmp/cookies.txt")
	t.Setenv("APP_COOKIE_DOMAIN", "example.org")
	t.Setenv("APP_TOKEN_COOKIE", "sid")
	t.Setenv("APP_STATUS_ENABLE", "true")
	t.Setenv("APP_LISTEN_ADDR", ":9100")
	t.Setenv("APP_ALLOWED_ORIGINS", "https://example.com, https://other.test")
	t.Setenv("APP_ENABLE_PROMETHEUS", "true")
	t.Setenv("APP_ENABLE_PPROF", "true")
	t.Setenv("APP_WS_MAX_CLIENTS", "8")
	t.Setenv("APP_WS_WRITE_TIMEOUT", "10s")
	t.Setenv("APP_WS_READ_TIMEOUT", "45s")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.OutputFile != "/data/run.csv" {
		t.Fatalf("OutputFile override failed, got %q", cfg.OutputFile)
	}
	if cfg.LogFile != "" {
		t.Fatalf("expected empty LogFile to disable file logging, got %q", cfg.LogFile)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel override failed, got %v", cfg.LogLevel)
	}
	if cfg.OriginalLengthMM != 42.5 {
		t.Fatalf("OriginalLengthMM override failed, got %v", cfg.OriginalLengthMM)
	}
	if !cfg.ExperimentStart.Equal(time.Date(2025, 9, 1, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("ExperimentStart override failed, got %s", cfg.ExperimentStart)
	}
	if cfg.DisplayOffset != -(5*time.Hour + 30*time.Minute) {
		t.Fatalf("DisplayOffset override failed, got %s", cfg.DisplayOffset)
	}
	if got := cfg.DisplayZone().String(); got != "UTC-5:30" {
		t.Fatalf("unexpected display zone %q", got)
	}
	if cfg.RunDuration != 2*time.Hour || cfg.PollInterval != 5*time.Second || cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("duration overrides failed: %s %s %s", cfg.RunDuration, cfg.PollInterval, cfg.RequestTimeout)
	}
	if cfg.ProgressEvery != 10 {
		t.Fatalf("ProgressEvery override failed, got %d", cfg.ProgressEvery)
	}
	wantAPI := APIConfig{
		URL:       "http://localhost:9000/service.php",
		ContextID: "7",
		CaptureID: "cap",
		Service:   "svc",
		Action:    "act",
		UserAgent: "probe/1.0",
	}
	if cfg.API != wantAPI {
		t.Fatalf("API override failed: %+v", cfg.API)
	}
	wantCreds := CredentialConfig{
		SessionKey:  "abc",
		Source:      CookieSourceFile,
		CookieFile:  "/tmp/cookies.txt",
		Domain:      "example.org",
		TokenCookie: "sid",
	}
	if cfg.Credentials != wantCreds {
		t.Fatalf("Credentials override failed: %+v", cfg.Credentials)
	}
	if !cfg.Status.Enable || cfg.Status.ListenAddr != ":9100" {
		t.Fatalf("Status override failed: %+v", cfg.Status)
	}
	wantOrigins := []string{"https://example.com", "https://other.test"}
	if !reflect.DeepEqual(cfg.Status.AllowedOrigins, wantOrigins) {
		t.Fatalf("AllowedOrigins mismatch: %+v", cfg.Status.AllowedOrigins)
	}
	if !cfg.Status.EnablePrometheus || !cfg.Status.EnablePprof {
		t.Fatalf("feature toggles override failed: %+v", cfg.Status)
	}
	if cfg.Status.WS.MaxClients != 8 || cfg.Status.WS.WriteTimeout != 10*time.Second || cfg.Status.WS.ReadTimeout != 45*time.Second {
		t.Fatalf("WS override failed: %+v", cfg.Status.WS)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "creepmon.yaml", `
output_file: results/run1.csv
original_length_mm: 60
experiment_start: "2025-08-12T09:00:00+01:00"
poll_interval: 15s
progress_every: 4
enable_prometheus: true
allowed_origins:
  - https://a.test
  - https://b.test
`)

	cfg, err := Load(LoadOptions{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.OutputFile != "results/run1.csv" {
		t.Fatalf("OutputFile from file failed, got %q", cfg.OutputFile)
	}
	if cfg.OriginalLengthMM != 60 {
		t.Fatalf("OriginalLengthMM from file failed, got %v", cfg.OriginalLengthMM)
	}
	if !cfg.ExperimentStart.Equal(time.Date(2025, 8, 12, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("ExperimentStart from file failed, got %s", cfg.ExperimentStart)
	}
	if cfg.PollInterval != 15*time.Second || cfg.ProgressEvery != 4 {
		t.Fatalf("interval settings from file failed: %s %d", cfg.PollInterval, cfg.ProgressEvery)
	}
	if !cfg.Status.EnablePrometheus {
		t.Fatalf("EnablePrometheus from file failed")
	}
	if !reflect.DeepEqual(cfg.Status.AllowedOrigins, []string{"https://a.test", "https://b.test"}) {
		t.Fatalf("AllowedOrigins from file failed: %+v", cfg.Status.AllowedOrigins)
	}
}

func TestLoadPrecedence(t *testing.T) {
	configPath := writeFile(t, "creepmon.yaml", "poll_interval: 15s\nprogress_every: 4\nservice: from-yaml\n")
	envPath := writeFile(t, "creepmon.env", "APP_POLL_INTERVAL=20s\nAPP_SERVICE=from-dotenv\n")
	t.Setenv("APP_SERVICE", "from-env")

	cfg, err := Load(LoadOptions{ConfigFile: configPath, EnvFile: envPath})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ProgressEvery != 4 {
		t.Fatalf("expected YAML value when nothing overrides it, got %d", cfg.ProgressEvery)
	}
	if cfg.PollInterval != 20*time.Second {
		t.Fatalf("expected dotenv to override YAML, got %s", cfg.PollInterval)
	}
	if cfg.API.Service != "from-env" {
		t.Fatalf("expected environment to override dotenv, got %q", cfg.API.Service)
	}
	if _, ok := os.LookupEnv("APP_POLL_INTERVAL"); ok {
		t.Fatalf("dotenv values must not leak into the process environment")
	}
}

func TestLoadMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	if _, err := Load(LoadOptions{ConfigFile: missing}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
	if _, err := Load(LoadOptions{EnvFile: missing}); err == nil {
		t.Fatalf("expected error for explicit missing env file")
	}

	t.Chdir(t.TempDir())
	if _, err := Load(LoadOptions{EnvFile: DefaultEnvFile}); err != nil {
		t.Fatalf("missing default env file must be ignored, got %v", err)
	}
}

func TestLoadInvalidConfigFile(t *testing.T) {
	testCases := map[string]string{
		"Syntax": "poll_interval: [",
		"Nested": "api:\n  url: https://example.com\n",
		"Value":  "poll_interval: soon\n",
	}

	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "bad.yaml", content)
			if _, err := Load(LoadOptions{ConfigFile: path}); err == nil {
				t.Fatalf("expected error for %q", content)
			}
		})
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"InvalidLogLevel", "APP_LOG_LEVEL", "loud"},
		{"InvalidLength", "APP_ORIGINAL_LENGTH_MM", "long"},
		{"NonPositiveLength", "APP_ORIGINAL_LENGTH_MM", "0"},
		{"InvalidStart", "APP_EXPERIMENT_START", "yesterday"},
		{"InvalidOffset", "APP_DISPLAY_UTC_OFFSET", "one hour"},
		{"OffsetOutOfRange", "APP_DISPLAY_UTC_OFFSET", "15h"},
		{"NonPositiveDuration", "APP_RUN_DURATION", "0s"},
		{"InvalidInterval", "APP_POLL_INTERVAL", "often"},
		{"NegativeInterval", "APP_POLL_INTERVAL", "-1s"},
		{"InvalidProgressEvery", "APP_PROGRESS_EVERY", "sometimes"},
		{"NonPositiveProgressEvery", "APP_PROGRESS_EVERY", "0"},
		{"NonPositiveTimeout", "APP_REQUEST_TIMEOUT", "0"},
		{"RelativeURL", "APP_API_URL", "/service.php"},
		{"UnsupportedScheme", "APP_API_URL", "ftp://example.com/x"},
		{"InvalidCookieSource", "APP_COOKIE_SOURCE", "firefox-sync"},
		{"FileSourceWithoutPath", "APP_COOKIE_SOURCE", "file"},
		{"InvalidStatusEnable", "APP_STATUS_ENABLE", "maybe"},
		{"InvalidOrigins", "APP_ALLOWED_ORIGINS", ","},
		{"InvalidPrometheusBool", "APP_ENABLE_PROMETHEUS", "maybe"},
		{"InvalidPprofBool", "APP_ENABLE_PPROF", "maybe"},
		{"InvalidWSMaxClients", "APP_WS_MAX_CLIENTS", "zero"},
		{"NonPositiveWSMaxClients", "APP_WS_MAX_CLIENTS", "0"},
		{"InvalidWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "nope"},
		{"NegativeWSReadTimeout", "APP_WS_READ_TIMEOUT", "-1s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(LoadOptions{}); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}
