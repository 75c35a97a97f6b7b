package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is read when present; a missing default file is not an error.
const DefaultEnvFile = ".env"

// DefaultAPIURL is the sensor service endpoint.
const DefaultAPIURL = "https://learn5.open.ac.uk/mod/htmlactivity/api/service.php"

// Cookie source kinds.
const (
	CookieSourceBrowser = "browser"
	CookieSourceFile    = "file"
	CookieSourceNone    = "none"
)

// Config represents runtime configuration.
type Config struct {
	OutputFile       string
	LogFile          string
	LogLevel         slog.Level
	OriginalLengthMM float64
	ExperimentStart  time.Time
	DisplayOffset    time.Duration
	RunDuration      time.Duration
	PollInterval     time.Duration
	ProgressEvery    int
	RequestTimeout   time.Duration
	API              APIConfig
	Credentials      CredentialConfig
	Status           StatusConfig
}

// APIConfig describes the remote sensor endpoint and its form fields.
type APIConfig struct {
	URL       string
	ContextID string
	CaptureID string
	Service   string
	Action    string
	UserAgent string
}

// CredentialConfig controls where session cookies come from.
type CredentialConfig struct {
	SessionKey  string
	Source      string
	CookieFile  string
	Domain      string
	TokenCookie string
}

// StatusConfig captures the optional status server settings.
type StatusConfig struct {
	Enable           bool
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	WS               WebsocketConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// DisplayZone returns the fixed zone used for journal dates.
func (c Config) DisplayZone() *time.Location {
	return time.FixedZone(formatOffset(c.DisplayOffset), int(c.DisplayOffset/time.Second))
}

// LoadOptions selects optional configuration files.
type LoadOptions struct {
	// ConfigFile is a YAML file with lower-case keys, e.g. poll_interval.
	ConfigFile string
	// EnvFile is a dotenv file. Real environment variables take precedence.
	EnvFile string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputFile:       "sensor_data.csv",
		LogFile:          "sensor_monitor.log",
		LogLevel:         slog.LevelInfo,
		OriginalLengthMM: 50,
		ExperimentStart:  time.Date(2025, time.August, 11, 11, 0, 0, 0, time.UTC),
		DisplayOffset:    time.Hour,
		RunDuration:      7 * 24 * time.Hour,
		PollInterval:     30 * time.Second,
		ProgressEvery:    120,
		RequestTimeout:   10 * time.Second,
		API: APIConfig{
			URL:       DefaultAPIURL,
			ContextID: "3",
			CaptureID: "t193_creep_capture",
			Service:   "creep",
			Action:    "getUpdate",
		},
		Credentials: CredentialConfig{
			Source:      CookieSourceBrowser,
			Domain:      "open.ac.uk",
			TokenCookie: "s",
		},
		Status: StatusConfig{
			Enable:         false,
			ListenAddr:     "127.0.0.1:8080",
			AllowedOrigins: []string{"*"},
			WS: WebsocketConfig{
				MaxClients:   64,
				WriteTimeout: 3 * time.Second,
				ReadTimeout:  60 * time.Second,
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file, the
// optional dotenv file and the process environment, in rising priority.
func Load(opts LoadOptions) (Config, error) {
	src, err := newSource(opts)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	if value := src.get("APP_OUTPUT_FILE"); value != "" {
		cfg.OutputFile = value
	}

	if value, ok := src.lookup("APP_LOG_FILE"); ok {
		cfg.LogFile = strings.TrimSpace(value)
	}

	if value := src.get("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := src.get("APP_ORIGINAL_LENGTH_MM"); value != "" {
		length, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ORIGINAL_LENGTH_MM: %w", err)
		}
		if length <= 0 || math.IsInf(length, 0) || math.IsNaN(length) {
			return Config{}, fmt.Errorf("APP_ORIGINAL_LENGTH_MM must be > 0")
		}
		cfg.OriginalLengthMM = length
	}

	if value := src.get("APP_EXPERIMENT_START"); value != "" {
		start, err := parseInstant(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_EXPERIMENT_START: %w", err)
		}
		cfg.ExperimentStart = start
	}

	if value := src.get("APP_DISPLAY_UTC_OFFSET"); value != "" {
		offset, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_DISPLAY_UTC_OFFSET: %w", err)
		}
		if offset < -14*time.Hour || offset > 14*time.Hour {
			return Config{}, fmt.Errorf("APP_DISPLAY_UTC_OFFSET must be within ±14h")
		}
		cfg.DisplayOffset = offset
	}

	if value := src.get("APP_RUN_DURATION"); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_RUN_DURATION: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_RUN_DURATION must be > 0")
		}
		cfg.RunDuration = duration
	}

	if value := src.get("APP_POLL_INTERVAL"); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_POLL_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_POLL_INTERVAL must be > 0")
		}
		cfg.PollInterval = duration
	}

	if value := src.get("APP_PROGRESS_EVERY"); value != "" {
		every, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_PROGRESS_EVERY: %w", err)
		}
		if every <= 0 {
			return Config{}, fmt.Errorf("APP_PROGRESS_EVERY must be > 0")
		}
		cfg.ProgressEvery = every
	}

	if value := src.get("APP_REQUEST_TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_REQUEST_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_REQUEST_TIMEOUT must be > 0")
		}
		cfg.RequestTimeout = timeout
	}

	if value := src.get("APP_API_URL"); value != "" {
		parsed, err := url.Parse(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_API_URL: %w", err)
		}
		if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return Config{}, fmt.Errorf("APP_API_URL must be an absolute http(s) URL")
		}
		cfg.API.URL = value
	}

	if value := src.get("APP_CONTEXT_ID"); value != "" {
		cfg.API.ContextID = value
	}

	if value := src.get("APP_CAPTURE_ID"); value != "" {
		cfg.API.CaptureID = value
	}

	if value := src.get("APP_SERVICE"); value != "" {
		cfg.API.Service = value
	}

	if value := src.get("APP_ACTION"); value != "" {
		cfg.API.Action = value
	}

	if value := src.get("APP_USER_AGENT"); value != "" {
		cfg.API.UserAgent = value
	}

	if value := src.get("APP_SESSION_KEY"); value != "" {
		cfg.Credentials.SessionKey = value
	}

	if value := src.get("APP_COOKIE_SOURCE"); value != "" {
		kind := strings.ToLower(value)
		switch kind {
		case CookieSourceBrowser, CookieSourceFile, CookieSourceNone:
		default:
			return Config{}, fmt.Errorf("APP_COOKIE_SOURCE must be one of browser, file, none")
		}
		cfg.Credentials.Source = kind
	}

	if value := src.get("APP_COOKIE_FILE"); value != "" {
		cfg.Credentials.CookieFile = value
	}

	if value := src.get("APP_COOKIE_DOMAIN"); value != "" {
		cfg.Credentials.Domain = value
	}

	if value := src.get("APP_TOKEN_COOKIE"); value != "" {
		cfg.Credentials.TokenCookie = value
	}

	if cfg.Credentials.Source == CookieSourceFile && cfg.Credentials.CookieFile == "" {
		return Config{}, fmt.Errorf("APP_COOKIE_FILE is required when APP_COOKIE_SOURCE=file")
	}

	if value := src.get("APP_STATUS_ENABLE"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_STATUS_ENABLE: %w", err)
		}
		cfg.Status.Enable = enabled
	}

	if value := src.get("APP_LISTEN_ADDR"); value != "" {
		cfg.Status.ListenAddr = value
	}

	if value := src.get("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.Status.AllowedOrigins = origins
	}

	if value := src.get("APP_ENABLE_PROMETHEUS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.Status.EnablePrometheus = enabled
	}

	if value := src.get("APP_ENABLE_PPROF"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.Status.EnablePprof = enabled
	}

	if value := src.get("APP_WS_MAX_CLIENTS"); value != "" {
		maxClients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_MAX_CLIENTS: %w", err)
		}
		if maxClients <= 0 {
			return Config{}, fmt.Errorf("APP_WS_MAX_CLIENTS must be > 0")
		}
		cfg.Status.WS.MaxClients = maxClients
	}

	if value := src.get("APP_WS_WRITE_TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_WRITE_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_WS_WRITE_TIMEOUT must be > 0")
		}
		cfg.Status.WS.WriteTimeout = timeout
	}

	if value := src.get("APP_WS_READ_TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_READ_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_WS_READ_TIMEOUT must be > 0")
		}
		cfg.Status.WS.ReadTimeout = timeout
	}

	return cfg, nil
}

// source resolves APP_* keys across the environment, the dotenv file and the
// YAML file.
type source struct {
	dotenv map[string]string
	file   map[string]string
}

func newSource(opts LoadOptions) (source, error) {
	src := source{}

	if path := strings.TrimSpace(opts.ConfigFile); path != "" {
		values, err := readYAML(path)
		if err != nil {
			return source{}, err
		}
		src.file = values
	}

	if path := strings.TrimSpace(opts.EnvFile); path != "" {
		values, err := godotenv.Read(path)
		switch {
		case err == nil:
			src.dotenv = values
		case errors.Is(err, fs.ErrNotExist) && path == DefaultEnvFile:
		default:
			return source{}, fmt.Errorf("read env file %s: %w", path, err)
		}
	}

	return src, nil
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	if value, ok := s.dotenv[key]; ok {
		return value, true
	}
	value, ok := s.file[key]
	return value, ok
}

func (s source) get(key string) string {
	value, _ := s.lookup(key)
	return strings.TrimSpace(value)
}

func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		envKey := "APP_" + strings.ToUpper(strings.TrimSpace(key))
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			out[envKey] = strings.Join(items, ",")
		case time.Time:
			out[envKey] = v.Format(time.RFC3339)
		case map[string]any:
			return nil, fmt.Errorf("config key %q: nested values are not supported", key)
		default:
			out[envKey] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func parseInstant(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or \"YYYY-MM-DD hh:mm:ss\" (UTC), got %q", value)
	}
	return t, nil
}

func formatOffset(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hours := int(offset / time.Hour)
	minutes := int((offset % time.Hour) / time.Minute)
	if minutes == 0 {
		return fmt.Sprintf("UTC%s%d", sign, hours)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, hours, minutes)
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
