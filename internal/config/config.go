package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Security  SecurityConfig  `yaml:"security"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Source    SourceConfig    `yaml:"source"`
	Narrative NarrativeConfig `yaml:"narrative"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Events    EventsConfig    `yaml:"events"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SecurityConfig struct {
	EnableRateLimit bool     `yaml:"rate_limit_enabled"`
	RateLimitRPS    int      `yaml:"rate_limit_rps"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	TrustedProxies  []string `yaml:"trusted_proxies"`
}

// AnalysisConfig controls the window and cadence of pipeline runs.
type AnalysisConfig struct {
	WindowHours   int           `yaml:"window_hours"`
	TopCategories int           `yaml:"top_categories"`
	TopProducts   int           `yaml:"top_products"`
	Interval      time.Duration `yaml:"interval"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type SourceConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
	CSVFile string `yaml:"csv_file"`
}

type NarrativeConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Placeholder   string        `yaml:"placeholder"`
	RatePerMinute int           `yaml:"rate_per_minute"`
}

type SnapshotConfig struct {
	Path       string `yaml:"path"`
	HistoryDir string `yaml:"history_dir"`
	ReportID   string `yaml:"report_id"`
	MaxHistory int    `yaml:"max_history"`
}

// EventsConfig enables snapshot notifications when Brokers is non-empty.
type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8084,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			EnableRateLimit: true,
			RateLimitRPS:    50,
			RateLimitBurst:  10,
			AllowedOrigins:  []string{"http://localhost:8084"},
			TrustedProxies:  []string{"127.0.0.1", "::1"},
		},
		Analysis: AnalysisConfig{
			WindowHours:   24,
			TopCategories: 5,
			TopProducts:   10,
			Interval:      60 * time.Minute,
			FetchTimeout:  30 * time.Second,
		},
		Source: SourceConfig{
			Driver: "sqlite",
			DSN:    "data/sales.db",
			Table:  "sales",
		},
		Narrative: NarrativeConfig{
			Provider:      "genai",
			Model:         "gemini-2.5-flash",
			Timeout:       60 * time.Second,
			Placeholder:   "Narrative summary is unavailable for this run.",
			RatePerMinute: 30,
		},
		Snapshot: SnapshotConfig{
			Path:       "data/dashboard_data.json",
			HistoryDir: "data/history",
			MaxHistory: 168,
		},
		Events: EventsConfig{
			Topic: "sales-insight.snapshot",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvString("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Logger.Level = getEnvString("LOG_LEVEL", c.Logger.Level)
	c.Logger.Format = getEnvString("LOG_FORMAT", c.Logger.Format)

	c.Security.EnableRateLimit = getEnvBool("SECURITY_RATE_LIMIT_ENABLED", c.Security.EnableRateLimit)
	c.Security.RateLimitRPS = getEnvInt("SECURITY_RATE_LIMIT_RPS", c.Security.RateLimitRPS)
	c.Security.RateLimitBurst = getEnvInt("SECURITY_RATE_LIMIT_BURST", c.Security.RateLimitBurst)
	c.Security.AllowedOrigins = getEnvStringSlice("SECURITY_ALLOWED_ORIGINS", c.Security.AllowedOrigins)
	c.Security.TrustedProxies = getEnvStringSlice("SECURITY_TRUSTED_PROXIES", c.Security.TrustedProxies)

	c.Analysis.WindowHours = getEnvInt("ANALYSIS_WINDOW_HOURS", c.Analysis.WindowHours)
	c.Analysis.TopCategories = getEnvInt("ANALYSIS_TOP_CATEGORIES", c.Analysis.TopCategories)
	c.Analysis.TopProducts = getEnvInt("ANALYSIS_TOP_PRODUCTS", c.Analysis.TopProducts)
	if minutes := getEnvInt("ANALYSIS_INTERVAL_MINUTES", 0); minutes != 0 {
		c.Analysis.Interval = time.Duration(minutes) * time.Minute
	}
	c.Analysis.FetchTimeout = getEnvDuration("ANALYSIS_FETCH_TIMEOUT", c.Analysis.FetchTimeout)

	c.Source.Driver = getEnvString("SOURCE_DRIVER", c.Source.Driver)
	c.Source.DSN = getEnvString("SOURCE_DSN", c.Source.DSN)
	c.Source.Table = getEnvString("SOURCE_TABLE", c.Source.Table)
	c.Source.CSVFile = getEnvString("SOURCE_CSV_FILE", c.Source.CSVFile)

	c.Narrative.Provider = getEnvString("NARRATIVE_PROVIDER", c.Narrative.Provider)
	c.Narrative.Model = getEnvString("NARRATIVE_MODEL", c.Narrative.Model)
	c.Narrative.APIKey = getEnvString("NARRATIVE_API_KEY", c.Narrative.APIKey)
	c.Narrative.BaseURL = getEnvString("NARRATIVE_BASE_URL", c.Narrative.BaseURL)
	c.Narrative.Timeout = getEnvDuration("NARRATIVE_TIMEOUT", c.Narrative.Timeout)
	c.Narrative.Placeholder = getEnvString("NARRATIVE_PLACEHOLDER", c.Narrative.Placeholder)
	c.Narrative.RatePerMinute = getEnvInt("NARRATIVE_RATE_PER_MINUTE", c.Narrative.RatePerMinute)

	c.Snapshot.Path = getEnvString("SNAPSHOT_PATH", c.Snapshot.Path)
	c.Snapshot.HistoryDir = getEnvString("SNAPSHOT_HISTORY_DIR", c.Snapshot.HistoryDir)
	c.Snapshot.ReportID = getEnvString("SNAPSHOT_REPORT_ID", c.Snapshot.ReportID)
	c.Snapshot.MaxHistory = getEnvInt("SNAPSHOT_MAX_HISTORY", c.Snapshot.MaxHistory)

	c.Events.Brokers = getEnvStringSlice("EVENTS_BROKERS", c.Events.Brokers)
	c.Events.Topic = getEnvString("EVENTS_TOPIC", c.Events.Topic)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	if c.Analysis.WindowHours <= 0 {
		return fmt.Errorf("analysis window must be at least one hour, got %d", c.Analysis.WindowHours)
	}

	if c.Analysis.TopCategories <= 0 || c.Analysis.TopProducts <= 0 {
		return fmt.Errorf("top category and top product counts must be positive")
	}

	if c.Analysis.Interval <= 0 {
		return fmt.Errorf("analysis interval must be positive")
	}

	if c.Analysis.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}

	switch c.Source.Driver {
	case "sqlite":
		if c.Source.DSN == "" {
			return fmt.Errorf("source DSN cannot be empty for the sqlite driver")
		}
		if !validIdentifier(c.Source.Table) {
			return fmt.Errorf("invalid source table name %q", c.Source.Table)
		}
	case "csv":
		if c.Source.CSVFile == "" {
			return fmt.Errorf("CSV file path cannot be empty for the csv driver")
		}
	default:
		return fmt.Errorf("invalid source driver %q, must be one of: sqlite, csv", c.Source.Driver)
	}

	validProviders := []string{"genai", "openai", "disabled"}
	if !contains(validProviders, c.Narrative.Provider) {
		return fmt.Errorf("invalid narrative provider %q, must be one of: %s", c.Narrative.Provider, strings.Join(validProviders, ", "))
	}

	if c.Narrative.Timeout <= 0 {
		return fmt.Errorf("narrative timeout must be positive")
	}

	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot path cannot be empty")
	}

	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("events topic is required when brokers are configured")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validIdentifier guards the table name, which is interpolated into SQL.
func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
