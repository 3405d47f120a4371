package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	HTTP       HTTPConfig       `yaml:"http"`
	Backend    BackendConfig    `yaml:"backend"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// HTTPConfig is the listener of the calendar front.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig points the front at the schedule backend.
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	CSRFHeader string        `yaml:"csrf_header"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Retry      RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type DatabaseConfig struct {
	Path     string       `yaml:"path"`
	SeedFile string       `yaml:"seed_file"`
	Backup   BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// ScheduleConfig carries the calendar interaction rules.
type ScheduleConfig struct {
	// PrivilegeThreshold: privileges strictly above it may book past dates.
	PrivilegeThreshold int `yaml:"privilege_threshold"`
	// PrivilegeHeader is trusted as is; a proxy must set it and drop any
	// copy sent by the client.
	PrivilegeHeader string `yaml:"privilege_header"`
	Timezone        string `yaml:"timezone"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	CSRF      APICSRFConfig      `yaml:"csrf"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIGRPCConfig struct {
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APICSRFConfig struct {
	Enabled bool     `yaml:"enabled"`
	Header  string   `yaml:"header"`
	Tokens  []string `yaml:"tokens"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	SheetName string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend base_url is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base_url must be http(s): %q", c.Backend.BaseURL)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Schedule.PrivilegeThreshold < 0 {
		return fmt.Errorf("schedule privilege_threshold must not be negative: %d", c.Schedule.PrivilegeThreshold)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}
	if c.Backend.Retry.BackoffFactor < 1 {
		return fmt.Errorf("backend retry backoff_factor must be >= 1: %v", c.Backend.Retry.BackoffFactor)
	}
	if c.API.CSRF.Enabled && len(c.API.CSRF.Tokens) == 0 {
		return errors.New("api csrf is enabled but no tokens are configured")
	}
	return nil
}

// Location resolves the configured timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "dosu"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = fmt.Sprintf("http://localhost:%d", 8080)
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Backend.CSRFHeader == "" {
		c.Backend.CSRFHeader = "X-CSRF-Token"
	}
	if c.Backend.CacheTTL == 0 {
		c.Backend.CacheTTL = 5 * time.Minute
	}
	if c.Backend.Retry.MaxRetries == 0 {
		c.Backend.Retry.MaxRetries = 2
	}
	if c.Backend.Retry.InitialDelay == 0 {
		c.Backend.Retry.InitialDelay = 100 * time.Millisecond
	}
	if c.Backend.Retry.MaxDelay == 0 {
		c.Backend.Retry.MaxDelay = 2 * time.Second
	}
	if c.Backend.Retry.BackoffFactor == 0 {
		c.Backend.Retry.BackoffFactor = 2
	}

	if c.Database.Path == "" {
		c.Database.Path = "data/dosu.db"
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "data/backups"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Schedule.PrivilegeThreshold == 0 {
		c.Schedule.PrivilegeThreshold = 2
	}
	if c.Schedule.PrivilegeHeader == "" {
		c.Schedule.PrivilegeHeader = "X-User-Privilege"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Local"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.CSRF.Header == "" {
		c.API.CSRF.Header = c.Backend.CSRFHeader
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}

	if c.Exports.SheetName == "" {
		c.Exports.SheetName = "Schedule"
	}
}
