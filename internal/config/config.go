// Package config provides unified configuration for the qgate server.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for qgate.
type Config struct {
	// Server configures the client-facing TCP listener
	Server ServerConfig `json:"server" yaml:"server"`

	// Pool configures the database session pool and dispatcher workers
	Pool PoolConfig `json:"pool" yaml:"pool"`

	// Database configures how sessions are opened
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Cache configures the query result cache
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Scheduler configures task selection
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// Instrument configures the resource-usage sampler
	Instrument InstrumentConfig `json:"instrument" yaml:"instrument"`

	// Report configures maintenance report output
	Report ReportConfig `json:"report" yaml:"report"`

	// Admin configures the metrics and health endpoints
	Admin AdminConfig `json:"admin" yaml:"admin"`

	// Log configures structured logging
	Log LogConfig `json:"log" yaml:"log"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	// Addr is the TCP bind address for client sessions
	Addr string `json:"addr" yaml:"addr"`

	// ShutdownGrace bounds how long in-flight tasks may run after shutdown begins
	ShutdownGrace time.Duration `json:"shutdown_grace" yaml:"shutdown_grace"`

	// MaxPayloadBytes is the size of a single query receive
	MaxPayloadBytes int `json:"max_payload_bytes" yaml:"max_payload_bytes"`
}

// PoolConfig holds session pool configuration.
type PoolConfig struct {
	// Size is the number of database sessions and dispatcher workers
	Size int `json:"size" yaml:"size"`

	// ReopenBackoff is the initial delay before reopening an invalidated session
	ReopenBackoff time.Duration `json:"reopen_backoff" yaml:"reopen_backoff"`
}

// DatabaseConfig holds database session configuration.
type DatabaseConfig struct {
	// Driver is the database/sql driver name: sqlite3, mysql, postgres
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific data source name
	DSN string `json:"dsn" yaml:"dsn"`

	// PingTimeout bounds the health probe run after a failed query
	PingTimeout time.Duration `json:"ping_timeout" yaml:"ping_timeout"`

	// QueryTimeout bounds a single query; zero means no timeout
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// InitStatements run on every session right after it opens, e.g.
	// session settings or PRAGMAs
	InitStatements []string `json:"init_statements" yaml:"init_statements"`
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	// Enabled turns the networked cache on; the in-process cache is always available
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Redis holds the networked cache endpoint
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// TTLSeconds is the lifetime of a cached result
	TTLSeconds int `json:"ttl_seconds" yaml:"ttl_seconds"`

	// MaxEntries bounds the in-process cache (0 = unbounded)
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// RetryInterval is how long the networked cache stays bypassed after a failure
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`

	// CountInScenario records cache hits into the result ledger
	CountInScenario bool `json:"count_in_scenario" yaml:"count_in_scenario"`
}

// RedisConfig holds the Redis endpoint.
type RedisConfig struct {
	Host     string        `json:"host" yaml:"host"`
	Port     int           `json:"port" yaml:"port"`
	DB       int           `json:"db" yaml:"db"`
	Password string        `json:"password" yaml:"password"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// Addr returns host:port for the Redis endpoint.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// SchedulerConfig holds task queue configuration.
type SchedulerConfig struct {
	// Backoff is the longest an idle worker sleeps before rescanning the queue
	Backoff time.Duration `json:"backoff" yaml:"backoff"`
}

// InstrumentConfig holds resource sampler configuration.
type InstrumentConfig struct {
	// Enabled selects the process sampler; when false only latency is measured
	Enabled bool `json:"enabled" yaml:"enabled"`

	// SampleInterval is the period of the during-execution sampler
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`

	// NetWindow is the window over which pre/post network rates are measured
	NetWindow time.Duration `json:"net_window" yaml:"net_window"`

	// PostSettle is the pause between query completion and the post snapshot
	PostSettle time.Duration `json:"post_settle" yaml:"post_settle"`
}

// ReportConfig holds maintenance report configuration.
type ReportConfig struct {
	// Dir is the local directory for figures and summaries
	Dir string `json:"dir" yaml:"dir"`

	// Storage publishes the artifacts to object storage
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// AdminConfig holds admin surface configuration.
type AdminConfig struct {
	// HTTPAddr serves /metrics, /healthz and /v1/stats; empty disables it
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`

	// GRPCAddr serves the standard gRPC health service
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`

	// GRPCEnabled controls whether the gRPC health service runs
	GRPCEnabled bool `json:"grpc_enabled" yaml:"grpc_enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9001",
			ShutdownGrace:   5 * time.Second,
			MaxPayloadBytes: 16 * 1024,
		},
		Pool: PoolConfig{
			Size:          10,
			ReopenBackoff: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         "file::memory:?cache=shared",
			PingTimeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Redis: RedisConfig{
				Host:    "127.0.0.1",
				Port:    6379,
				Timeout: time.Second,
			},
			TTLSeconds:      300,
			RetryInterval:   30 * time.Second,
			CountInScenario: true,
		},
		Scheduler: SchedulerConfig{
			Backoff: 50 * time.Millisecond,
		},
		Instrument: InstrumentConfig{
			Enabled:        true,
			SampleInterval: 100 * time.Millisecond,
			NetWindow:      200 * time.Millisecond,
			PostSettle:     250 * time.Millisecond,
		},
		Report: ReportConfig{
			Dir: "./results/optimized",
			Storage: StorageConfig{
				Type: "none",
			},
		},
		Admin: AdminConfig{
			HTTPAddr:    ":9102",
			GRPCAddr:    ":9103",
			GRPCEnabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve fills derived paths and defaults.
func (c *Config) Resolve() {
	if c.Report.Dir == "" {
		c.Report.Dir = "./results/optimized"
	}
	if c.Report.Storage.Type == "local" && c.Report.Storage.Path == "" {
		c.Report.Storage.Path = filepath.Join(c.Report.Dir, "published")
	}
	if c.Server.MaxPayloadBytes <= 0 {
		c.Server.MaxPayloadBytes = 16 * 1024
	}
	if c.Scheduler.Backoff <= 0 {
		c.Scheduler.Backoff = 50 * time.Millisecond
	}
}

// CacheTTL returns the cache lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	}

	switch c.Database.Driver {
	case "sqlite3", "mysql", "postgres":
		// Valid drivers
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite3, mysql, or postgres)", c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive, got %d", c.Cache.TTLSeconds)
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}

	switch c.Report.Storage.Type {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("invalid report storage type: %s (must be none, local, or s3)", c.Report.Storage.Type)
	}

	if c.Report.Storage.Type == "s3" && c.Report.Storage.S3.Bucket == "" {
		return fmt.Errorf("report.storage.s3.bucket is required when storage type is s3")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the QGATE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QGATE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("QGATE_PORT"); v != "" {
		host, _, err := net.SplitHostPort(cfg.Server.Addr)
		if err != nil {
			host = ""
		}
		cfg.Server.Addr = net.JoinHostPort(host, v)
	}
	if v := os.Getenv("QGATE_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownGrace = d
		}
	}

	// Pool and database
	if v := os.Getenv("QGATE_POOL_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Pool.Size)
	}
	if v := os.Getenv("QGATE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("QGATE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Cache
	if v := os.Getenv("QGATE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QGATE_REDIS_HOST"); v != "" {
		cfg.Cache.Redis.Host = v
	}
	if v := os.Getenv("QGATE_REDIS_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Cache.Redis.Port)
	}
	if v := os.Getenv("QGATE_REDIS_DB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Cache.Redis.DB)
	}
	if v := os.Getenv("QGATE_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("QGATE_CACHE_TTL"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Cache.TTLSeconds)
	}
	if v := os.Getenv("QGATE_COUNT_CACHE_IN_SCENARIO"); v != "" {
		cfg.Cache.CountInScenario = v == "true" || v == "1"
	}

	// Instrumentation
	if v := os.Getenv("QGATE_INSTRUMENT_ENABLED"); v != "" {
		cfg.Instrument.Enabled = v == "true" || v == "1"
	}

	// Report
	if v := os.Getenv("QGATE_REPORT_DIR"); v != "" {
		cfg.Report.Dir = v
	}
	if v := os.Getenv("QGATE_REPORT_STORAGE_TYPE"); v != "" {
		cfg.Report.Storage.Type = v
	}
	if v := os.Getenv("QGATE_S3_BUCKET"); v != "" {
		cfg.Report.Storage.S3.Bucket = v
	}
	if v := os.Getenv("QGATE_S3_REGION"); v != "" {
		cfg.Report.Storage.S3.Region = v
	}
	if v := os.Getenv("QGATE_S3_ENDPOINT"); v != "" {
		cfg.Report.Storage.S3.Endpoint = v
	}

	// Admin and logging
	if v, ok := os.LookupEnv("QGATE_ADMIN_HTTP_ADDR"); ok {
		cfg.Admin.HTTPAddr = v
	}
	if v := os.Getenv("QGATE_ADMIN_GRPC_ADDR"); v != "" {
		cfg.Admin.GRPCAddr = v
	}
	if v := os.Getenv("QGATE_ADMIN_GRPC_ENABLED"); v != "" {
		cfg.Admin.GRPCEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("QGATE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Report.Dir,
		filepath.Join(c.Report.Dir, "plots"),
	}
	if c.Report.Storage.Type == "local" {
		dirs = append(dirs, c.Report.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
