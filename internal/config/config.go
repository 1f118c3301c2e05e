// Package config loads application settings from environment variables with
// defaults, and validates them on startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Catalog CatalogConfig
	Import  ImportConfig
	OpLog   OpLogConfig
	Export  ExportConfig
	CORS    CORSConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is 0 by default so progress streams stay open
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to non-streaming API requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// RateLimit is requests per minute per client IP; 0 disables it (default: 100)
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"100"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// CatalogConfig points at the remote catalog API.
type CatalogConfig struct {
	// URL is the API base, e.g. https://catalog.example.com/api
	URL string `env:"CATALOG_API_URL" envAlt:"API_BASE_URL" default:"http://localhost:5000/api"`

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration `env:"CATALOG_TIMEOUT" default:"30s"`

	// RatePerSecond throttles outgoing calls; 0 disables the throttle (default: 10)
	RatePerSecond float64 `env:"CATALOG_RATE_PER_SEC" default:"10"`

	// Burst is the token bucket size (default: 5)
	Burst int `env:"CATALOG_RATE_BURST" default:"5"`
}

// ImportConfig holds parse and commit settings.
type ImportConfig struct {
	// Delimiter is one of "," ";" or "tab" (default: ",")
	Delimiter string `env:"IMPORT_DELIMITER" default:","`

	// Encoding is utf-8, iso-8859-1 or windows-1252 (default: utf-8)
	Encoding string `env:"IMPORT_ENCODING" default:"utf-8"`

	// Concurrency is rows in flight per run, 1-3 (default: 1)
	Concurrency int `env:"IMPORT_CONCURRENCY" default:"1"`

	// HierarchyMode is strict or lenient (default: lenient)
	HierarchyMode string `env:"IMPORT_HIERARCHY_MODE" default:"lenient"`

	// MaxFileSize is the largest accepted upload in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrentRuns is the number of imports allowed at once (default: 3)
	MaxConcurrentRuns int `env:"IMPORT_MAX_CONCURRENT_RUNS" default:"3"`

	// MaxWaitTime is how long a new import waits for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single run (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`
}

// OpLogConfig selects where operation logs are persisted.
type OpLogConfig struct {
	// Backend is memory, file, redis or postgres (default: file)
	Backend string `env:"OPLOG_BACKEND" default:"file"`

	// Dir is the file backend directory (default: ./data/oplog)
	Dir string `env:"OPLOG_DIR" default:"./data/oplog"`

	// Key is the storage key holding the collection
	Key string `env:"OPLOG_KEY" default:"stonecat_import_export_logs"`

	// MaxLogs caps retained logs; the oldest finished logs are dropped.
	// 0 keeps everything (default: 0)
	MaxLogs int `env:"OPLOG_MAX_LOGS" default:"0"`

	RedisURL string `env:"OPLOG_REDIS_URL" envAlt:"REDIS_URL"`

	DatabaseURL string `env:"OPLOG_DATABASE_URL" envAlt:"DATABASE_URL"`

	// DBMaxConns sizes the postgres pool (default: 4)
	DBMaxConns int `env:"OPLOG_DB_MAX_CONNS" default:"4"`

	// MaxAge prunes finished logs older than this; 0 keeps them (default: 0s)
	MaxAge time.Duration `env:"OPLOG_MAX_AGE" default:"0s"`

	// SweepInterval is how often old logs are pruned (default: 1h)
	SweepInterval time.Duration `env:"OPLOG_SWEEP_INTERVAL" default:"1h"`
}

// ExportConfig selects where server-side exports are written.
type ExportConfig struct {
	// Sink is none, file or s3 (default: none, exports are only downloaded)
	Sink string `env:"EXPORT_SINK" default:"none"`

	Dir string `env:"EXPORT_DIR" default:"./data/exports"`

	S3Bucket string `env:"EXPORT_S3_BUCKET"`
	S3Region string `env:"EXPORT_S3_REGION" envAlt:"AWS_REGION" default:"us-east-1"`
	S3Prefix string `env:"EXPORT_S3_PREFIX" default:"stonecat"`
}

// CORSConfig holds browser access settings.
type CORSConfig struct {
	// AllowedOrigins is a comma-separated origin list (default: http://localhost:3000)
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
