package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, errors.Wrap(err, "config load")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation")
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				return errors.Newf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return errors.Wrapf(err, "invalid value for %s=%q", envName, value)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return errors.Wrap(err, "invalid duration")
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return errors.Wrap(err, "invalid integer")
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Wrap(err, "invalid number")
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrap(err, "invalid boolean")
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return errors.Newf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return errors.Newf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT must be non-negative")
	}

	// Catalog
	if u, err := url.Parse(c.Catalog.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("CATALOG_API_URL (%q) must be an http(s) URL", c.Catalog.URL))
	}
	if c.Catalog.Timeout <= 0 {
		errs = append(errs, "CATALOG_TIMEOUT must be positive")
	}
	if c.Catalog.RatePerSecond < 0 {
		errs = append(errs, "CATALOG_RATE_PER_SEC must be non-negative")
	}
	if c.Catalog.RatePerSecond > 0 && c.Catalog.Burst <= 0 {
		errs = append(errs, "CATALOG_RATE_BURST must be positive when throttling is enabled")
	}

	// Import
	switch strings.ToLower(c.Import.Delimiter) {
	case ",", ";", "tab", `\t`, "\t":
	default:
		errs = append(errs, fmt.Sprintf("IMPORT_DELIMITER (%q) must be one of: , ; tab", c.Import.Delimiter))
	}
	switch strings.ToLower(c.Import.Encoding) {
	case "utf-8", "utf8", "iso-8859-1", "latin1", "windows-1252", "cp1252":
	default:
		errs = append(errs, fmt.Sprintf("IMPORT_ENCODING (%q) must be one of: utf-8, iso-8859-1, windows-1252", c.Import.Encoding))
	}
	if c.Import.Concurrency < 1 || c.Import.Concurrency > 3 {
		errs = append(errs, fmt.Sprintf("IMPORT_CONCURRENCY (%d) must be 1-3", c.Import.Concurrency))
	}
	switch strings.ToLower(c.Import.HierarchyMode) {
	case "strict", "lenient":
	default:
		errs = append(errs, fmt.Sprintf("IMPORT_HIERARCHY_MODE (%q) must be strict or lenient", c.Import.HierarchyMode))
	}
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.MaxConcurrentRuns <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}

	// Operation log
	switch strings.ToLower(c.OpLog.Backend) {
	case "memory":
	case "file":
		if c.OpLog.Dir == "" {
			errs = append(errs, "OPLOG_DIR is required for the file backend")
		}
	case "redis":
		if c.OpLog.RedisURL == "" {
			errs = append(errs, "OPLOG_REDIS_URL is required for the redis backend")
		}
	case "postgres":
		if c.OpLog.DatabaseURL == "" {
			errs = append(errs, "OPLOG_DATABASE_URL is required for the postgres backend")
		}
		if c.OpLog.DBMaxConns <= 0 {
			errs = append(errs, "OPLOG_DB_MAX_CONNS must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("OPLOG_BACKEND (%q) must be one of: memory, file, redis, postgres", c.OpLog.Backend))
	}
	if c.OpLog.Key == "" {
		errs = append(errs, "OPLOG_KEY must not be empty")
	}
	if c.OpLog.MaxLogs < 0 {
		errs = append(errs, "OPLOG_MAX_LOGS must be non-negative")
	}
	if c.OpLog.MaxAge < 0 {
		errs = append(errs, "OPLOG_MAX_AGE must be non-negative")
	}
	if c.OpLog.MaxAge > 0 && c.OpLog.SweepInterval <= 0 {
		errs = append(errs, "OPLOG_SWEEP_INTERVAL must be positive when OPLOG_MAX_AGE is set")
	}

	// Export
	switch strings.ToLower(c.Export.Sink) {
	case "none":
	case "file":
		if c.Export.Dir == "" {
			errs = append(errs, "EXPORT_DIR is required for the file sink")
		}
	case "s3":
		if c.Export.S3Bucket == "" {
			errs = append(errs, "EXPORT_S3_BUCKET is required for the s3 sink")
		}
	default:
		errs = append(errs, fmt.Sprintf("EXPORT_SINK (%q) must be one of: none, file, s3", c.Export.Sink))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.Newf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Connection strings are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Catalog: {URL: %q, RatePerSecond: %g}, ", c.Catalog.URL, c.Catalog.RatePerSecond)
	fmt.Fprintf(&b, "Import: {Concurrency: %d, HierarchyMode: %q, MaxFileSize: %d}, ",
		c.Import.Concurrency, c.Import.HierarchyMode, c.Import.MaxFileSize)
	fmt.Fprintf(&b, "OpLog: {Backend: %q, Redis: %s, Database: %s}, ",
		c.OpLog.Backend, mask(c.OpLog.RedisURL), mask(c.OpLog.DatabaseURL))
	fmt.Fprintf(&b, "Export: {Sink: %q}, ", c.Export.Sink)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
