// Package app assembles the service from configuration. Both the HTTP server
// and the command line tool start through Open.
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/stonecat/internal/catalog"
	"github.com/JonMunkholm/stonecat/internal/config"
	"github.com/JonMunkholm/stonecat/internal/core"
	"github.com/JonMunkholm/stonecat/internal/oplog"
	"github.com/JonMunkholm/stonecat/internal/sink"
)

// App holds the wired service and the resources it owns.
type App struct {
	Service *core.Service
	Logs    *oplog.Store

	closers []func()
}

// Open builds the catalog client, the operation log store (loading any
// persisted history) and the export sink, then the service on top of them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	api, err := catalog.New(catalog.Config{
		BaseURL:       cfg.Catalog.URL,
		Timeout:       cfg.Catalog.Timeout,
		RatePerSecond: cfg.Catalog.RatePerSecond,
		Burst:         cfg.Catalog.Burst,
	})
	if err != nil {
		return nil, err
	}

	storage, err := a.openStorage(ctx, cfg.OpLog, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Logs = oplog.NewStore(storage, oplog.Options{
		Key:     cfg.OpLog.Key,
		MaxLogs: cfg.OpLog.MaxLogs,
		Logger:  logger,
	})
	if _, err := a.Logs.Load(ctx); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "load operation logs")
	}

	out, err := openSink(ctx, cfg.Export)
	if err != nil {
		a.Close()
		return nil, err
	}

	svcCfg, err := serviceConfig(cfg.Import)
	if err != nil {
		a.Close()
		return nil, err
	}
	svcCfg.Logger = logger

	a.Service = core.NewService(api, a.Logs, out, svcCfg)

	logger.Info("service ready",
		"catalog", cfg.Catalog.URL,
		"oplog_backend", cfg.OpLog.Backend,
		"logs_loaded", a.Logs.Len(),
		"export_sink", cfg.Export.Sink,
	)
	return a, nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStorage(ctx context.Context, cfg config.OpLogConfig, logger *slog.Logger) (oplog.Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return oplog.NewMemoryStorage(), nil

	case "file":
		fs, err := oplog.NewFileStorage(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = fs.Close() })
		return fs, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse OPLOG_REDIS_URL")
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		return oplog.NewRedisStorage(client), nil

	case "postgres":
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse OPLOG_DATABASE_URL")
		}
		poolConfig.MaxConns = int32(cfg.DBMaxConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, errors.Wrap(err, "connect to database")
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, errors.Wrap(err, "ping database")
		}
		return oplog.NewPostgresStorage(ctx, pool)

	default:
		return nil, errors.Newf("unknown oplog backend %q", cfg.Backend)
	}
}

// openSink returns nil when server-side exports are disabled.
func openSink(ctx context.Context, cfg config.ExportConfig) (sink.Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case "", "none":
		return nil, nil
	case "file":
		fs, err := sink.NewFileSink(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "s3":
		s3s, err := sink.NewS3SinkFromEnv(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		return s3s, nil
	default:
		return nil, errors.Newf("unknown export sink %q", cfg.Sink)
	}
}

// serviceConfig converts the import settings into service defaults.
func serviceConfig(cfg config.ImportConfig) (core.ServiceConfig, error) {
	parse := core.DefaultParseOptions()

	d, err := core.ParseDelimiter(cfg.Delimiter)
	if err != nil {
		return core.ServiceConfig{}, errors.Wrap(err, "IMPORT_DELIMITER")
	}
	parse.Delimiter = d

	enc, err := core.ParseEncoding(cfg.Encoding)
	if err != nil {
		return core.ServiceConfig{}, errors.Wrap(err, "IMPORT_ENCODING")
	}
	parse.Encoding = enc

	mode, err := core.ParseHierarchyMode(cfg.HierarchyMode)
	if err != nil {
		return core.ServiceConfig{}, errors.Wrap(err, "IMPORT_HIERARCHY_MODE")
	}

	return core.ServiceConfig{
		Parse:             parse,
		Concurrency:       cfg.Concurrency,
		HierarchyMode:     mode,
		MaxFileSize:       cfg.MaxFileSize,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		MaxWaitTime:       cfg.MaxWaitTime,
		RunTimeout:        cfg.Timeout,
	}, nil
}
