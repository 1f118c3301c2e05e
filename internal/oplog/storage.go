package oplog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// MemoryStorage keeps values in process memory. Used by tests and the CLI
// when no durable backend is configured.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

const lockFileName = ".lock"

// FileStorage writes one JSON file per key inside a directory. The directory
// is locked for the lifetime of the storage so two processes never
// interleave writes. Writes go to a temp file that is renamed into place.
type FileStorage struct {
	dir    string
	lock   *flock.Flock
	logger *slog.Logger
}

// NewFileStorage creates dir if needed and takes its lock. It fails if
// another process holds the lock.
func NewFileStorage(dir string, logger *slog.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create log directory %s", dir)
	}

	lockPath := filepath.Join(dir, lockFileName)
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquire log directory lock")
	}
	if !locked {
		return nil, errors.Newf("log directory %s is locked by another process", dir)
	}
	logger.Debug("acquired log directory lock", "path", lockPath)

	return &FileStorage{dir: dir, lock: fileLock, logger: logger}, nil
}

func (f *FileStorage) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, key)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileStorage) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.path(key))
	}
	return data, nil
}

func (f *FileStorage) Save(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, "oplog-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp log file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp log file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp log file")
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return errors.Wrap(err, "move log file into place")
	}
	return nil
}

// Close releases the directory lock. The lock file stays behind.
func (f *FileStorage) Close() error {
	if err := f.lock.Unlock(); err != nil {
		return errors.Wrap(err, "release log directory lock")
	}
	return nil
}

// RedisStorage keeps the collection in a single Redis string.
type RedisStorage struct {
	client redis.UniversalClient
}

// NewRedisStorage wraps an existing client.
func NewRedisStorage(client redis.UniversalClient) *RedisStorage {
	return &RedisStorage{client: client}
}

func (r *RedisStorage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return data, nil
}

func (r *RedisStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

// PostgresStorage keeps values in a key/value table.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStorage ensures the kv_store table exists.
func NewPostgresStorage(ctx context.Context, pool *pgxpool.Pool) (*PostgresStorage, error) {
	if _, err := pool.Exec(ctx, createKVTable); err != nil {
		return nil, errors.Wrap(err, "create kv_store table")
	}
	return &PostgresStorage{pool: pool}, nil
}

func (p *PostgresStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := p.pool.QueryRow(ctx, "SELECT value::text FROM kv_store WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", key)
	}
	return []byte(value), nil
}

func (p *PostgresStorage) Save(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := p.pool.Exec(ctx, query, key, string(data)); err != nil {
		return errors.Wrapf(err, "upsert %s", key)
	}
	return nil
}
