package cache

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps a cache snapshot between runs.
type Store interface {
	// Load returns the snapshot, or nil when none was saved.
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStore keeps the snapshot in a file. Saves write a sibling
// ".new" file and rename it over the old snapshot.
type FileStore struct {
	Path string
}

// Load reads the snapshot file.
func (f *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Save replaces the snapshot file.
func (f *FileStore) Save(data []byte) error {
	tmp := f.Path + ".new"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, f.Path)
}

// RedisStore keeps the snapshot under a single redis key.
type RedisStore struct {
	Client  redis.UniversalClient
	Key     string
	Timeout time.Duration
}

// NewRedisStore connects to the redis server at addr.
func NewRedisStore(addr, password string, db int, key string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &RedisStore{Client: client, Key: key, Timeout: 2 * time.Second}
}

func (r *RedisStore) context() (context.Context, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Load fetches the snapshot.
func (r *RedisStore) Load() ([]byte, error) {
	ctx, cancel := r.context()
	defer cancel()

	data, err := r.Client.Get(ctx, r.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Save stores the snapshot without expiry.
func (r *RedisStore) Save(data []byte) error {
	ctx, cancel := r.context()
	defer cancel()

	return r.Client.Set(ctx, r.Key, data, 0).Err()
}

// Close releases the redis connection.
func (r *RedisStore) Close() error {
	return r.Client.Close()
}
