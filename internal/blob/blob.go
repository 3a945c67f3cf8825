// Package blob abstracts the object store that holds the trends document.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nowtrending/nowtrending/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("blob: object not found")

// Object describes a stored blob as returned by List.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is a generic key-value blob store. Put always overwrites.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.Type.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "fs", "":
		return NewFSStore(cfg.Root)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "minio", "s3":
		return NewMinioStore(ctx, MinioConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
