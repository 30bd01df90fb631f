package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Options selects the origin store: S3 when its config is complete,
// otherwise postgres when DatabaseURL is set, otherwise a disk store under
// Dir, otherwise memory. The origin is always wrapped in a CachedStore.
type Options struct {
	Dir         string
	S3          S3Config
	DatabaseURL string
	Cache       CacheConfig
}

// Open builds the configured store. Close releases the database handle when
// postgres is used.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*CachedStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		origin  Store
		closeFn func() error
	)
	switch {
	case opts.S3.Complete():
		s3, err := NewS3Store(opts.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
		}
		logger.Info("artifact store: s3", zap.String("bucket", opts.S3.Bucket), zap.String("endpoint", opts.S3.Endpoint))
		origin = s3
	case strings.TrimSpace(opts.DatabaseURL) != "":
		pg, err := OpenPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact postgres store: %w", err)
		}
		logger.Info("artifact store: postgres")
		origin = pg
		closeFn = pg.Close
	case strings.TrimSpace(opts.Dir) != "":
		logger.Info("artifact store: disk", zap.String("root", opts.Dir))
		origin = NewDiskStore(opts.Dir)
	default:
		logger.Warn("artifact store: using in-memory fallback")
		origin = NewMemoryStore()
	}
	s := NewCachedStore(origin, opts.Cache)
	s.close = closeFn
	return s, nil
}
