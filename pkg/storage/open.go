package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Options selects and configures a substrate.
type Options struct {
	Driver    string
	FilePath  string
	RedisAddr string
	// DB is required by the postgres driver. Open does not close it.
	DB *sql.DB
	S3 S3Config
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open creates the KV named by opts.Driver. The returned closer releases
// connections the driver opened itself.
func Open(ctx context.Context, opts Options) (KV, io.Closer, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemory(), nopCloser{}, nil

	case DriverFile:
		if opts.FilePath == "" {
			return nil, nil, fmt.Errorf("storage: file driver requires a path")
		}
		return NewFile(opts.FilePath), nopCloser{}, nil

	case DriverRedis:
		if opts.RedisAddr == "" {
			return nil, nil, fmt.Errorf("storage: redis driver requires an address")
		}
		r := NewRedis(opts.RedisAddr)
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, nil, fmt.Errorf("storage: redis ping: %w", err)
		}
		return r, r, nil

	case DriverPostgres:
		if opts.DB == nil {
			return nil, nil, fmt.Errorf("storage: postgres driver requires a database")
		}
		return NewPostgres(opts.DB), nopCloser{}, nil

	case DriverS3:
		s, err := NewS3(ctx, opts.S3)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}
