// Package bootstrap opens the account store backends configured for the site
// and the CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/internal/migrations"
	"github.com/tendant/simple-accounts/pkg/accounts"
	"github.com/tendant/simple-accounts/pkg/hosted"
	"github.com/tendant/simple-accounts/pkg/repository"
	"github.com/tendant/simple-accounts/pkg/storage"
)

// OpenSlots opens the KV selected by cfg.StorageDriver and wraps it in a
// SlotStore. The postgres driver migrates its table first.
func OpenSlots(ctx context.Context, cfg *config.SiteConfig, logger *slog.Logger) (*storage.SlotStore, io.Closer, error) {
	opts := storage.Options{
		Driver:    cfg.StorageDriver,
		FilePath:  cfg.StorageFile,
		RedisAddr: cfg.RedisAddr,
		S3: storage.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			KeyPrefix: cfg.S3.KeyPrefix,
		},
	}

	var db *sql.DB
	if cfg.StorageDriver == storage.DriverPostgres {
		var err error
		db, err = repository.NewDB(repository.Config{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			DBName:   cfg.DB.Name,
			SSLMode:  cfg.DB.SSLMode,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		opts.DB = db
	}

	kv, closer, err := storage.Open(ctx, opts)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}
	logger.Info("account storage opened", "driver", cfg.StorageDriver)

	if db != nil {
		closer = multiCloser{closer, db}
	}
	return storage.NewSlotStore(kv, cfg.StoragePrefix), closer, nil
}

// LocalConfig returns the LocalStore template for cfg.
func LocalConfig(cfg *config.SiteConfig, logger *slog.Logger) accounts.Config {
	c := accounts.Config{Logger: logger}
	if !cfg.SimulateLatency {
		c.Delays = &accounts.Delays{}
	}
	return c
}

// HostedClient returns a client for the hosted services at cfg.HostedURL.
func HostedClient(cfg *config.SiteConfig) *hosted.Client {
	return hosted.NewClient(cfg.HostedURL, &http.Client{Timeout: cfg.HostedTimeout})
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
