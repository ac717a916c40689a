// Command site serves the personal site's account API and static pages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-accounts/internal/bootstrap"
	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/pkg/validation"
	"github.com/tendant/simple-accounts/site"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadSite()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var stores site.StoreProvider
	switch cfg.Store {
	case config.StoreHosted:
		stores = site.NewHostedStores(bootstrap.HostedClient(cfg), cfg.VisitorTTL, nil, logger)
		logger.Info("using hosted account services", "url", cfg.HostedURL)
	default:
		slots, closer, err := bootstrap.OpenSlots(context.Background(), cfg, logger)
		if err != nil {
			logger.Error("failed to open account storage", "error", err)
			os.Exit(1)
		}
		defer closer.Close()
		stores = site.NewLocalStores(slots, bootstrap.LocalConfig(cfg, logger), cfg.VisitorTTL)
	}

	s, err := site.New(site.Config{
		Stores:             stores,
		Validator:          validation.NewValidator(cfg.PublicBaseURL),
		StaticDir:          cfg.StaticDir,
		CookieSecure:       cfg.CookieSecure,
		VisitorTTL:         cfg.VisitorTTL,
		SecurityHeaders:    cfg.SecurityHeaders,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("failed to create site", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting site", "addr", addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down site")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("site stopped")
}
