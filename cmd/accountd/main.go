// Command accountd runs the hosted identity and document service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/internal/events"
	httpserver "github.com/tendant/simple-accounts/internal/http"
	"github.com/tendant/simple-accounts/internal/migrations"
	"github.com/tendant/simple-accounts/internal/notification"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	identities, closeIdentities, err := openIdentities(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open identity store", "backend", cfg.IdentityBackend, "error", err)
		os.Exit(1)
	}
	defer closeIdentities.Close()

	documents, disconnect, err := openDocuments(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open document store", "backend", cfg.DocumentBackend, "error", err)
		os.Exit(1)
	}
	defer disconnect()

	publisher := events.NewNoop()
	if cfg.HasAMQP() {
		publisher, err = events.NewRabbit(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		logger.Info("event publishing enabled", "exchange", cfg.AMQPExchange)
	}
	defer publisher.Close()

	var mailer auth.Mailer
	if cfg.HasSMTP() {
		mailer = notification.NewEmailService(notification.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
		logger.Info("email service enabled")
	}

	tokens := auth.NewTokenService(auth.TokenConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
		ResetTokenTTL:  cfg.ResetTokenTTL,
		ReauthWindow:   cfg.ReauthWindow,
	})
	identityService := auth.NewIdentityService(
		auth.IdentityConfig{
			StrictEmailValidation: cfg.Validation.StrictEmailValidation,
			BlockDisposableEmail:  cfg.Validation.BlockDisposableEmail,
			ResetURL:              resetURL(cfg.AppBaseURL),
		},
		identities,
		tokens,
		auth.NewPasswordPolicy(cfg.PasswordPolicy),
		publisher,
		mailer,
		logger,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          logger,
		IdentityService: identityService,
		Documents:       documents,
		Registry:        registry,
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		Validation:      cfg.Validation,
		CookieSecure:    cfg.CookieSecure,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openIdentities(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.IdentityRepository, io.Closer, error) {
	if cfg.IdentityBackend == config.BackendMemory {
		logger.Warn("identities are kept in memory and lost on restart")
		return repository.NewMemoryIdentities(), closerFunc(func() error { return nil }), nil
	}

	db, err := openPostgres(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Up(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("connected to database")
	return repository.NewIdentitiesRepository(db), db, nil
}

func openDocuments(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.DocumentRepository, func(), error) {
	if cfg.DocumentBackend == config.BackendMemory {
		logger.Warn("documents are kept in memory and lost on restart")
		return repository.NewMemoryDocuments(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := repository.ConnectMongo(connectCtx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to mongodb", "database", cfg.MongoDatabase)

	disconnect := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Error("mongodb disconnect", "error", err)
		}
	}
	return repository.NewDocumentsRepository(client.Database(cfg.MongoDatabase)), disconnect, nil
}

func openPostgres(db config.DBConfig) (*sql.DB, error) {
	return repository.NewDB(repository.Config{
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		DBName:   db.Name,
		SSLMode:  db.SSLMode,
	})
}

func resetURL(base string) string {
	u, err := url.JoinPath(base, "reset-password.html")
	if err != nil {
		return base
	}
	return u
}
