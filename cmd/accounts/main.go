// Command accounts manages the local account store from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-accounts/internal/bootstrap"
	"github.com/tendant/simple-accounts/internal/cli"
	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/pkg/accounts"
	"github.com/tendant/simple-accounts/pkg/validation"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.LoadSite()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	slots, closer, err := bootstrap.OpenSlots(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	storeCfg := bootstrap.LocalConfig(cfg, logger)
	storeCfg.Store = slots
	app := cli.New(accounts.NewLocalStore(storeCfg), validation.NewValidator(cfg.PublicBaseURL), os.Stdin, os.Stdout)

	err = app.Run(ctx, os.Args[1:])
	closer.Close()
	if errors.Is(err, cli.ErrUsage) {
		app.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
