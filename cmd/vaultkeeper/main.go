// Command vaultkeeper is the entry point for the vault control service. It
// loads configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/vaultkeeper/internal/app"
	"github.com/alanyoungcy/vaultkeeper/internal/config"
	"github.com/alanyoungcy/vaultkeeper/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptOut := flag.String("encrypt-secret", "", "encrypt $VAULTKEEPER_LEDGER_CLIENT_SECRET with $VAULTKEEPER_LEDGER_SECRET_PASSWORD to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptOut != "" {
		if err := encryptSecret(*encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		logger.Info("encrypted ledger secret written", slog.String("path", *encryptOut))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("vaultkeeper starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("vaultkeeper stopped")
}

// encryptSecret writes the ledger client secret, encrypted for use with
// ledger.encrypted_secret_path.
func encryptSecret(path string) error {
	secret := os.Getenv("VAULTKEEPER_LEDGER_CLIENT_SECRET")
	password := os.Getenv("VAULTKEEPER_LEDGER_SECRET_PASSWORD")
	if secret == "" || password == "" {
		return errors.New("VAULTKEEPER_LEDGER_CLIENT_SECRET and VAULTKEEPER_LEDGER_SECRET_PASSWORD must be set")
	}
	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
