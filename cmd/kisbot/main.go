// Command kisbot is the entry point for the trading client. It loads and
// validates configuration, wires dependencies, installs signal handling, and
// runs the configured mode. The encrypt-secret subcommand prepares an
// encrypted app-secret file for use with kis.encrypted_secret_path.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/seojinlab/kisbot/internal/app"
	"github.com/seojinlab/kisbot/internal/config"
	"github.com/seojinlab/kisbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-secret" {
		if err := encryptSecret(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "kisbot.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Rebuild the logger at the configured level.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
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

	logger.Info("kisbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("environment", cfg.KIS.Environment),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if err == context.Canceled {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("kisbot stopped")
}

// encryptSecret reads the app secret and a password from stdin and writes the
// encrypted blob to the -out path.
func encryptSecret(args []string) error {
	fs := flag.NewFlagSet("encrypt-secret", flag.ExitOnError)
	out := fs.String("out", "app_secret.enc", "output path for the encrypted secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Fprint(os.Stderr, "app secret: ")
	secret, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	fmt.Fprint(os.Stderr, "password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	secret = strings.TrimRight(secret, "\r\n")
	password = strings.TrimRight(password, "\r\n")
	if secret == "" || password == "" {
		return fmt.Errorf("secret and password must not be empty")
	}

	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}

	fmt.Fprintf(os.Stderr, "encrypted secret written to %s\n", *out)
	return nil
}
