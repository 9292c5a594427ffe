package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/staffgate/staffgate-api/internal/admin"
	"github.com/staffgate/staffgate-api/internal/auth"
	"github.com/staffgate/staffgate-api/internal/config"
	"github.com/staffgate/staffgate-api/internal/handler"
	"github.com/staffgate/staffgate-api/internal/logging"
	"github.com/staffgate/staffgate-api/internal/notifier"
	"github.com/staffgate/staffgate-api/internal/registration"
	"github.com/staffgate/staffgate-api/internal/store"
	"github.com/staffgate/staffgate-api/internal/telegram"
	"github.com/staffgate/staffgate-api/internal/tracing"
)

// loadServeConfig reads the config file and applies command line overrides.
func loadServeConfig(opts *serveOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tp, err := tracing.NewProvider(ctx, cfg.Tracing, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	s, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer s.Close()

	warnConfig(cfg, logger)

	authenticator, err := auth.NewAuthenticator(cfg.Admin)
	if err != nil {
		return fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	regOpts := registration.Options{
		RequireInitData: cfg.Telegram.RequireInitData,
		Tracer:          tp.Tracer(),
		Logger:          logger,
	}
	if cfg.Telegram.BotToken != "" {
		regOpts.Verifier = telegram.NewVerifier(cfg.Telegram.BotToken, cfg.Telegram.InitDataMaxAge)
	}

	h := handler.NewHandler(
		registration.NewService(s, regOpts),
		admin.NewGateway(authenticator, s, buildNotifier(cfg, opts.dev, logger), tp.Tracer(), logger),
		authenticator,
		cfg.Server,
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting staffgate-api server",
			"addr", srv.Addr,
			"version", version,
			"storage", cfg.Storage.Driver,
			"dev", opts.dev,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// warnConfig logs settings that load fine but are probably mistakes.
func warnConfig(cfg *config.Config, logger *slog.Logger) {
	if cfg.Admin.PasswordHash == "" && auth.IsPasswordHash(cfg.Admin.Password) {
		logger.Warn("admin.password holds an argon2id hash and is compared as plain text; move it to admin.password_hash")
	}
}

// buildNotifier picks how requesters learn about decisions.
func buildNotifier(cfg *config.Config, dev bool, logger *slog.Logger) notifier.Notifier {
	switch {
	case dev:
		logger.Info("running in development mode, decisions are logged only")
		return notifier.NewLogNotifier(logger)
	case cfg.Telegram.NotifyDecisions:
		return notifier.NewTelegramNotifier(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, cfg.Server.RequestTimeout/2)
	default:
		return nil
	}
}
