package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/compresr/stream-gateway/internal/gateway"
	"github.com/compresr/stream-gateway/internal/utils"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP gateway",
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logCloser, err := setupLogging(cfg.Monitoring)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	gw, err := gateway.New(cfg, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Warn().Err(err).Msg("gateway close")
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("upstream", cfg.Upstream.ChatURL()).
			Str("api_key", utils.MaskKey(cfg.Upstream.APIKey)).
			Str("conversation_backend", cfg.Conversation.Backend).
			Str("usage_estimator", cfg.Usage.Estimator).
			Str("version", version).
			Msg("stream gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
