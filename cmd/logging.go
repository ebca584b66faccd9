package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/compresr/stream-gateway/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging configures the global zerolog logger. Console output is used
// only when writing to a terminal and the format is not forced to json.
// The returned closer releases a log file, if one was opened.
func setupLogging(cfg config.MonitoringConfig) (io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
		if err != nil {
			return nil, fmt.Errorf("monitoring.log_level: %w", err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	var (
		out    *os.File
		closer io.Closer = nopCloser{}
	)
	switch cfg.LogOutput {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.LogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	var w io.Writer = out
	if cfg.LogFormat != "json" && term.IsTerminal(int(out.Fd())) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return closer, nil
}
