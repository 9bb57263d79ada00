package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/c360/objectrelay/config"
	"github.com/c360/objectrelay/gateway"
)

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.SlogLevel(),
		AddSource: cfg.LogLevel == "debug",
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// The wrapper stamps correlation_id on records logged with a request
	// context anywhere in the process.
	handler = gateway.NewContextHandler(handler)

	return slog.New(handler).With(
		"service", cfg.ServiceName,
		"version", Version,
		"pid", os.Getpid(),
	)
}
