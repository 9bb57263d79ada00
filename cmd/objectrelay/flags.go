package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// CLIConfig holds command-line configuration. Empty strings mean "defer to
// the environment configuration".
type CLIConfig struct {
	EnvFile     string
	LogLevel    string
	LogFormat   string
	Roles       string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.EnvFile, "env-file",
		getEnv("ENV_FILE", ""),
		"Path to a .env file loaded before the environment (env: ENV_FILE)")

	flag.StringVar(&cfg.LogLevel, "log-level", "",
		"Override log level: debug, info, warn, error (env: LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format", "",
		"Override log format: json, text (env: LOG_FORMAT)")

	flag.StringVar(&cfg.Roles, "roles", "",
		"Comma-separated roles to host: gateway,worker,deadletter (env: ENABLE_*)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.EnvFile != "" {
		if _, err := os.Stat(cfg.EnvFile); err != nil {
			return fmt.Errorf("env file not found: %s", cfg.EnvFile)
		}
	}

	validLevels := []string{"", "debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"", "json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.Roles != "" {
		for _, role := range strings.Split(cfg.Roles, ",") {
			switch strings.TrimSpace(role) {
			case "gateway", "worker", "deadletter":
			default:
				return fmt.Errorf("unknown role: %s", role)
			}
		}
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Asynchronous Object Storage Relay

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run every role against local infrastructure
  %s

  # Run workers only, against RabbitMQ and MinIO from the environment
  %s --roles=worker

  # Run with a .env file and debug logging
  %s --env-file=/etc/objectrelay/.env --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
