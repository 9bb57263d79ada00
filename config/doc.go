// Package config loads the service configuration from the environment.
//
// Configuration is deliberately flat: one environment variable per knob,
// read by envconfig, with defaults that assume the full local stack
// (RabbitMQ, MinIO, Postgres on standard ports). An optional .env file is
// loaded first through godotenv so development setups need no exported
// shell state; real environment variables always win over file values.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	logger := slog.New(slog.NewJSONHandler(os.Stderr,
//	    &slog.HandlerOptions{Level: cfg.SlogLevel()}))
//
// Load validates before returning, so a *Config in hand is always
// internally consistent: enums are normalized to lower case, queue names
// fall back to the shared defaults in the broker package, and cross-field
// constraints (such as the HTTP write deadline outlasting the request
// timeout) hold.
//
// # Roles
//
// A single binary hosts any combination of the gateway, worker, and
// dead-letter roles, selected by the ENABLE_* toggles. Helpers such as
// NeedsStore and NeedsDatabase tell the process bootstrap which external
// clients the enabled roles require, so a worker-only deployment never
// opens Postgres and a gateway-only deployment never connects to MinIO.
package config
