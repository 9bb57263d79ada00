// Package health provides component health tracking and an aggregated
// health endpoint for the object relay pipeline.
//
// Components push their status into a shared Monitor as their state
// changes; the gateway (or the standalone metrics server) serves the
// aggregated view over HTTP. Aggregation follows the usual rules: any
// unhealthy component makes the system unhealthy, otherwise any degraded
// component makes it degraded, otherwise the system is healthy.
//
// # Basic Usage
//
//	monitor := health.NewMonitor()
//
//	// Components report as their state changes
//	monitor.UpdateHealthy("broker", "connected")
//	monitor.UpdateFromError("objectstore", err)
//	monitor.UpdateDegraded("cache", "high latency")
//
//	// The gateway mounts the aggregate endpoint
//	mux.Handle("GET /health", monitor.Handler("objectrelay"))
//
// The handler answers 200 for healthy and degraded systems and 503 when
// any component is unhealthy, so load balancers only eject an instance on
// a hard failure.
//
// # Sensitive Data
//
// Statuses built from raw errors (NewUnhealthyFromError, UpdateFromError)
// are sanitized before exposure: connection URLs, file paths, IP
// addresses, ports, and credential-shaped fragments are replaced with
// placeholders. Broker and storage errors routinely embed URLs carrying
// credentials, and the health endpoint is often reachable by more parties
// than the logs are.
package health
