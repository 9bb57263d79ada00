// Package metric provides Prometheus-based metrics collection and an HTTP
// server for monitoring the object relay pipeline.
//
// The package offers a centralized metrics registry managing both core
// pipeline metrics (request lifecycle, pending slots, worker outcomes,
// broker traffic) and custom component-specific metrics. It includes an
// HTTP server exposing metrics in Prometheus format for deployments that
// do not run the gateway.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: Pipeline-level metrics automatically registered (Metrics type)
//  2. Component Registry: Extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: Metrics endpoint with a health check (Server type)
//
// # Basic Usage
//
// Setting up metrics collection and the standalone HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Printf("metrics server error: %v", err)
//	    }
//	}()
//
//	// Record core pipeline metrics
//	core := registry.CoreMetrics()
//	core.RecordRequestStarted()
//	core.RecordRequestCompleted("WRITE", "OK", elapsed)
//	core.RecordBrokerStatus(true)
//
// The gateway mounts registry.Handler() on its own mux instead of running
// a second server.
//
// # Core Metrics
//
// The registry automatically tracks:
//
//   - Request lifecycle: requests_inflight, requests_total, requests_duration_seconds
//   - Pending slots: tracker_pending_slots, tracker_orphaned_results_total, tracker_swept_slots_total
//   - Worker processing: worker_outcomes_total, worker_retries_total
//   - Dead letters: deadletter_total by reason
//   - Broker: broker_connected, broker_published_total, broker_consumed_total
//   - Cache: cache_hits_total, cache_misses_total
//   - Event stream: events_clients
//
// # Component-Specific Metrics
//
// Components can register custom metrics through the registry:
//
//	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "replay_queue_depth",
//	    Help: "Messages waiting in the replay queue",
//	})
//	err := registry.RegisterGauge("replayer", "replay_queue_depth", queueDepth)
//
// Registration is component-scoped, so two components cannot silently
// shadow each other's metric names.
package metric
