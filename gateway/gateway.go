package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/objectrelay/deadletter"
	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/health"
	"github.com/c360/objectrelay/metric"
)

// Defaults for the HTTP server
const (
	DefaultPort         = 8080
	DefaultMaxBodyBytes = 32 << 20
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 60 * time.Second
)

// Submitter dispatches one request envelope into the pipeline and blocks
// until its result arrives or the request times out
type Submitter interface {
	Submit(ctx context.Context, req envelope.Request) (envelope.Result, error)
}

// LetterStore is the slice of the dead-letter store the operator endpoint
// reads. Nil on instances that do not host the dead-letter role.
type LetterStore interface {
	List(ctx context.Context, limit, offset int) ([]deadletter.StoredLetter, error)
	CountByReason(ctx context.Context) (map[string]int, error)
}

// Server is the synchronous HTTP facade over the asynchronous pipeline
type Server struct {
	submitter Submitter
	letters   LetterStore
	monitor   *health.Monitor
	registry  *metric.MetricsRegistry
	logger    *slog.Logger
	hub       *Hub
	limiter   *RateLimiter

	serviceName  string
	port         int
	maxBody      int64
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	server *http.Server
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPort sets the listen port
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithLetterStore mounts the dead-letter inspection endpoint
func WithLetterStore(letters LetterStore) Option {
	return func(s *Server) { s.letters = letters }
}

// WithHealth mounts the aggregated health endpoint
func WithHealth(monitor *health.Monitor) Option {
	return func(s *Server) { s.monitor = monitor }
}

// WithMetricsRegistry mounts the Prometheus scrape endpoint
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithHub mounts the websocket event stream
func WithHub(hub *Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithRateLimiter sets the per-client request limiter
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithMaxBodyBytes caps the accepted request body size
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithTimeouts sets the HTTP server read and write deadlines. The write
// deadline must outlast the pipeline request timeout or responses are cut
// off mid-await; config.Validate enforces that.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// WithServiceName sets the system name reported by the health endpoint
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// New creates the gateway server
func New(submitter Submitter, opts ...Option) *Server {
	s := &Server{
		submitter:    submitter,
		logger:       slog.Default(),
		serviceName:  "objectrelay",
		port:         DefaultPort,
		maxBody:      DefaultMaxBodyBytes,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	return s
}

// Routes builds the full handler: endpoints plus the middleware chain.
// Exposed so tests can drive the gateway through httptest without a
// listening socket.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /objects", s.handleWriteJSON)
	mux.Handle("POST /objects/image", s.uploadHandler(envelope.TypeImage))
	mux.Handle("POST /objects/pdf", s.uploadHandler(envelope.TypePDF))
	mux.HandleFunc("GET /objects/{id}", s.handleRead)
	mux.HandleFunc("GET /objects", s.handleList)
	mux.HandleFunc("GET /deadletters", s.handleDeadLetters)

	if s.monitor != nil {
		mux.Handle("GET /health", s.monitor.Handler(s.serviceName))
	} else {
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}
	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
	if s.hub != nil {
		mux.Handle("GET /events", s.hub)
	}

	var handler http.Handler = mux
	handler = CorrelationID(s.logger, handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	return handler
}

// Start runs the HTTP server and blocks until it stops. A graceful
// Shutdown returns nil.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"Gateway", "Start", "start server")
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Routes(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("gateway listening", "port", s.port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Gateway", "Start",
			fmt.Sprintf("serve on port %d", s.port))
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires, then closes the
// event hub so websocket clients see a clean close
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)
	if s.hub != nil {
		s.hub.Close()
	}
	if err != nil {
		return errors.WrapTransient(err, "Gateway", "Shutdown", "drain connections")
	}
	return nil
}
