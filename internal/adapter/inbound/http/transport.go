package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/botbridge/internal/port/inbound"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

// HTTPTransport serves the bridge channel plus health, metrics and admin
// routes. It implements inbound.Transport.
type HTTPTransport struct {
	handler        inbound.CallHandler
	channelName    string
	replyTimeout   time.Duration
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	extraHandler   http.Handler // mounted under /admin/
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	healthChecker  *HealthChecker

	mu       sync.Mutex
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithExtraHandler mounts h under /admin/.
func WithExtraHandler(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.extraHandler = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithMetrics uses metrics already registered on reg, so other components
// can record into the same registry.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
		t.gatherer = g
	}
}

// WithChannelName sets the channel served under /channel/.
func WithChannelName(name string) Option {
	return func(t *HTTPTransport) {
		if name != "" {
			t.channelName = name
		}
	}
}

// WithReplyTimeout bounds how long a call waits for its reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.replyTimeout = d
		}
	}
}

// NewHTTPTransport creates an HTTP transport. A nil handler serves only the
// health, metrics and admin routes.
func NewHTTPTransport(handler inbound.CallHandler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		handler:        handler,
		channelName:    channel.DefaultName,
		replyTimeout:   DefaultReplyTimeout,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.metrics == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(reg)
		t.gatherer = reg
	}
	return t
}

// Metrics returns the transport's metrics.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// Handler builds the routed handler.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()

	if t.handler != nil {
		// Middleware order (outermost first): Metrics, RequestID, RealIP, DNSRebinding.
		var ch http.Handler = channelHandler(t.channelName, t.handler, t.replyTimeout, t.metrics)
		ch = DNSRebindingProtection(t.allowedOrigins)(ch)
		ch = RealIPMiddleware(ch)
		ch = RequestIDMiddleware(t.logger)(ch)
		ch = MetricsMiddleware(t.metrics)(ch)
		mux.Handle("POST /channel/{name...}", ch)
	}

	if t.extraHandler != nil {
		admin := DNSRebindingProtection(t.allowedOrigins)(t.extraHandler)
		admin = RequestIDMiddleware(t.logger)(admin)
		admin = MetricsMiddleware(t.metrics)(admin)
		mux.Handle("/admin/", admin)
	}
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	return mux
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if t.certFile != "" && t.keyFile != "" {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	t.mu.Lock()
	t.server = server
	t.listener = ln
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once Start has begun listening.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *HTTPTransport) shutdown() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	return t.shutdown()
}

// Compile-time check that HTTPTransport implements inbound.Transport.
var _ inbound.Transport = (*HTTPTransport)(nil)
