package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/botbridge/internal/adapter/inbound/admin"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/inbound/stdio"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/auditlog"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/local"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/remote"
	"github.com/Sentinel-Gate/botbridge/internal/config"
	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
	"github.com/Sentinel-Gate/botbridge/internal/domain/auth"
	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/port/inbound"
	"github.com/Sentinel-Gate/botbridge/internal/port/outbound"
	"github.com/Sentinel-Gate/botbridge/internal/service"
	"github.com/Sentinel-Gate/botbridge/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge",
	Long: `Start botbridge.

The channel is served in one of two modes:

1. HTTP mode (default): POST JSON-RPC frames to /channel/com.humansecurity/sdk.

2. Stdio mode (--stdio): one JSON-RPC frame per line on stdin, replies on
   stdout. The HTTP listener still serves /health, /metrics and /admin/.

Examples:
  # Start with config file settings
  botbridge start

  # Serve the channel over stdin/stdout
  botbridge start --stdio

  # Start with a specific config file
  botbridge --config /path/to/botbridge.yaml start`,
	RunE: runStart,
}

var (
	devMode   bool
	stdioMode bool
)

// errStdioClosed ends the run group when the host closes stdin.
var errStdioClosed = errors.New("stdio channel closed")

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, dev defaults)")
	startCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve the channel over stdin/stdout")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if stdioMode {
		if err := cfg.ValidateStdio(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	// stop() restores default signal handling so a second Ctrl+C kills immediately.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logs go to stderr; stdout carries frames in stdio mode.
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer func() { _ = os.Remove(pidPath) }()
	}

	if err := run(ctx, cfg, stdioMode, os.Stdin, os.Stdout, logger); err != nil {
		return err
	}
	logger.Info("botbridge stopped")
	return nil
}

// closableCapability is a capability whose background work can be stopped.
type closableCapability interface {
	outbound.Capability
	io.Closer
}

// run wires all components and serves until ctx is cancelled or, in stdio
// mode, the host closes stdin.
func run(ctx context.Context, cfg *config.BridgeConfig, stdioMode bool, in io.Reader, out io.Writer, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	auditStore, auditOut, err := createAuditStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = auditOut.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	// The worker outlives ctx so replies emitted while the transports and
	// the capability shut down are still recorded; Stop drains it last.
	auditService.Start(context.Background())
	defer auditService.Stop()

	capability, err := buildCapability(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = capability.Close() }()

	tp, telemetryOut, err := setupTelemetry(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
		_ = telemetryOut.Close()
	}()

	stats := service.NewStatsService()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(reg)
	metrics.TrackAudit(auditService)
	metrics.TrackPending(stats)

	initializer := service.NewInitializer(capability, cfg.Capability.AppID, logger)
	initializer.Start(ctx)

	bridge := service.NewBridgeService(capability, logger,
		service.WithResponseDescriptor(challenge.ResponseDescriptor{
			URL:        cfg.Bridge.ResponseURL,
			StatusCode: cfg.Bridge.ResponseStatus,
		}),
		service.WithStats(stats),
		service.WithAudit(auditService),
		service.WithReplyObserver(metrics),
		service.WithTelemetry(tp),
	)

	adminOpts := []admin.AdminAPIOption{
		admin.WithAuditReader(auditStore),
		admin.WithAuditService(auditService),
		admin.WithStatsService(stats),
		admin.WithInitializer(initializer),
		admin.WithCapabilityMode(cfg.Capability.Mode),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithStartTime(startTime),
		admin.WithAPILogger(logger),
		admin.WithRateLimit(cfg.Admin.RateLimit),
	}
	if lc, ok := capability.(*local.Capability); ok {
		adminOpts = append(adminOpts, admin.WithChallengeController(lc.Store()))
	}
	if cfg.Admin.APIKeyHash != "" {
		verifier, err := auth.NewKeyVerifier(cfg.Admin.APIKeyHash)
		if err != nil {
			return fmt.Errorf("admin key: %w", err)
		}
		adminOpts = append(adminOpts, admin.WithKeyVerifier(verifier))
	} else {
		logger.Info("admin API restricted to loopback clients (no admin.api_key_hash)")
	}
	adminHandler := admin.NewAdminAPIHandler(adminOpts...)

	// In stdio mode the HTTP listener serves only health, metrics and admin.
	var httpChannel inbound.CallHandler
	if !stdioMode {
		httpChannel = bridge
	}
	httpOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithLogger(logger),
		http.WithExtraHandler(adminHandler.Routes()),
		http.WithHealthChecker(http.NewHealthChecker(initializer, auditService, stats, Version)),
		http.WithMetrics(metrics, reg),
		http.WithChannelName(cfg.Bridge.Channel),
		http.WithReplyTimeout(config.Duration(cfg.Bridge.ReplyTimeout)),
	}
	if cfg.Server.TLSCertFile != "" {
		httpOpts = append(httpOpts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	httpTransport := http.NewHTTPTransport(httpChannel, httpOpts...)

	logger.Info("botbridge starting",
		"version", Version,
		"channel", cfg.Bridge.Channel,
		"capability", cfg.Capability.Mode,
		"capability_enabled", initializer.Enabled(),
		"stdio", stdioMode,
		"http_addr", cfg.Server.HTTPAddr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpTransport.Start(gctx); err != nil {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	})
	if stdioMode {
		stdioTransport := stdio.NewStdioTransport(bridge, logger, stdio.WithIO(in, out))
		g.Go(func() error {
			if err := stdioTransport.Start(gctx); err != nil {
				return fmt.Errorf("stdio transport: %w", err)
			}
			if gctx.Err() == nil {
				return errStdioClosed
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStdioClosed) {
		return err
	}
	return nil
}

// buildCapability creates the capability selected by capability.mode.
func buildCapability(cfg *config.BridgeConfig, logger *slog.Logger) (closableCapability, error) {
	switch cfg.Capability.Mode {
	case config.ModeRemote:
		client, err := remote.New(cfg.Capability.Remote.URL,
			remote.WithAPIKey(cfg.Capability.Remote.APIKey),
			remote.WithTimeout(config.Duration(cfg.Capability.Remote.Timeout)),
			remote.WithPollInterval(config.Duration(cfg.Capability.Remote.PollInterval)),
			remote.WithMaxPolls(cfg.Capability.Remote.MaxPolls),
			remote.WithLogger(logger.With("component", "remote-capability")),
		)
		if err != nil {
			return nil, fmt.Errorf("remote capability: %w", err)
		}
		return client, nil
	case config.ModeLocal:
		c, err := local.New(local.Config{
			SigningKey:       []byte(cfg.Capability.Local.SigningKey),
			TokenTTL:         config.Duration(cfg.Capability.Local.TokenTTL),
			BlockExpression:  cfg.Capability.Local.BlockExpression,
			ChallengeTimeout: config.Duration(cfg.Capability.Local.ChallengeTimeout),
			MaxPending:       cfg.Capability.Local.MaxPending,
			DeviceSeed:       cfg.Capability.Local.DeviceSeed,
		}, logger.With("component", "local-capability"))
		if err != nil {
			return nil, fmt.Errorf("local capability: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown capability mode %q", cfg.Capability.Mode)
	}
}

// nopCloser closes nothing. Used for stdout and stderr outputs.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput resolves an output setting to a writer. "none" yields a nil writer.
func openOutput(output string) (io.WriteCloser, error) {
	switch {
	case output == "stdout":
		return nopCloser{os.Stdout}, nil
	case output == "stderr":
		return nopCloser{os.Stderr}, nil
	case output == "none":
		return nopCloser{}, nil
	case strings.HasPrefix(output, "file://"):
		path := strings.TrimPrefix(output, "file://")
		if path == "" {
			return nil, fmt.Errorf("invalid file URI: %s", output)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("invalid output: %s (must be 'stdout', 'stderr', 'none' or 'file://path')", output)
	}
}

// auditBackend is what the audit service writes to and the admin API reads from.
type auditBackend interface {
	audit.AuditStore
	audit.AuditReader
}

// teeAuditStore writes to every store and reads from the persistent one.
type teeAuditStore struct {
	stream  audit.AuditStore
	persist auditBackend
}

func (t *teeAuditStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	return errors.Join(t.stream.Append(ctx, records...), t.persist.Append(ctx, records...))
}

func (t *teeAuditStore) Flush(ctx context.Context) error {
	return errors.Join(t.stream.Flush(ctx), t.persist.Flush(ctx))
}

func (t *teeAuditStore) Close() error {
	return errors.Join(t.stream.Close(), t.persist.Close())
}

func (t *teeAuditStore) GetRecent(n int) []audit.AuditRecord { return t.persist.GetRecent(n) }

func (t *teeAuditStore) Query(filter audit.AuditFilter) []audit.AuditRecord {
	return t.persist.Query(filter)
}

// createAuditStore creates the audit store for the audit section. Records
// stream to audit.output and, when audit.dir is set, are also persisted
// there. The returned closer releases the output file and the log directory.
func createAuditStore(cfg *config.BridgeConfig, logger *slog.Logger) (auditBackend, io.Closer, error) {
	w, err := openOutput(cfg.Audit.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("audit output: %w", err)
	}
	logger.Debug("audit output configured", "output", cfg.Audit.Output, "buffer_size", cfg.Audit.BufferSize)

	var sink io.Writer = w
	if nc, ok := w.(nopCloser); ok && nc.Writer == nil {
		sink = nil
	}
	mem := memory.NewAuditStoreWithWriter(sink, cfg.Audit.BufferSize)
	if cfg.Audit.Dir == "" {
		return mem, w, nil
	}

	logStore, err := auditlog.New(auditlog.Config{
		Dir:           cfg.Audit.Dir,
		RetentionDays: cfg.Audit.RetentionDays,
		MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		CacheSize:     cfg.Audit.BufferSize,
	}, logger)
	if err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("audit log: %w", err)
	}
	logger.Info("audit log enabled", "dir", cfg.Audit.Dir)
	tee := &teeAuditStore{stream: mem, persist: logStore}
	return tee, closerFunc(func() error { return errors.Join(logStore.Close(), w.Close()) }), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// setupTelemetry builds the OpenTelemetry provider for the telemetry section.
func setupTelemetry(cfg *config.BridgeConfig) (*telemetry.Provider, io.Closer, error) {
	if !cfg.Telemetry.Enabled {
		return telemetry.Noop(), nopCloser{}, nil
	}
	w, err := openOutput(cfg.Telemetry.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry output: %w", err)
	}
	if nc, ok := w.(nopCloser); ok && nc.Writer == nil {
		return telemetry.Noop(), w, nil
	}
	tp, err := telemetry.Setup(telemetry.Options{
		Enabled:        true,
		Writer:         w,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval),
		ServiceName:    "botbridge",
		ServiceVersion: Version,
	})
	if err != nil {
		_ = w.Close()
		return nil, nil, err
	}
	return tp, w, nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
