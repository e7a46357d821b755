package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/ctxkey"
	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/port/inbound"
	"github.com/Sentinel-Gate/botbridge/internal/port/outbound"
	"github.com/Sentinel-Gate/botbridge/internal/telemetry"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// loggerFromContext retrieves the enriched logger from context.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

func stringFromContext(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// ReplyObserver is notified about every call and reply. Metrics exporters
// implement it.
type ReplyObserver interface {
	ObserveCall(method string)
	ObserveReply(method string, reply channel.Reply, deferred bool, latency time.Duration)
	ObserveDuplicate(method string)
}

// BridgeService dispatches channel calls to the capability and guarantees
// exactly one reply per call.
type BridgeService struct {
	capability outbound.Capability
	descriptor challenge.ResponseDescriptor
	logger     *slog.Logger

	stats     *StatsService
	audit     *AuditService
	observers []ReplyObserver

	tracer   trace.Tracer
	calls    metric.Int64Counter
	replies  metric.Int64Counter
	inflight metric.Int64UpDownCounter

	encodeHeaders func(challenge.HeaderSet) ([]byte, error)
}

// BridgeOption configures BridgeService.
type BridgeOption func(*BridgeService)

// WithResponseDescriptor sets the descriptor submitted with every response payload.
func WithResponseDescriptor(d challenge.ResponseDescriptor) BridgeOption {
	return func(s *BridgeService) {
		s.descriptor = d
	}
}

// WithStats records counters on stats.
func WithStats(stats *StatsService) BridgeOption {
	return func(s *BridgeService) {
		s.stats = stats
	}
}

// WithAudit records every terminal reply on the audit service.
func WithAudit(a *AuditService) BridgeOption {
	return func(s *BridgeService) {
		s.audit = a
	}
}

// WithReplyObserver adds an observer.
func WithReplyObserver(o ReplyObserver) BridgeOption {
	return func(s *BridgeService) {
		s.observers = append(s.observers, o)
	}
}

// WithTelemetry traces calls and counts replies through p.
func WithTelemetry(p *telemetry.Provider) BridgeOption {
	return func(s *BridgeService) {
		s.tracer = p.Tracer
		s.initInstruments(p.Meter)
	}
}

// DefaultResponseDescriptor is the synthetic descriptor used when the host
// sends only a response body.
func DefaultResponseDescriptor() challenge.ResponseDescriptor {
	return challenge.ResponseDescriptor{URL: "https://example.com", StatusCode: 403}
}

// NewBridgeService creates a bridge over capability.
func NewBridgeService(capability outbound.Capability, logger *slog.Logger, opts ...BridgeOption) *BridgeService {
	s := &BridgeService{
		capability:    capability,
		descriptor:    DefaultResponseDescriptor(),
		logger:        logger,
		encodeHeaders: encodeHeaderSet,
	}
	noop := telemetry.Noop()
	s.tracer = noop.Tracer
	s.initInstruments(noop.Meter)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BridgeService) initInstruments(m metric.Meter) {
	// Instrument creation only fails on invalid names; fall back to no-ops.
	noop := telemetry.Noop().Meter
	var err error
	if s.calls, err = m.Int64Counter("bridge.calls",
		metric.WithDescription("Channel calls received")); err != nil {
		s.calls, _ = noop.Int64Counter("bridge.calls")
	}
	if s.replies, err = m.Int64Counter("bridge.replies",
		metric.WithDescription("Channel replies emitted")); err != nil {
		s.replies, _ = noop.Int64Counter("bridge.replies")
	}
	if s.inflight, err = m.Int64UpDownCounter("bridge.pending",
		metric.WithDescription("Calls awaiting a deferred reply")); err != nil {
		s.inflight, _ = noop.Int64UpDownCounter("bridge.pending")
	}
}

// encodeHeaderSet serializes headers as a JSON object. Nil encodes as {}.
func encodeHeaderSet(h challenge.HeaderSet) ([]byte, error) {
	if h == nil {
		h = challenge.HeaderSet{}
	}
	return json.Marshal(h)
}

// Handle dispatches call and replies exactly once through result.
func (s *BridgeService) Handle(ctx context.Context, call channel.MethodCall, result channel.Result) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	logger = logger.With("method", call.Method)

	ctx, span := s.tracer.Start(ctx, "bridge."+call.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("bridge.method", call.Method)),
	)

	t := &tracker{
		svc:       s,
		ctx:       ctx,
		span:      span,
		logger:    logger,
		method:    call.Method,
		requestID: stringFromContext(ctx, ctxkey.RequestIDKey{}),
		transport: stringFromContext(ctx, ctxkey.TransportKey{}),
		started:   time.Now(),
	}
	reply := channel.Once(&trackedResult{inner: result, tracker: t}, t.duplicate)

	if s.stats != nil {
		s.stats.RecordCall(call.Method)
	}
	s.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("method", call.Method)))
	for _, o := range s.observers {
		o.ObserveCall(call.Method)
	}

	switch call.Method {
	case channel.MethodGetHeaders:
		s.getHeaders(reply, logger)
	case channel.MethodHandleResponse:
		s.handleResponse(call, reply, t, logger)
	default:
		logger.Debug("method not implemented")
		reply.NotImplemented()
	}
}

func (s *BridgeService) getHeaders(reply channel.Result, logger *slog.Logger) {
	headers, ok := s.safeHeaders(reply, logger)
	if !ok {
		return
	}
	encoded, err := s.encodeHeaders(headers)
	if err != nil {
		logger.Error("failed to serialize headers", "error", err)
		reply.Error(channel.CodeSerializationFailed, "failed to serialize headers", nil)
		return
	}
	reply.Success(string(encoded))
}

func (s *BridgeService) safeHeaders(reply channel.Result, logger *slog.Logger) (headers challenge.HeaderSet, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("capability panicked producing headers", "panic", r)
			reply.Error(channel.CodeCapabilityFailed, "capability failed", nil)
			ok = false
		}
	}()
	return s.capability.HeadersForRequest(nil), true
}

func (s *BridgeService) handleResponse(call channel.MethodCall, reply channel.Result, t *tracker, logger *slog.Logger) {
	payload, err := call.StringArgument()
	if err != nil {
		logger.Warn("rejected response payload", "error", err)
		reply.Error(channel.CodeInvalidArgument, "response payload must be a string", nil)
		return
	}

	var fired atomic.Bool
	onComplete := func(outcome challenge.Outcome) {
		if !fired.CompareAndSwap(false, true) {
			logger.Warn("completion callback invoked more than once; ignoring", "outcome", outcome.String())
			t.countDuplicate()
			return
		}
		t.deferred.Store(true)
		logger.Debug("challenge resolved", "outcome", outcome.String())
		reply.Success(outcome.String())
	}

	handled, ok := s.safeHandle(payload, onComplete, reply, logger)
	if !ok {
		return
	}
	if !handled {
		reply.Success(challenge.DeclinedReply)
		return
	}
	t.markPending()
	logger.Debug("response handled by capability; awaiting outcome")
}

func (s *BridgeService) safeHandle(payload string, onComplete func(challenge.Outcome), reply channel.Result, logger *slog.Logger) (handled, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("capability panicked handling response", "panic", r)
			reply.Error(channel.CodeCapabilityFailed, "capability failed", nil)
			ok = false
		}
	}()
	return s.capability.HandleResponse(s.descriptor, []byte(payload), onComplete), true
}

// tracker follows one call from dispatch to its terminal reply.
type tracker struct {
	svc       *BridgeService
	ctx       context.Context
	span      trace.Span
	logger    *slog.Logger
	method    string
	requestID string
	transport string
	started   time.Time
	deferred  atomic.Bool

	mu      sync.Mutex
	done    bool
	pending bool
}

// markPending records that the reply will come from the completion callback,
// unless the callback already fired.
func (t *tracker) markPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.pending = true
	if t.svc.stats != nil {
		t.svc.stats.ChallengeStarted()
	}
	t.svc.inflight.Add(t.ctx, 1)
}

func (t *tracker) finish(r channel.Reply) {
	t.mu.Lock()
	t.done = true
	wasPending := t.pending
	t.mu.Unlock()

	s := t.svc
	latency := time.Since(t.started)
	deferred := t.deferred.Load()

	if wasPending {
		if s.stats != nil {
			s.stats.ChallengeFinished()
		}
		s.inflight.Add(t.ctx, -1)
	}
	if s.stats != nil {
		t.recordStats(r)
	}
	s.replies.Add(t.ctx, 1, metric.WithAttributes(
		attribute.String("method", t.method),
		attribute.String("reply", string(r.Kind)),
	))
	for _, o := range s.observers {
		o.ObserveReply(t.method, r, deferred, latency)
	}
	if s.audit != nil {
		s.audit.Record(audit.AuditRecord{
			ID:            t.requestID,
			Timestamp:     time.Now().UTC(),
			Transport:     t.transport,
			Method:        t.method,
			Reply:         string(r.Kind),
			Value:         auditValue(t.method, r),
			ErrorCode:     r.Code,
			Deferred:      deferred,
			LatencyMicros: latency.Microseconds(),
		})
	}

	t.span.SetAttributes(
		attribute.String("bridge.reply", string(r.Kind)),
		attribute.Bool("bridge.deferred", deferred),
	)
	if r.Kind == channel.ReplyError {
		t.span.SetStatus(codes.Error, r.Code)
	}
	t.span.End()

	t.logger.Debug("replied",
		"reply", r.Kind,
		"deferred", deferred,
		"latency_us", latency.Microseconds(),
	)
}

func (t *tracker) recordStats(r channel.Reply) {
	stats := t.svc.stats
	switch r.Kind {
	case channel.ReplyError:
		stats.RecordError()
	case channel.ReplyNotImplemented:
		stats.RecordNotImplemented()
	default:
		if t.method == channel.MethodGetHeaders {
			stats.RecordHeaders()
			return
		}
		switch r.Value {
		case challenge.DeclinedReply:
			stats.RecordDeclined()
		case challenge.OutcomeSolved.String():
			stats.RecordSolved()
		default:
			stats.RecordCancelled()
		}
	}
}

func (t *tracker) duplicate(kind channel.ReplyKind) {
	t.logger.Warn("suppressed duplicate reply", "attempted", kind)
	t.countDuplicate()
}

func (t *tracker) countDuplicate() {
	if t.svc.stats != nil {
		t.svc.stats.RecordDuplicate()
	}
	for _, o := range t.svc.observers {
		o.ObserveDuplicate(t.method)
	}
}

// auditValue keeps header contents out of the audit trail.
func auditValue(method string, r channel.Reply) string {
	if r.Kind != channel.ReplySuccess {
		return ""
	}
	if method == channel.MethodGetHeaders {
		return "headers"
	}
	return fmt.Sprint(r.Value)
}

// trackedResult forwards to the caller's sink and then closes the tracker.
type trackedResult struct {
	inner   channel.Result
	tracker *tracker
}

func (r *trackedResult) Success(value any) {
	r.inner.Success(value)
	r.tracker.finish(channel.Reply{Kind: channel.ReplySuccess, Value: value})
}

func (r *trackedResult) Error(code, message string, details any) {
	r.inner.Error(code, message, details)
	r.tracker.finish(channel.Reply{Kind: channel.ReplyError, Code: code, Message: message, Details: details})
}

func (r *trackedResult) NotImplemented() {
	r.inner.NotImplemented()
	r.tracker.finish(channel.Reply{Kind: channel.ReplyNotImplemented})
}

// Compile-time check that BridgeService implements CallHandler.
var _ inbound.CallHandler = (*BridgeService)(nil)
