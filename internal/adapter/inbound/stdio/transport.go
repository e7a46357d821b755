// Package stdio serves the bridge channel over stdin/stdout, one JSON-RPC
// frame per line. Replies may be written out of order; deferred replies are
// written whenever the capability resolves them.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/botbridge/internal/ctxkey"
	"github.com/Sentinel-Gate/botbridge/internal/port/inbound"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

const (
	// scannerInitialBufSize is the initial line buffer size.
	scannerInitialBufSize = 256 * 1024
	// scannerMaxBufSize bounds one frame. Longer lines end the session.
	scannerMaxBufSize = 1024 * 1024
)

// TransportName tags calls served by this transport.
const TransportName = "stdio"

// StdioTransport reads calls from in and writes replies to out.
type StdioTransport struct {
	handler inbound.CallHandler
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer

	writeMu sync.Mutex
	// pending tracks calls whose reply has not been written yet.
	pending sync.WaitGroup
}

// Option configures a StdioTransport.
type Option func(*StdioTransport)

// WithIO replaces stdin/stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *StdioTransport) {
		t.in = in
		t.out = out
	}
}

// NewStdioTransport creates a stdio transport feeding calls to handler.
func NewStdioTransport(handler inbound.CallHandler, logger *slog.Logger, opts ...Option) *StdioTransport {
	t := &StdioTransport{
		handler: handler,
		logger:  logger,
		in:      os.Stdin,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start serves frames until ctx is cancelled or input ends. At end of input
// it waits for outstanding replies unless ctx is cancelled first.
func (t *StdioTransport) Start(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() {
		readErr <- t.readLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-readErr:
		if err != nil {
			return err
		}
	}

	drained := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		t.logger.Debug("stdio input closed; all replies written")
	case <-ctx.Done():
		t.logger.Warn("stdio shutting down with replies outstanding")
	}
	return nil
}

func (t *StdioTransport) readLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, scannerInitialBufSize), scannerMaxBufSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer.
		frame := make([]byte, len(line))
		copy(frame, line)
		t.serve(ctx, frame)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func (t *StdioTransport) serve(ctx context.Context, data []byte) {
	f, err := channel.DecodeCall(data)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrNotACall) && len(f.RawID) == 0:
			t.logger.Debug("ignoring notification")
		case errors.Is(err, channel.ErrNotACall):
			t.write(channel.EncodeError(f, channel.CodeInvalidRequest, "invalid request: expected a call", nil))
		default:
			t.logger.Warn("malformed frame", "error", err)
			t.write(channel.EncodeError(f, channel.CodeParseError, "parse error", nil))
		}
		return
	}

	requestID := uuid.NewString()
	logger := t.logger.With("request_id", requestID, "method", f.Request.Method)
	callCtx := context.WithValue(ctx, ctxkey.RequestIDKey{}, requestID)
	callCtx = context.WithValue(callCtx, ctxkey.TransportKey{}, TransportName)
	callCtx = context.WithValue(callCtx, ctxkey.LoggerKey{}, logger)

	t.pending.Add(1)
	t.handler.Handle(callCtx, f.Call(), &frameResult{t: t, frame: f, logger: logger})
}

func (t *StdioTransport) write(b []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	b = append(b, '\n')
	if _, err := t.out.Write(b); err != nil {
		t.logger.Error("failed to write reply", "error", err)
	}
}

// Close is a no-op; stdin is owned by the process.
func (t *StdioTransport) Close() error {
	return nil
}

// frameResult writes the reply for one frame. The bridge guarantees a single reply.
type frameResult struct {
	t      *StdioTransport
	frame  *channel.Frame
	logger *slog.Logger
	once   sync.Once
}

func (r *frameResult) deliver(reply channel.Reply) {
	r.once.Do(func() {
		defer r.t.pending.Done()
		b, err := channel.EncodeReply(r.frame, reply)
		if err != nil {
			r.logger.Error("failed to encode reply", "error", err)
			b = channel.EncodeError(r.frame, channel.CodeInternalError, "failed to encode reply",
				map[string]any{"code": channel.CodeSerializationFailed})
		}
		r.t.write(b)
	})
}

func (r *frameResult) Success(value any) {
	r.deliver(channel.Reply{Kind: channel.ReplySuccess, Value: value})
}

func (r *frameResult) Error(code, message string, details any) {
	r.deliver(channel.Reply{Kind: channel.ReplyError, Code: code, Message: message, Details: details})
}

func (r *frameResult) NotImplemented() {
	r.deliver(channel.Reply{Kind: channel.ReplyNotImplemented})
}

// Compile-time interface checks.
var (
	_ inbound.Transport = (*StdioTransport)(nil)
	_ channel.Result    = (*frameResult)(nil)
)
