package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/port/inbound"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// DefaultReplyTimeout bounds how long a POST waits for a deferred reply.
const DefaultReplyTimeout = 5 * time.Minute

// channelHandler serves POST /channel/{name...}. The reply is written when
// the bridge answers, the reply timeout expires, or the client goes away.
func channelHandler(name string, handler inbound.CallHandler, timeout time.Duration, metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != name {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
			writeFrame(w, channel.EncodeError(nil, channel.CodeParseError, "Parse error: content type must be application/json", nil))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer func() { _ = r.Body.Close() }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeFrame(w, channel.EncodeError(nil, channel.CodeParseError, "Parse error: request body too large (max 1MB)", nil))
				return
			}
			writeFrame(w, channel.EncodeError(nil, channel.CodeParseError, "Parse error: failed to read request body", nil))
			return
		}

		frame, err := channel.DecodeCall(body)
		if err != nil {
			if errors.Is(err, channel.ErrNotACall) {
				writeFrame(w, channel.EncodeError(frame, channel.CodeInvalidRequest, "Invalid Request: expected a call with an id", nil))
				return
			}
			writeFrame(w, channel.EncodeError(frame, channel.CodeParseError, "Parse error: "+err.Error(), nil))
			return
		}

		logger := LoggerFromContext(r.Context()).With("method", frame.Request.Method)
		future := channel.NewFuture()
		handler.Handle(r.Context(), frame.Call(), future)

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		reply, err := future.Wait(ctx)
		if err != nil {
			if r.Context().Err() != nil {
				logger.Debug("client disconnected before reply")
				return
			}
			logger.Warn("reply timeout", "timeout", timeout)
			if metrics != nil {
				metrics.ReplyTimeouts.Inc()
			}
			writeFrame(w, channel.EncodeError(frame, channel.CodeReplyTimeout, "reply timeout", nil))
			return
		}

		out, err := channel.EncodeReply(frame, reply)
		if err != nil {
			logger.Error("failed to encode reply", "error", err)
			out = channel.EncodeError(frame, channel.CodeInternalError, "failed to encode reply",
				map[string]any{"code": channel.CodeSerializationFailed})
		}
		writeFrame(w, out)
	})
}

// writeFrame writes a JSON-RPC frame. JSON-RPC errors still return 200 OK.
func writeFrame(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// healthHandler responds 200 OK when no HealthChecker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
