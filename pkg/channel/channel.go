// Package channel provides the named method-channel protocol used between an
// application shell and the bridge: method calls, reply sinks, the
// single-reply guard, and the newline-delimited JSON-RPC wire codec.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultName is the logical channel both ends agree on.
const DefaultName = "com.humansecurity/sdk"

// Method names understood by the bridge.
const (
	MethodGetHeaders     = "humanGetHeaders"
	MethodHandleResponse = "humanHandleResponse"
)

// Bridge error codes carried in Error replies.
const (
	CodeInvalidArgument     = "invalid_argument"
	CodeSerializationFailed = "serialization_failed"
	CodeCapabilityFailed    = "capability_failed"
)

// ErrInvalidArgument is returned when a call payload is absent or has the wrong type.
var ErrInvalidArgument = errors.New("invalid argument")

// MethodCall is one inbound request on the channel.
type MethodCall struct {
	// Method selects the operation.
	Method string
	// Arguments is the raw JSON payload. Nil when the caller sent none.
	Arguments json.RawMessage
}

// StringArgument returns the payload as a string.
// Absent, null and non-string payloads yield ErrInvalidArgument.
func (c MethodCall) StringArgument() (string, error) {
	if len(c.Arguments) == 0 || string(c.Arguments) == "null" {
		return "", fmt.Errorf("%w: %s requires a string payload, got none", ErrInvalidArgument, c.Method)
	}
	var s string
	if err := json.Unmarshal(c.Arguments, &s); err != nil {
		return "", fmt.Errorf("%w: %s requires a string payload", ErrInvalidArgument, c.Method)
	}
	return s, nil
}

// Result is the reply sink for a single MethodCall.
// Implementations must be safe to call from any goroutine.
type Result interface {
	// Success replies with a value.
	Success(value any)
	// Error replies with a bridge error code, a message and optional details.
	Error(code, message string, details any)
	// NotImplemented signals the method is unknown.
	NotImplemented()
}

// ReplyKind identifies which Result method produced a reply.
type ReplyKind string

const (
	ReplySuccess        ReplyKind = "success"
	ReplyError          ReplyKind = "error"
	ReplyNotImplemented ReplyKind = "not_implemented"
)

// Reply is a materialized reply, used by Future and for auditing.
type Reply struct {
	Kind    ReplyKind `json:"kind"`
	Value   any       `json:"value,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Details any       `json:"details,omitempty"`
}

// Deliver replays r onto a Result.
func (r Reply) Deliver(result Result) {
	switch r.Kind {
	case ReplySuccess:
		result.Success(r.Value)
	case ReplyError:
		result.Error(r.Code, r.Message, r.Details)
	default:
		result.NotImplemented()
	}
}
