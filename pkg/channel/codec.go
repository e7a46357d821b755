package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// JSON-RPC error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeReplyTimeout is returned by transports that give up waiting for a deferred reply.
	CodeReplyTimeout = -32001
)

// ErrNotACall is returned by DecodeCall for responses and notifications.
var ErrNotACall = errors.New("message is not a call")

// Frame is a decoded inbound call together with the id needed to answer it.
type Frame struct {
	// Request is the decoded JSON-RPC request.
	Request *jsonrpc.Request
	// RawID is the id exactly as the caller sent it.
	RawID json.RawMessage
}

// Call converts the frame into a MethodCall.
func (f *Frame) Call() MethodCall {
	return MethodCall{Method: f.Request.Method, Arguments: f.Request.Params}
}

// DecodeCall parses one wire frame. On failure the returned Frame may still
// carry a RawID so the caller can answer with an error.
func DecodeCall(data []byte) (*Frame, error) {
	rawID := extractRawID(data)
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return &Frame{RawID: rawID}, fmt.Errorf("decode frame: %w", err)
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || !req.IsCall() {
		return &Frame{RawID: rawID}, ErrNotACall
	}
	return &Frame{Request: req, RawID: rawID}, nil
}

// extractRawID pulls "id" out of raw bytes. The SDK's ID type does not
// round-trip through interface{}, so replies reuse the caller's bytes.
func extractRawID(data []byte) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	return envelope.ID
}

// EncodeSuccess builds a result frame.
func EncodeSuccess(f *Frame, value any) ([]byte, error) {
	result, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if f != nil && f.Request != nil {
		return jsonrpc.EncodeMessage(&jsonrpc.Response{ID: f.Request.ID, Result: result})
	}
	return json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      idOrNull(f),
		"result":  json.RawMessage(result),
	})
}

// EncodeError builds an error frame with a JSON-RPC code. data may be nil.
func EncodeError(f *Frame, code int, message string, data any) []byte {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if data != nil {
		errObj["data"] = data
	}
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"error":   errObj,
		"id":      idOrNull(f),
	})
	return b
}

// EncodeReply maps a Reply onto the wire.
func EncodeReply(f *Frame, r Reply) ([]byte, error) {
	switch r.Kind {
	case ReplySuccess:
		return EncodeSuccess(f, r.Value)
	case ReplyError:
		data := map[string]any{"code": r.Code}
		if r.Details != nil {
			data["details"] = r.Details
		}
		return EncodeError(f, WireCode(r.Code), r.Message, data), nil
	default:
		method := ""
		if f != nil && f.Request != nil {
			method = f.Request.Method
		}
		return EncodeError(f, CodeMethodNotFound, "method not implemented: "+method, nil), nil
	}
}

// WireCode maps a bridge error code to a JSON-RPC error code.
func WireCode(code string) int {
	if code == CodeInvalidArgument {
		return CodeInvalidParams
	}
	return CodeInternalError
}

func idOrNull(f *Frame) json.RawMessage {
	if f == nil || len(f.RawID) == 0 {
		return json.RawMessage("null")
	}
	return f.RawID
}
