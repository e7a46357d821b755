// Package audit defines the audit trail of bridge replies.
package audit

import "time"

// AuditRecord captures the terminal reply to one channel call.
type AuditRecord struct {
	// ID is the request ID assigned when the call arrived.
	ID string `json:"id"`
	// Timestamp is when the reply was emitted.
	Timestamp time.Time `json:"timestamp"`
	// Transport is the inbound adapter that carried the call ("stdio", "http").
	Transport string `json:"transport"`
	// Method is the channel method name.
	Method string `json:"method"`
	// Reply is the reply kind: "success", "error" or "not_implemented".
	Reply string `json:"reply"`
	// Value is the reply value for outcome replies ("solved", "cancelled", "false").
	// Header replies record "headers" so header values never reach the log.
	Value string `json:"value,omitempty"`
	// ErrorCode is the bridge error code for error replies.
	ErrorCode string `json:"error_code,omitempty"`
	// Deferred is true when the reply was emitted from a completion callback.
	Deferred bool `json:"deferred"`
	// LatencyMicros is the time from call to reply.
	LatencyMicros int64 `json:"latency_us"`
}
