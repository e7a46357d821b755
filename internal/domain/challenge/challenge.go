// Package challenge contains the domain types for bot-defense challenges:
// the start policy, request and response descriptors, header sets and the
// terminal outcome of a challenge.
package challenge

import (
	"errors"
	"time"
)

// Sentinel errors for capability and challenge operations.
var (
	// ErrAlreadyStarted is returned when the capability is started a second time.
	ErrAlreadyStarted = errors.New("capability already started")
	// ErrNotStarted is returned when an operation needs a started capability.
	ErrNotStarted = errors.New("capability not started")
	// ErrChallengeNotFound is returned when a challenge ID is unknown or already resolved.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrInvalidPolicy is returned when a Policy fails validation.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// Outcome is the terminal result of a handled challenge.
type Outcome int

const (
	// OutcomeCancelled means the challenge ended without success.
	OutcomeCancelled Outcome = iota
	// OutcomeSolved means the challenge was passed.
	OutcomeSolved
)

// String returns the wire form of the outcome. Only solved maps to "solved";
// every other value is reported as "cancelled".
func (o Outcome) String() string {
	if o == OutcomeSolved {
		return "solved"
	}
	return "cancelled"
}

// DeclinedReply is the reply value used when the capability does not handle a response.
const DeclinedReply = "false"

// InterceptorType selects how the capability intercepts outbound traffic.
type InterceptorType string

const (
	// InterceptorNone disables automatic interception; the host asks for
	// headers and submits responses explicitly.
	InterceptorNone InterceptorType = "none"
)

// Policy configures the capability at start.
type Policy struct {
	AppID       string          `json:"app_id"`
	Interceptor InterceptorType `json:"interceptor"`
}

// Validate checks that the policy can be used to start a capability.
func (p Policy) Validate() error {
	if p.AppID == "" {
		return errors.Join(ErrInvalidPolicy, errors.New("app id is required"))
	}
	if p.Interceptor != InterceptorNone {
		return errors.Join(ErrInvalidPolicy, errors.New("unsupported interceptor type: "+string(p.Interceptor)))
	}
	return nil
}

// HeaderSet is a set of header name/value pairs. A nil HeaderSet means the
// capability has nothing to contribute.
type HeaderSet map[string]string

// RequestDescriptor identifies an outbound request.
type RequestDescriptor struct {
	URL string `json:"url"`
}

// ResponseDescriptor describes an inbound response submitted for evaluation.
type ResponseDescriptor struct {
	URL        string            `json:"url"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Status is the lifecycle state of a pending challenge.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSolved    Status = "solved"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
	StatusEvicted   Status = "evicted"
)

// Outcome maps a terminal status to the outcome delivered to callers.
func (s Status) Outcome() Outcome {
	if s == StatusSolved {
		return OutcomeSolved
	}
	return OutcomeCancelled
}

// Challenge is a pending interactive challenge raised by a blocked response.
type Challenge struct {
	ID         string    `json:"id"`
	AppID      string    `json:"app_id"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Status     Status    `json:"status"`
	BlockUUID  string    `json:"block_uuid,omitempty"`
	VID        string    `json:"vid,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the challenge has passed its deadline.
func (c *Challenge) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
