package channel

import "sync/atomic"

// OnceResult guards a Result so at most one reply reaches it.
type OnceResult struct {
	inner       Result
	replied     atomic.Bool
	onViolation func(attempted ReplyKind)
}

// Once wraps result with an at-most-once guard. onViolation, if non-nil, is
// invoked for every suppressed reply attempt.
func Once(result Result, onViolation func(attempted ReplyKind)) *OnceResult {
	if o, ok := result.(*OnceResult); ok {
		return o
	}
	return &OnceResult{inner: result, onViolation: onViolation}
}

// Replied reports whether a reply has already been emitted.
func (o *OnceResult) Replied() bool {
	return o.replied.Load()
}

func (o *OnceResult) claim(kind ReplyKind) bool {
	if o.replied.CompareAndSwap(false, true) {
		return true
	}
	if o.onViolation != nil {
		o.onViolation(kind)
	}
	return false
}

// Success implements Result.
func (o *OnceResult) Success(value any) {
	if o.claim(ReplySuccess) {
		o.inner.Success(value)
	}
}

// Error implements Result.
func (o *OnceResult) Error(code, message string, details any) {
	if o.claim(ReplyError) {
		o.inner.Error(code, message, details)
	}
}

// NotImplemented implements Result.
func (o *OnceResult) NotImplemented() {
	if o.claim(ReplyNotImplemented) {
		o.inner.NotImplemented()
	}
}

var _ Result = (*OnceResult)(nil)
