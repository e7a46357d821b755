package channel

import "context"

// Future is a Result that can be awaited. The first reply wins; later ones
// are dropped.
type Future struct {
	ch chan Reply
}

// NewFuture creates an unresolved Future.
func NewFuture() *Future {
	return &Future{ch: make(chan Reply, 1)}
}

func (f *Future) resolve(r Reply) {
	select {
	case f.ch <- r:
	default:
	}
}

// Success implements Result.
func (f *Future) Success(value any) {
	f.resolve(Reply{Kind: ReplySuccess, Value: value})
}

// Error implements Result.
func (f *Future) Error(code, message string, details any) {
	f.resolve(Reply{Kind: ReplyError, Code: code, Message: message, Details: details})
}

// NotImplemented implements Result.
func (f *Future) NotImplemented() {
	f.resolve(Reply{Kind: ReplyNotImplemented})
}

// Wait blocks until a reply arrives or ctx is done.
func (f *Future) Wait(ctx context.Context) (Reply, error) {
	select {
	case r := <-f.ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

var _ Result = (*Future)(nil)
