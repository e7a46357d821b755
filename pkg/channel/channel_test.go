package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingResult captures every reply it receives.
type recordingResult struct {
	mu      sync.Mutex
	replies []Reply
}

func (r *recordingResult) Success(value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, Reply{Kind: ReplySuccess, Value: value})
}

func (r *recordingResult) Error(code, message string, details any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, Reply{Kind: ReplyError, Code: code, Message: message, Details: details})
}

func (r *recordingResult) NotImplemented() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, Reply{Kind: ReplyNotImplemented})
}

func (r *recordingResult) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

func TestMethodCall_StringArgument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    json.RawMessage
		want    string
		wantErr bool
	}{
		{name: "string payload", args: json.RawMessage(`"{\"blockScript\":\"x\"}"`), want: `{"blockScript":"x"}`},
		{name: "empty string", args: json.RawMessage(`""`), want: ""},
		{name: "absent", args: nil, wantErr: true},
		{name: "null", args: json.RawMessage(`null`), wantErr: true},
		{name: "number", args: json.RawMessage(`42`), wantErr: true},
		{name: "object", args: json.RawMessage(`{"a":1}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := MethodCall{Method: MethodHandleResponse, Arguments: tt.args}.StringArgument()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("err = %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOnce_SuppressesSecondReply(t *testing.T) {
	t.Parallel()

	inner := &recordingResult{}
	var violations []ReplyKind
	guard := Once(inner, func(k ReplyKind) { violations = append(violations, k) })

	guard.Success("solved")
	guard.Success("cancelled")
	guard.Error("x", "y", nil)
	guard.NotImplemented()

	if inner.count() != 1 {
		t.Fatalf("inner replies = %d, want 1", inner.count())
	}
	if inner.replies[0].Value != "solved" {
		t.Errorf("first reply = %v, want solved", inner.replies[0].Value)
	}
	if len(violations) != 3 {
		t.Errorf("violations = %v, want 3 entries", violations)
	}
	if !guard.Replied() {
		t.Error("Replied() = false after reply")
	}
}

func TestOnce_WrapIsIdempotent(t *testing.T) {
	t.Parallel()

	guard := Once(&recordingResult{}, nil)
	if Once(guard, nil) != guard {
		t.Error("wrapping an OnceResult should return it unchanged")
	}
}

func TestOnce_ConcurrentReplies(t *testing.T) {
	t.Parallel()

	inner := &recordingResult{}
	var suppressed atomic.Int32
	guard := Once(inner, func(ReplyKind) { suppressed.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard.Success("solved")
		}()
	}
	wg.Wait()

	if inner.count() != 1 {
		t.Errorf("inner replies = %d, want 1", inner.count())
	}
	if suppressed.Load() != 49 {
		t.Errorf("suppressed = %d, want 49", suppressed.Load())
	}
}

func TestFuture_Wait(t *testing.T) {
	t.Parallel()

	f := NewFuture()
	go f.Success("false")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if r.Kind != ReplySuccess || r.Value != "false" {
		t.Errorf("reply = %+v", r)
	}
}

func TestFuture_WaitTimeout(t *testing.T) {
	t.Parallel()

	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestReply_Deliver(t *testing.T) {
	t.Parallel()

	rec := &recordingResult{}
	Reply{Kind: ReplyError, Code: CodeInvalidArgument, Message: "bad"}.Deliver(rec)
	Reply{Kind: ReplyNotImplemented}.Deliver(rec)
	Reply{Kind: ReplySuccess, Value: "{}"}.Deliver(rec)

	if len(rec.replies) != 3 {
		t.Fatalf("replies = %d", len(rec.replies))
	}
	if rec.replies[0].Code != CodeInvalidArgument || rec.replies[1].Kind != ReplyNotImplemented || rec.replies[2].Value != "{}" {
		t.Errorf("unexpected replies: %+v", rec.replies)
	}
}
