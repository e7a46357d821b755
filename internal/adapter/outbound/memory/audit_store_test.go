package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
)

func TestAuditStore_Append(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.AuditRecord{
		ID:        "req-1",
		Timestamp: time.Now().UTC(),
		Transport: "stdio",
		Method:    "humanHandleResponse",
		Reply:     "success",
		Value:     "solved",
		Deferred:  true,
	}
	if err := store.Append(context.Background(), record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	var decoded audit.AuditRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &decoded); err != nil {
		t.Fatalf("written output is not valid JSON: %v", err)
	}
	if decoded.ID != "req-1" || decoded.Value != "solved" || !decoded.Deferred {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestAuditStore_NilWriterKeepsRecent(t *testing.T) {
	t.Parallel()

	store := NewAuditStoreWithWriter(nil, 5)
	if err := store.Append(context.Background(), audit.AuditRecord{ID: "a"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if got := store.GetRecent(10); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("GetRecent = %+v", got)
	}
}

func TestAuditStore_RingBufferEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewAuditStoreWithWriter(nil, 3)
	for i := 0; i < 5; i++ {
		_ = store.Append(context.Background(), audit.AuditRecord{ID: fmt.Sprintf("req-%d", i)})
	}

	got := store.GetRecent(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"req-4", "req-3", "req-2"}
	for i, r := range got {
		if r.ID != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, r.ID, want[i])
		}
	}
	if store.GetRecent(0) != nil {
		t.Error("GetRecent(0) should be nil")
	}
}

func TestAuditStore_Query(t *testing.T) {
	t.Parallel()

	store := NewAuditStoreWithWriter(nil)
	base := time.Now().UTC()
	_ = store.Append(context.Background(),
		audit.AuditRecord{ID: "1", Timestamp: base, Method: "humanGetHeaders", Reply: "success", Transport: "http"},
		audit.AuditRecord{ID: "2", Timestamp: base.Add(time.Second), Method: "humanHandleResponse", Reply: "success", Transport: "stdio"},
		audit.AuditRecord{ID: "3", Timestamp: base.Add(2 * time.Second), Method: "unknown", Reply: "not_implemented", Transport: "stdio"},
	)

	tests := []struct {
		name   string
		filter audit.AuditFilter
		want   []string
	}{
		{name: "all", filter: audit.AuditFilter{}, want: []string{"3", "2", "1"}},
		{name: "by method", filter: audit.AuditFilter{Method: "humanHandleResponse"}, want: []string{"2"}},
		{name: "by reply", filter: audit.AuditFilter{Reply: "NOT_IMPLEMENTED"}, want: []string{"3"}},
		{name: "by transport", filter: audit.AuditFilter{Transport: "stdio"}, want: []string{"3", "2"}},
		{name: "since", filter: audit.AuditFilter{StartTime: base.Add(500 * time.Millisecond)}, want: []string{"3", "2"}},
		{name: "until", filter: audit.AuditFilter{EndTime: base.Add(500 * time.Millisecond)}, want: []string{"1"}},
		{name: "limit", filter: audit.AuditFilter{Limit: 1}, want: []string{"3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.Query(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestAuditStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	store := NewAuditStoreWithWriter(&bytes.Buffer{}, 10000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.Append(context.Background(), audit.AuditRecord{ID: fmt.Sprintf("%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	if got := len(store.GetRecent(10000)); got != 1000 {
		t.Errorf("records = %d, want 1000", got)
	}
}

func TestAuditStore_CloseStdout(t *testing.T) {
	t.Parallel()

	if err := NewAuditStoreWithWriter(&bytes.Buffer{}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
