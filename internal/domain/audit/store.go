package audit

import (
	"context"
	"strings"
	"time"
)

// AuditStore persists audit records.
// Implementation handles batching and async writes.
type AuditStore interface {
	// Append stores audit records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...AuditRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// AuditReader gives read access to recently stored records.
type AuditReader interface {
	// GetRecent returns up to n records, newest first.
	GetRecent(n int) []AuditRecord
	// Query returns records matching the filter, newest first.
	Query(filter AuditFilter) []AuditRecord
}

// AuditFilter specifies query parameters for recent-record queries.
type AuditFilter struct {
	// StartTime is the beginning of the time range (optional).
	StartTime time.Time
	// EndTime is the end of the time range (optional).
	EndTime time.Time
	// Method filters by channel method (optional).
	Method string
	// Reply filters by reply kind (optional).
	Reply string
	// Transport filters by inbound adapter (optional).
	Transport string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EffectiveLimit returns Limit clamped to [1, MaxQueryLimit], with
// DefaultQueryLimit for unset values.
func (f AuditFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r satisfies every set field of the filter.
// Reply and Transport compare case-insensitively.
func (f AuditFilter) Matches(r AuditRecord) bool {
	if !f.StartTime.IsZero() && r.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.Timestamp.After(f.EndTime) {
		return false
	}
	if f.Method != "" && r.Method != f.Method {
		return false
	}
	if f.Reply != "" && !strings.EqualFold(r.Reply, f.Reply) {
		return false
	}
	if f.Transport != "" && !strings.EqualFold(r.Transport, f.Transport) {
		return false
	}
	return true
}
