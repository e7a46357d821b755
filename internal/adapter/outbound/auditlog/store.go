// Package auditlog persists audit records as JSON Lines in a directory, one
// file per UTC day, with size-based rotation and retention cleanup. Recent
// records are kept in memory for admin queries.
package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
)

// Defaults applied by New.
const (
	DefaultRetentionDays = 7
	DefaultMaxFileSizeMB = 100
	DefaultCacheSize     = 1000
)

const dateLayout = "2006-01-02"

// fileNamePattern matches audit-YYYY-MM-DD.log and audit-YYYY-MM-DD-N.log.
var fileNamePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// Config configures a Store.
type Config struct {
	// Dir holds the audit files. Created with 0700 if missing.
	Dir string
	// RetentionDays is how many days of files are kept.
	RetentionDays int
	// MaxFileSizeMB rotates the day's file once it reaches this size.
	MaxFileSizeMB int
	// CacheSize is the number of recent records kept in memory.
	CacheSize int
}

// logFile identifies one audit file on disk.
type logFile struct {
	name   string
	date   string
	suffix int
}

func parseFileName(name string) (logFile, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return logFile{}, false
	}
	f := logFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return logFile{}, false
		}
		f.suffix = n
	}
	return f, true
}

func fileName(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", date)
	}
	return fmt.Sprintf("audit-%s-%d.log", date, suffix)
}

// Store implements audit.AuditStore and audit.AuditReader.
type Store struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	suffix int
	size   int64
	closed bool

	recent *ring

	cancel context.CancelFunc
	done   chan struct{}
}

// New opens the store: it creates the directory, opens today's file,
// removes expired files, loads the newest file into the cache and starts
// an hourly retention sweep.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &Store{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
		recent:        newRing(cfg.CacheSize),
		done:          make(chan struct{}),
	}

	// Load before opening today's file so an empty new file is not chosen.
	s.loadRecent()

	today := s.now().UTC().Format(dateLayout)
	if err := s.open(today, s.highestSuffix(today)); err != nil {
		return nil, err
	}
	s.sweep()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sweepLoop(ctx)
	return s, nil
}

// Append writes records as JSON lines, rotating by record date and file size.
func (s *Store) Append(_ context.Context, records ...audit.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit log closed")
	}
	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.date {
			if err := s.rotate(date, s.highestSuffix(date)); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.size >= s.maxFileSize {
			if err := s.rotate(s.date, s.suffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.file.Write(append(line, '\n'))
		s.size += int64(n)
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.recent.add(rec)
	}
	return nil
}

// Flush syncs the current file.
func (s *Store) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close stops the retention sweep and closes the current file.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.file != nil {
		_ = s.file.Sync()
		err = s.file.Close()
		s.file = nil
	}
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return err
}

// GetRecent returns up to n cached records, newest first.
func (s *Store) GetRecent(n int) []audit.AuditRecord {
	return s.recent.newest(n, audit.AuditFilter{})
}

// Query returns cached records matching filter, newest first.
func (s *Store) Query(filter audit.AuditFilter) []audit.AuditRecord {
	return s.recent.newest(filter.EffectiveLimit(), filter)
}

// open opens (or creates) the file for date and suffix. Caller holds s.mu
// or has exclusive access.
func (s *Store) open(date string, suffix int) error {
	name := fileName(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit file %s: %w", name, err)
	}
	s.file, s.date, s.suffix, s.size = f, date, suffix, info.Size()
	return nil
}

// rotate closes the current file and opens the next one. Caller holds s.mu.
func (s *Store) rotate(date string, suffix int) error {
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}
	return s.open(date, suffix)
}

// files lists audit files in chronological order.
func (s *Store) files() []logFile {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var files []logFile
	for _, e := range entries {
		if f, ok := parseFileName(e.Name()); ok {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
	return files
}

func (s *Store) highestSuffix(date string) int {
	highest := 0
	for _, f := range s.files() {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// sweep deletes files dated before the retention window.
func (s *Store) sweep() {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays).Format(dateLayout)
	deleted := 0
	for _, f := range s.files() {
		if f.date >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("audit retention: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("audit retention sweep completed", "deleted", deleted)
	}
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// loadRecent fills the cache from the newest non-empty file.
func (s *Store) loadRecent() {
	files := s.files()
	for i := len(files) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, files[i].name)
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			continue
		}
		s.loadFile(path)
		return
	}
}

func (s *Store) loadFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("audit cache: failed to open file", "file", path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec audit.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		s.recent.add(rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit cache: error reading file", "file", path, "error", err)
	}
	if skipped > 0 {
		s.logger.Warn("audit cache: skipped malformed lines", "file", path, "count", skipped)
	}
}

// ring is a fixed-size buffer of recent records.
type ring struct {
	mu      sync.RWMutex
	entries []audit.AuditRecord
	head    int
	count   int
}

func newRing(size int) *ring {
	return &ring{entries: make([]audit.AuditRecord, size)}
}

func (r *ring) add(rec audit.AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = rec
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// newest returns up to n matching records, newest first.
func (r *ring) newest(n int, filter audit.AuditFilter) []audit.AuditRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []audit.AuditRecord
	size := len(r.entries)
	for i := 0; i < r.count && len(out) < n; i++ {
		rec := r.entries[(r.head-1-i+size)%size]
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Compile-time interface verification.
var (
	_ audit.AuditStore  = (*Store)(nil)
	_ audit.AuditReader = (*Store)(nil)
)
