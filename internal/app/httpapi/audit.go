package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"
)

// AuditEntry records one state-changing API call. Loan servicing decisions
// are auditable, so every mutation is kept with the acting principal.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	Principal  string    `json:"principal"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// AuditLog keeps a bounded in-memory tail of entries and optionally persists
// every entry through a sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    AuditSink
}

// AuditSink persists audit entries.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// NewAuditLog creates an audit log retaining at most max entries in memory.
// Sink may be nil.
func NewAuditLog(max int, sink AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; ignore errors to avoid impacting request flow.
		_ = l.sink.Write(entry)
	}
}

func (l *AuditLog) list() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AuditLog) listLimit(limit int) []AuditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// wrapWithAudit records mutating requests after they complete.
func wrapWithAudit(next http.Handler, log *AuditLog) http.Handler {
	if log == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.add(AuditEntry{
			Time:       time.Now().UTC(),
			Principal:  principal(r),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
		})
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// FileAuditSink appends audit entries as JSONL.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens path for appending. An empty path yields a nil sink.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileAuditSink{file: f}, nil
}

func (s *FileAuditSink) Write(entry AuditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}
