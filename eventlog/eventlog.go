// ABOUTME: Append-only, order-preserving log of user-facing notifications for a session.
// ABOUTME: Entries get ULIDs from monotonic entropy so ids stay unique within one millisecond.
package eventlog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Severity classifies a log entry for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Entry is a single immutable notification. Detail is an optional structured
// payload; callers must not mutate it after appending.
type Entry struct {
	ID        ulid.ULID `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Detail    any       `json:"detail,omitempty"`
}

// Progress is the detail payload attached to entries produced from pushed
// progress_update events. The stats fold reads it.
type Progress struct {
	ProjectID string         `json:"project_id,omitempty"`
	Stage     string         `json:"stage"`
	Data      map[string]any `json:"data,omitempty"`
}

// ChangeKind identifies what happened to the log.
type ChangeKind int

const (
	ChangeAppended ChangeKind = iota
	ChangeCleared
)

// Change is delivered to observers for every append and every clear.
// Entry is zero for ChangeCleared.
type Change struct {
	Kind  ChangeKind
	Entry Entry
}

// Observer receives changes synchronously, in log order, while the log is
// locked. Observe must not call back into the Log.
type Observer interface {
	Observe(Change)
}

// Log is the ordered sequence of entries. Insertion order is arrival order.
// It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	entropy *ulid.MonotonicEntropy
	now     func() time.Time

	nextObs   int
	observers map[int]Observer
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds an entry with a freshly generated id and returns it. An
// unknown severity is recorded as info.
func (l *Log) Append(message string, severity Severity, detail any) Entry {
	if !severity.Valid() {
		severity = SeverityInfo
	}

	l.mu.Lock()
	ts := l.now()
	id, err := ulid.New(ulid.Timestamp(ts), l.entropy)
	if err != nil {
		// Monotonic overflow within one millisecond; fall back to the
		// process-wide generator, which is still unique.
		id = ulid.Make()
	}
	e := Entry{
		ID:        id,
		Message:   message,
		Severity:  severity,
		Timestamp: ts,
		Detail:    detail,
	}
	l.entries = append(l.entries, e)
	l.notify(Change{Kind: ChangeAppended, Entry: e})
	l.mu.Unlock()
	return e
}

// Info appends an info entry.
func (l *Log) Info(message string, detail any) Entry {
	return l.Append(message, SeverityInfo, detail)
}

// Success appends a success entry.
func (l *Log) Success(message string, detail any) Entry {
	return l.Append(message, SeveritySuccess, detail)
}

// Warn appends a warning entry.
func (l *Log) Warn(message string, detail any) Entry {
	return l.Append(message, SeverityWarning, detail)
}

// Error appends an error entry.
func (l *Log) Error(message string, detail any) Entry {
	return l.Append(message, SeverityError, detail)
}

// Clear empties the log unconditionally.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.notify(Change{Kind: ChangeCleared})
	l.mu.Unlock()
}

// Entries returns a copy of the entries in arrival order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Subscribe registers o for every later change. The returned func removes
// it. Changes already in the log are not replayed.
func (l *Log) Subscribe(o Observer) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.observers == nil {
		l.observers = make(map[int]Observer)
	}
	id := l.nextObs
	l.nextObs++
	l.observers[id] = o
	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

// notify runs with l.mu held.
func (l *Log) notify(c Change) {
	for _, o := range l.observers {
		o.Observe(c)
	}
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Change)

// Observe calls f(c).
func (f ObserverFunc) Observe(c Change) { f(c) }
