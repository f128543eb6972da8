// Package store provides the conversation history for docchat. A Session
// holds the ordered turn log in memory and rewrites it to a durable
// key-value Backend (SQLite or Redis) under a single fixed key, so the
// history survives restarts and is reloaded when the next session opens.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

// MessagesKey is the backend key the turn log is persisted under.
const MessagesKey = "messages"

// TimestampLayout is the display format for turn timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a question typed by the human operator.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the model.
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in the conversation log.
type Turn struct {
	// Role is the author of the turn.
	Role Role `json:"role"`
	// Content is the text of the turn.
	Content string `json:"content"`
	// Timestamp is Unix seconds with a fractional part.
	Timestamp float64 `json:"timestamp"`
}

// Time returns the turn timestamp as a time.Time.
func (t Turn) Time() time.Time {
	sec := int64(t.Timestamp)
	nsec := int64((t.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// FormatTimestamp renders ts in local time using TimestampLayout.
func FormatTimestamp(ts float64) string {
	return Turn{Timestamp: ts}.Time().Format(TimestampLayout)
}

// Backend is a durable key-value store for turn logs.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns the turns stored under key, or nil if the key is absent.
	Load(ctx context.Context, key string) ([]Turn, error)
	// Save replaces whatever is stored under key with turns.
	Save(ctx context.Context, key string, turns []Turn) error
	// Close releases any resources held by the backend.
	Close() error
}

// Session is the single-user conversation state. It is created by
// OpenSession, which loads any persisted turns, and flushed by Close.
type Session struct {
	mu      sync.Mutex
	backend Backend
	turns   []Turn
	now     func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock overrides the time source used to stamp new turns.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// OpenSession loads the persisted turn log from backend and returns a
// Session positioned after its last turn.
func OpenSession(ctx context.Context, backend Backend, opts ...SessionOption) (*Session, error) {
	if backend == nil {
		return nil, fmt.Errorf("store: backend must not be nil")
	}
	s := &Session{backend: backend, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	turns, err := backend.Load(ctx, MessagesKey)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPersistence, "store: load", err)
	}
	s.turns = turns

	logging.FromContext(ctx).Debug("store: session opened", slog.Int("turns", len(turns)))
	return s, nil
}

// Append adds turn to the log. The timestamp must be strictly greater than
// the last turn's.
func (s *Session) Append(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); n > 0 && turn.Timestamp <= s.turns[n-1].Timestamp {
		return fmt.Errorf("store: append: timestamp %.6f is not after %.6f", turn.Timestamp, s.turns[n-1].Timestamp)
	}
	s.turns = append(s.turns, turn)
	return nil
}

// AppendExchange records a question and its answer as a user turn followed
// by an assistant turn, both stamped with the current time and strictly
// after every earlier turn.
func (s *Session) AppendExchange(question, answer string) (user, assistant Turn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user = Turn{Role: RoleUser, Content: question, Timestamp: s.nextTimestamp()}
	s.turns = append(s.turns, user)
	assistant = Turn{Role: RoleAssistant, Content: answer, Timestamp: s.nextTimestamp()}
	s.turns = append(s.turns, assistant)
	return user, assistant, nil
}

// nextTimestamp returns the clock reading, nudged forward by a microsecond
// past the last turn when the clock has not advanced. Callers hold mu.
func (s *Session) nextTimestamp() float64 {
	ts := float64(s.now().UnixNano()) / 1e9
	if n := len(s.turns); n > 0 && ts <= s.turns[n-1].Timestamp {
		ts = s.turns[n-1].Timestamp + 1e-6
	}
	return ts
}

// LoadAll returns a copy of the ordered turn log.
func (s *Session) LoadAll() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len reports the number of turns in the log.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Persist rewrites the full turn log to the backend. On failure the
// in-memory log is left untouched and errs.ErrPersistence is returned.
func (s *Session) Persist(ctx context.Context) error {
	snapshot := s.LoadAll()
	if err := s.backend.Save(ctx, MessagesKey, snapshot); err != nil {
		return errs.Wrap(errs.ErrPersistence, "store: persist", err)
	}
	logging.FromContext(ctx).Debug("store: history persisted", slog.Int("turns", len(snapshot)))
	return nil
}

// Clear empties the turn log and persists the empty log.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
	return s.Persist(ctx)
}

// Close flushes the log to the backend and releases it. The backend is
// closed even when the flush fails.
func (s *Session) Close(ctx context.Context) error {
	flushErr := s.Persist(ctx)
	if err := s.backend.Close(); err != nil && flushErr == nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return flushErr
}
