package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/54b3r/docchat-go/internal/errs"
)

// openTestBackend opens an in-memory SQLiteBackend for use in tests.
func openTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open in-memory backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// frozenClock always returns the same instant.
func frozenClock() time.Time { return time.Unix(1_700_000_000, 0) }

// failingBackend loads nothing and refuses every save.
type failingBackend struct{ closed bool }

func (f *failingBackend) Load(context.Context, string) ([]Turn, error) { return nil, nil }
func (f *failingBackend) Save(context.Context, string, []Turn) error {
	return errors.New("disk full")
}
func (f *failingBackend) Close() error { f.closed = true; return nil }

func assertConversationOrder(t *testing.T, turns []Turn, exchanges int) {
	t.Helper()
	if len(turns) != 2*exchanges {
		t.Fatalf("want %d turns, got %d", 2*exchanges, len(turns))
	}
	for i, turn := range turns {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if turn.Role != want {
			t.Errorf("turn[%d]: want role %s, got %s", i, want, turn.Role)
		}
		if i > 0 && turn.Timestamp <= turns[i-1].Timestamp {
			t.Errorf("turn[%d]: timestamp %.6f not after %.6f", i, turn.Timestamp, turns[i-1].Timestamp)
		}
	}
}

func Test_Session_ExchangesAreOrderedAndSurviveReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// A frozen clock forces the session to break timestamp ties itself.
	s, err := OpenSession(ctx, b, WithClock(frozenClock))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	for i := range 3 {
		if _, _, err := s.AppendExchange("question", "answer"); err != nil {
			t.Fatalf("exchange %d: %v", i, err)
		}
	}
	before := s.LoadAll()
	assertConversationOrder(t, before, 3)
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	b2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2, err := OpenSession(ctx, b2)
	if err != nil {
		t.Fatalf("reopen session: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close(ctx) })

	after := s2.LoadAll()
	assertConversationOrder(t, after, 3)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("turn[%d] changed across reload: %+v != %+v", i, before[i], after[i])
		}
	}
}

func Test_Session_AppendRejectsNonIncreasingTimestamp(t *testing.T) {
	t.Parallel()
	s, err := OpenSession(context.Background(), openTestBackend(t))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	if err := s.Append(Turn{Role: RoleUser, Content: "a", Timestamp: 10}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.Append(Turn{Role: RoleAssistant, Content: "b", Timestamp: 10}); err == nil {
		t.Error("want error for equal timestamp")
	}
	if err := s.Append(Turn{Role: RoleAssistant, Content: "b", Timestamp: 9.5}); err == nil {
		t.Error("want error for earlier timestamp")
	}
	if got := s.Len(); got != 1 {
		t.Errorf("want 1 turn after rejected appends, got %d", got)
	}
}

func Test_Session_ExchangeAfterLoadedHistoryStaysOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewMemoryBackend()
	future := float64(frozenClock().Unix()) + 3600
	_ = b.Save(ctx, MessagesKey, []Turn{
		{Role: RoleUser, Content: "old q", Timestamp: future},
		{Role: RoleAssistant, Content: "old a", Timestamp: future + 1},
	})

	s, err := OpenSession(ctx, b, WithClock(frozenClock))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if _, _, err := s.AppendExchange("new q", "new a"); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	assertConversationOrder(t, s.LoadAll(), 2)
}

func Test_Session_PersistFailureKeepsMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb := &failingBackend{}
	s, err := OpenSession(ctx, fb)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if _, _, err := s.AppendExchange("q", "a"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	err = s.Persist(ctx)
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("want ErrPersistence, got %v", err)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("in-memory turns rolled back: want 2, got %d", got)
	}

	if err := s.Close(ctx); !errors.Is(err, errs.ErrPersistence) {
		t.Errorf("close: want ErrPersistence, got %v", err)
	}
	if !fb.closed {
		t.Error("backend not closed after failed flush")
	}
}

func Test_Session_LoadAllReturnsCopy(t *testing.T) {
	t.Parallel()
	s, err := OpenSession(context.Background(), NewMemoryBackend())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	_, _, _ = s.AppendExchange("q", "a")

	got := s.LoadAll()
	got[0].Content = "mutated"
	if s.LoadAll()[0].Content != "q" {
		t.Error("LoadAll exposed internal state")
	}
}

func Test_Session_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openTestBackend(t)
	s, err := OpenSession(ctx, b)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	_, _, _ = s.AppendExchange("q", "a")
	if err := s.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	turns, err := b.Load(ctx, MessagesKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("want empty persisted log, got %d turns", len(turns))
	}
}

func Test_SQLiteBackend_MissingKeyAndOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openTestBackend(t)

	turns, err := b.Load(ctx, "absent")
	if err != nil || turns != nil {
		t.Fatalf("absent key: want nil/nil, got %v/%v", turns, err)
	}

	if err := b.Save(ctx, MessagesKey, []Turn{{Role: RoleUser, Content: "one", Timestamp: 1}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.Save(ctx, MessagesKey, []Turn{{Role: RoleUser, Content: "two", Timestamp: 2}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	turns, err = b.Load(ctx, MessagesKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "two" {
		t.Errorf("want single overwritten turn, got %+v", turns)
	}
	if err := b.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func Test_FormatTimestamp(t *testing.T) {
	t.Parallel()
	ts := float64(time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local).Unix()) + 0.25
	if got, want := FormatTimestamp(ts), "2024-03-09 14:05:07"; got != want {
		t.Errorf("FormatTimestamp = %q, want %q", got, want)
	}
}

func Test_NewBackendFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled history stays in memory", func(t *testing.T) {
		t.Setenv("HISTORY_BACKEND", "")
		t.Setenv("DOCCHAT_HISTORY_DB", "disabled")
		b, err := NewBackendFromEnv(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := b.(*MemoryBackend); !ok {
			t.Errorf("want *MemoryBackend, got %T", b)
		}
	})

	t.Run("sqlite path", func(t *testing.T) {
		t.Setenv("HISTORY_BACKEND", "sqlite")
		t.Setenv("DOCCHAT_HISTORY_DB", filepath.Join(t.TempDir(), "h.db"))
		b, err := NewBackendFromEnv(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Cleanup(func() { _ = b.Close() })
		if _, ok := b.(*SQLiteBackend); !ok {
			t.Errorf("want *SQLiteBackend, got %T", b)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("HISTORY_BACKEND", "mongo")
		if _, err := NewBackendFromEnv(ctx); err == nil {
			t.Error("want error for unknown backend")
		}
	})
}
