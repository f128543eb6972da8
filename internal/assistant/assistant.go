// Package assistant runs one chat turn end to end: answer the question from
// retrieved context, record the question and answer in the conversation
// session, then persist the session. A persistence failure never discards
// the answer; it is returned alongside it for the caller to surface.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// answerer is the read path Ask delegates to.
// *rag.Answerer satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, query string) (rag.Answer, error)
}

// Reply is the outcome of a successful turn.
type Reply struct {
	rag.Answer

	// User and Assistant are the turns appended to the session.
	User      store.Turn
	Assistant store.Turn

	// PersistErr is set when the turn was recorded in memory but could not
	// be written to the history backend.
	PersistErr error
}

// Assistant serialises chat turns against a single session.
type Assistant struct {
	mu       sync.Mutex
	answerer answerer
	session  *store.Session
}

// New constructs an Assistant.
func New(a answerer, session *store.Session) (*Assistant, error) {
	if a == nil {
		return nil, fmt.Errorf("assistant: answerer must not be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("assistant: session must not be nil")
	}
	return &Assistant{answerer: a, session: session}, nil
}

// Ask answers question. On success the exchange is appended to the session
// and the session is persisted. On a retrieval or generation failure nothing
// is recorded and the error is returned unchanged.
func (a *Assistant) Ask(ctx context.Context, question string) (Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	log := logging.FromContext(ctx)

	ans, err := a.answerer.Answer(ctx, question)
	if err != nil {
		return Reply{}, fmt.Errorf("assistant: %w", err)
	}

	user, asst, err := a.session.AppendExchange(question, ans.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("assistant: record turn: %w", err)
	}
	reply := Reply{Answer: ans, User: user, Assistant: asst}

	if err := a.session.Persist(ctx); err != nil {
		log.Warn("history: failed to persist conversation", slog.Any("error", err))
		reply.PersistErr = err
	}
	return reply, nil
}

// History returns the ordered turn log.
func (a *Assistant) History() []store.Turn {
	return a.session.LoadAll()
}

// ClearHistory empties the turn log and persists the empty log.
func (a *Assistant) ClearHistory(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Clear(ctx)
}
