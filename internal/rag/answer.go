package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

// DefaultTemperature is the sampling temperature used for every generation
// call unless the Answerer is configured otherwise.
const DefaultTemperature float32 = 0.2

// contextSeparator joins retrieved chunk texts into the prompt context.
const contextSeparator = " "

// promptTemplate receives the assembled context and then the question.
const promptTemplate = "Answer the user's question based only on the below context:\n\n%s. The question is: %s"

// Answer is the result of one retrieval-augmented generation call.
type Answer struct {
	// Text is the model completion, verbatim.
	Text string

	// Context is the assembled grounding passed to the model.
	Context string

	// Matches are the retrieved records, highest score first.
	Matches []Match
}

// AnswererConfig holds the dependencies of an Answerer.
type AnswererConfig struct {
	// ChatModel is the generation backend built by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever supplies the matches for each question.
	Retriever *Retriever

	// Temperature is fixed for the lifetime of the Answerer. Nil selects
	// DefaultTemperature; an explicit 0 is sent as 0.
	Temperature *float32

	// MaxContextTokens is the estimated prompt budget above which a warning is
	// logged. Zero selects budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Answerer runs the read path: retrieve, assemble context, generate.
type Answerer struct {
	chatModel        model.BaseChatModel
	retriever        *Retriever
	temperature      float32
	maxContextTokens int
}

// NewAnswerer constructs an Answerer from cfg.
func NewAnswerer(cfg *AnswererConfig) (*Answerer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("rag: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("rag: Retriever must not be nil")
	}
	temp := DefaultTemperature
	if cfg.Temperature != nil {
		if *cfg.Temperature < 0 {
			return nil, fmt.Errorf("rag: Temperature must not be negative, got %v", *cfg.Temperature)
		}
		temp = *cfg.Temperature
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Answerer{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		temperature:      temp,
		maxContextTokens: maxCtx,
	}, nil
}

// Answer retrieves context for query and asks the model to answer from it.
// Retrieval failures keep their embedding or index kind; a failed or empty
// completion is returned as errs.ErrGenerationService.
func (a *Answerer) Answer(ctx context.Context, query string) (Answer, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	matches, err := a.retriever.Retrieve(ctx, query)
	if err != nil {
		return Answer{}, err
	}

	assembled := AssembleContext(matches)
	messages := BuildMessages(assembled, query)
	if over := budget.Over(messages, a.maxContextTokens); over > 0 {
		log.Warn("budget: prompt exceeds context budget",
			slog.Int("over_tokens", over),
			slog.Int("max_tokens", a.maxContextTokens),
			slog.Int("matches", len(matches)),
		)
	}

	resp, err := a.chatModel.Generate(ctx, messages, model.WithTemperature(a.temperature))
	if err != nil {
		return Answer{}, fmt.Errorf("rag: generate: %w", errs.Wrap(errs.ErrGenerationService, "generate", err))
	}
	if resp == nil || resp.Content == "" {
		return Answer{}, fmt.Errorf("rag: generate: %w", errs.New(errs.ErrGenerationService, "generate", "empty completion"))
	}

	log.Info("answer generated",
		slog.Int("matches", len(matches)),
		slog.Int("context_chars", len(assembled)),
		slog.Duration("duration", time.Since(start)),
	)

	return Answer{Text: resp.Content, Context: assembled, Matches: matches}, nil
}

// AssembleContext joins the text of every match, in the order given, with a
// single space. Matches with no text are skipped.
func AssembleContext(matches []Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Metadata.Text == "" {
			continue
		}
		parts = append(parts, m.Metadata.Text)
	}
	return strings.Join(parts, contextSeparator)
}

// BuildMessages returns the single user message sent to the model.
func BuildMessages(assembled, query string) []*schema.Message {
	return []*schema.Message{
		schema.UserMessage(fmt.Sprintf(promptTemplate, assembled, query)),
	}
}
