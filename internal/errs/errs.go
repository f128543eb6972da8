// Package errs defines the failure kinds shared by the ingestion, retrieval
// and persistence layers. Every kind is a sentinel checked with [errors.Is];
// [Wrap] attaches a kind to an underlying cause without hiding the cause.
package errs

import (
	"errors"
	"fmt"
)

// Failure kinds. Each one is recoverable at the granularity of the single
// user action that triggered it.
var (
	// ErrExtraction indicates a document could not be turned into text
	// (unreadable bytes, unsupported or corrupt format).
	ErrExtraction = errors.New("extraction failed")

	// ErrFetch indicates a web page could not be retrieved or parsed.
	ErrFetch = errors.New("fetch failed")

	// ErrEmbeddingService indicates the embedding provider errored, timed out,
	// or returned an unusable vector.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrIndexUnavailable indicates the vector index could not be reached or
	// rejected our credentials.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationService indicates the language model call failed.
	ErrGenerationService = errors.New("generation service error")

	// ErrPersistence indicates the conversation history could not be written
	// to or read from durable storage.
	ErrPersistence = errors.New("persistence error")
)

// Error pairs a failure kind with the operation that failed and its cause.
type Error struct {
	// Kind is one of the sentinel errors declared in this package.
	Kind error
	// Op names the failing operation (e.g. "qdrant upsert", "fetch https://...").
	Op string
	// Err is the underlying cause. May be nil.
	Err error
}

// Error renders "op: kind: cause".
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns err tagged with kind. It returns nil when err is nil, and
// returns err unchanged when it already carries kind.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New returns a tagged error with a formatted cause.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first failure kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrExtraction,
		ErrFetch,
		ErrEmbeddingService,
		ErrIndexUnavailable,
		ErrGenerationService,
		ErrPersistence,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
