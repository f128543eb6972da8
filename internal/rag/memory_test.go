package rag

import (
	"context"
	"fmt"
	"testing"
)

func Test_MemoryIndex_EmptyQuery(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex()

	got, err := idx.Query(context.Background(), []float32{1, 0}, 5, true)
	if err != nil {
		t.Fatalf("Query on empty index: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func Test_MemoryIndex_UpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex()

	first := Record{ID: "a", Vector: []float32{1, 0}, Metadata: Metadata{Text: "old"}}
	second := Record{ID: "a", Vector: []float32{0, 1}, Metadata: Metadata{Text: "new", Extra: map[string]string{"k": "v"}}}
	if err := idx.Upsert(ctx, []Record{first}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, []Record{second}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}
	got, err := idx.Query(ctx, []float32{0, 1}, 5, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].Metadata.Text != "new" || got[0].Metadata.Extra["k"] != "v" {
		t.Errorf("want latest metadata, got %+v", got[0].Metadata)
	}
	if got[0].Score < 0.999 {
		t.Errorf("want score ~1 for the replaced vector, got %f", got[0].Score)
	}
}

func Test_MemoryIndex_OrderingAndTopK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex()

	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:       fmt.Sprintf("r%d", i),
			Vector:   []float32{float32(i), float32(10 - i)},
			Metadata: Metadata{Text: fmt.Sprintf("text %d", i)},
		})
	}
	if err := idx.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Query(ctx, []float32{1, 0}, 3, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 matches, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("matches not in descending order: %v", got)
		}
	}
	if got[0].ID != "r9" {
		t.Errorf("best match = %s, want r9", got[0].ID)
	}
	if got[0].Metadata.Text != "" {
		t.Errorf("metadata returned although not requested: %+v", got[0].Metadata)
	}
}

func Test_MemoryIndex_RejectsMixedDimensions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex()

	if err := idx.Upsert(ctx, []Record{{ID: "a", Vector: []float32{1, 2, 3}, Metadata: Metadata{Text: "x"}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, []Record{{ID: "b", Vector: []float32{1, 2}, Metadata: Metadata{Text: "y"}}}); err == nil {
		t.Error("want error for mismatched dimensions")
	}
	if _, err := idx.Query(ctx, []float32{1}, 1, true); err == nil {
		t.Error("want error for mismatched query dimensions")
	}
}

func Test_Payload_RoundTrip(t *testing.T) {
	t.Parallel()
	md := Metadata{Text: "body", Source: "doc.pdf", Extra: map[string]string{"media_type": "application/pdf", "text": "ignored"}}

	got, err := fromPayload("id", toPayload(md))
	if err != nil {
		t.Fatalf("fromPayload: %v", err)
	}
	if got.Text != "body" || got.Source != "doc.pdf" || got.Extra["media_type"] != "application/pdf" {
		t.Errorf("unexpected metadata %+v", got)
	}
	if _, err := fromPayload("id", map[string]string{"source": "x"}); err == nil {
		t.Error("want error for payload without text")
	}
}
