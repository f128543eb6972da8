package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a process-local VectorIndex using brute-force cosine
// similarity. It backs tests and the "memory" backend for quick local runs;
// contents are lost when the process exits.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]Record
	dims    int
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]Record)}
}

// Upsert stores copies of records, replacing any existing entry with the same id.
// All records of one index must share a dimensionality.
func (m *MemoryIndex) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("memory: record id must not be empty")
		}
		if m.dims == 0 {
			m.dims = len(r.Vector)
		}
		if len(r.Vector) != m.dims {
			return fmt.Errorf("memory: record %s has %d dimensions, index has %d", r.ID, len(r.Vector), m.dims)
		}
	}
	for _, r := range records {
		m.records[r.ID] = cloneRecord(r)
	}
	return nil
}

// Query scores every record against vector and returns the topK best.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 || topK <= 0 {
		return []Match{}, nil
	}
	if len(vector) != m.dims {
		return nil, fmt.Errorf("memory: query has %d dimensions, index has %d", len(vector), m.dims)
	}

	matches := make([]Match, 0, len(m.records))
	for id, r := range m.records {
		match := Match{ID: id, Score: cosine(vector, r.Vector)}
		if includeMetadata {
			match.Metadata = cloneMetadata(r.Metadata)
		}
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len returns the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector. a and b must have the same length.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func cloneRecord(r Record) Record {
	v := make([]float32, len(r.Vector))
	copy(v, r.Vector)
	return Record{ID: r.ID, Vector: v, Metadata: cloneMetadata(r.Metadata)}
}

func cloneMetadata(md Metadata) Metadata {
	out := Metadata{Text: md.Text, Source: md.Source}
	if len(md.Extra) > 0 {
		out.Extra = make(map[string]string, len(md.Extra))
		for k, v := range md.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
