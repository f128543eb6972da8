package rag

import "unicode/utf8"

// DefaultChunkSize is the chunk length, in characters, used when ingestion
// is not configured otherwise.
const DefaultChunkSize = 512

// Split splits text into contiguous, non-overlapping segments of at most size
// characters (Unicode code points). Concatenating the returned texts in order
// reproduces text exactly. Empty text or a non-positive size yields nil.
func Split(text string, size int) []Chunk {
	if text == "" || size <= 0 {
		return nil
	}

	chunks := make([]Chunk, 0, utf8.RuneCountInString(text)/size+1)
	start, runes := 0, 0
	for i := range text {
		if runes == size {
			chunks = append(chunks, Chunk{Text: text[start:i], Offset: start})
			start, runes = i, 0
		}
		runes++
	}
	chunks = append(chunks, Chunk{Text: text[start:], Offset: start})
	return chunks
}
