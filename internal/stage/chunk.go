package stage

import "fmt"

// Default chunk geometry. The overlap keeps items that span a chunk boundary
// extractable from at least one chunk; duplicates across chunks are the
// consolidator's job.
const (
	DefaultChunkSize    = 12000
	DefaultChunkOverlap = 800
)

// Chunk is one window of paper text handed to an extraction call.
type Chunk struct {
	ID   string
	Text string
}

// Split cuts text into overlapping chunks. size and overlap fall back to the
// defaults when non-positive.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}

	if len(text) == 0 {
		return nil
	}

	var chunks []Chunk
	stride := size - overlap
	for start := 0; ; start += stride {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, Chunk{
			ID:   fmt.Sprintf("chunk-%d", len(chunks)+1),
			Text: text[start:end],
		})
		if end == len(text) {
			break
		}
	}
	return chunks
}
