package ingest

import "strings"

// DefaultChunkWords is the chunk size used when none is configured.
const DefaultChunkWords = 120

// chunkOverlapPercent is the share of each chunk repeated at the start of
// the next.
const chunkOverlapPercent = 15

// Chunk splits text into windows of at most size words. Consecutive windows
// share 15% of size so a quote straddling a boundary is still found whole.
// Text with no words yields nil.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := size - size*chunkOverlapPercent/100
	if step < 1 {
		step = 1
	}
	var chunks []string
	for start := 0; ; start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			return chunks
		}
	}
}
