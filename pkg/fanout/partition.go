package fanout

// Chunk is a contiguous slice of the universe fetched as one request.
type Chunk struct {
	// Index is the chunk's position in the split.
	Index int
	Items []string
}

// EffectiveChunkSize returns max(minChunkSize, ceil(n/workerCount)).
// Non-positive arguments are clamped to 1.
func EffectiveChunkSize(n, minChunkSize, workerCount int) int {
	if workerCount <= 0 {
		workerCount = 1
	}
	if minChunkSize <= 0 {
		minChunkSize = 1
	}
	return max(minChunkSize, (n+workerCount-1)/workerCount)
}

// Partition splits universe into contiguous chunks of EffectiveChunkSize items.
// The last chunk may be shorter. An empty universe yields no chunks.
func Partition(universe []string, minChunkSize, workerCount int) []Chunk {
	n := len(universe)
	if n == 0 {
		return []Chunk{}
	}

	size := EffectiveChunkSize(n, minChunkSize, workerCount)
	chunks := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Items: universe[start:end:end],
		})
	}
	return chunks
}
