package fanout

import "fmt"

// ChunkError identifies the chunk that failed a run.
type ChunkError struct {
	Index int
	Size  int
	First string
	Last  string
	Err   error
}

func newChunkError(c Chunk, err error) *ChunkError {
	ce := &ChunkError{Index: c.Index, Size: len(c.Items), Err: err}
	if len(c.Items) > 0 {
		ce.First = c.Items[0]
		ce.Last = c.Items[len(c.Items)-1]
	}
	return ce
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d items, %s..%s): %v", e.Index, e.Size, e.First, e.Last, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ChunkError) Unwrap() error {
	return e.Err
}
