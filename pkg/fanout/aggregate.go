package fanout

import (
	"cmp"
	"slices"

	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// ChunkResult is the table fetched for one chunk.
type ChunkResult struct {
	Index int
	Table *table.Table
}

// Aggregate concatenates chunk tables in ascending Index order, independent of
// the order they completed in. Rows are neither deduplicated nor sorted.
// No results yield an empty table.
func Aggregate(results []ChunkResult) *table.Table {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b ChunkResult) int {
		return cmp.Compare(a.Index, b.Index)
	})

	tables := make([]*table.Table, len(ordered))
	for i, r := range ordered {
		tables[i] = r.Table
	}
	return table.Concat(tables...)
}
