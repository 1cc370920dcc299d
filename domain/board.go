package domain

import "sort"

// NewBoard groups items by bucket and sorts each column by position,
// breaking the (transient, pre-allocator) tie on id for determinism.
func NewBoard(scope string, items []Item) Board {
	cols := make(map[Bucket][]Item, len(Buckets))
	for _, b := range Buckets {
		cols[b] = []Item{}
	}
	for _, it := range items {
		cols[it.Bucket] = append(cols[it.Bucket], it)
	}
	for b := range cols {
		col := cols[b]
		sort.Slice(col, func(i, j int) bool {
			if col[i].Position != col[j].Position {
				return col[i].Position < col[j].Position
			}
			return col[i].ID < col[j].ID
		})
	}
	return Board{Scope: scope, Columns: cols}
}
