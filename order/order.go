// Package order computes position values for items inserted at an arbitrary
// rank within a bucket. Positions are spaced integers so that most insertions
// pick a midpoint and never touch sibling items.
package order

// Gap is the spacing between consecutive positions at append and renumber
// time. A midpoint insertion halves the available gap, so a gap of 100
// absorbs several insertions between the same neighbors before a renumber
// is needed.
const Gap = 100

// Tail returns the append position for a bucket whose existing positions are
// given in ascending order.
func Tail(positions []int64) int64 {
	if len(positions) == 0 {
		return Gap
	}
	return positions[len(positions)-1] + Gap
}

// ValidRank reports whether rank is a legal insertion rank for a bucket of n
// items.
func ValidRank(rank, n int) bool {
	return rank >= 0 && rank <= n
}

// ForRank returns a position sorting exactly at rank among the given
// ascending positions. ok is false when the neighboring positions leave no
// integer between them; callers must then renumber the bucket and retry.
func ForRank(positions []int64, rank int) (pos int64, ok bool) {
	n := len(positions)
	if !ValidRank(rank, n) {
		return 0, false
	}
	if rank == n {
		return Tail(positions), true
	}
	var lo int64
	if rank > 0 {
		lo = positions[rank-1]
	}
	hi := positions[rank]
	mid := lo + (hi-lo)/2
	if mid <= lo || mid >= hi {
		return 0, false
	}
	return mid, true
}

// Renumber returns n fresh positions with the standard gap, for a
// bucket-local redistribution after gap exhaustion.
func Renumber(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i+1) * Gap
	}
	return out
}
