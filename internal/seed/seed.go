// Package seed derives deterministic per-(order, page) seeds so image
// synthesis is reproducible across retries and controller replays.
package seed

import (
	"fmt"
	"hash/fnv"
	"math"
)

// refineOffset is the fixed perturbation applied between synthesis
// attempts; a prime keeps the perturbed sequence from cycling early.
const refineOffset = 7919

// ForPage returns the seed for a page. The same (orderID, pageNo) pair
// always maps to the same non-negative int32.
func ForPage(orderID string, pageNo int) int32 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", orderID, pageNo)
	return fold(h.Sum64())
}

// Perturb deterministically shifts a seed for a retry attempt, wrapping
// inside the valid seed range.
func Perturb(s int32) int32 {
	return int32((int64(s) + refineOffset) % math.MaxInt32)
}

func fold(v uint64) int32 {
	return int32(v % math.MaxInt32)
}
