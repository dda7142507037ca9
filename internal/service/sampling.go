package service

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/geocell/server/internal/selection"
)

// cellHash ranks a cell for sampling. The rank depends only on the seed and
// the observation id, so a cell is kept or dropped the same way in every plot.
func cellHash(seed int64, obsID string) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))

	d := xxhash.New()
	d.Write(buf[:])
	d.WriteString(obsID)
	return d.Sum64()
}

// deterministicSample keeps the k points with the lowest cellHash, in their
// original order. k <= 0 keeps nothing; k >= len(points) keeps everything.
func deterministicSample(points []selection.Point, k int, seed int64) []selection.Point {
	if k <= 0 {
		return []selection.Point{}
	}
	if k >= len(points) {
		return points
	}

	type ranked struct {
		idx  int
		hash uint64
	}
	ranks := make([]ranked, len(points))
	for i, p := range points {
		ranks[i] = ranked{idx: i, hash: cellHash(seed, p.ID)}
	}
	slices.SortFunc(ranks, func(a, b ranked) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		}
		return a.idx - b.idx
	})

	keep := make([]int, k)
	for i := range keep {
		keep[i] = ranks[i].idx
	}
	slices.Sort(keep)

	out := make([]selection.Point, k)
	for i, idx := range keep {
		out[i] = points[idx]
	}
	return out
}
