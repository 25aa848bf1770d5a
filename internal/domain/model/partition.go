package model

import "hash/fnv"

// Partition maps a match to one of n partitions. The dispatcher and the
// projection rebuild share it so a match lands in the same lane in both.
func Partition(matchID string, n int) int {
	if n < 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(matchID))
	return int(h.Sum32() % uint32(n))
}
