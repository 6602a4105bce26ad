package ext4

// divide performs ceiling division, the integer arithmetic idiom used
// throughout ext4 geometry calculations (number of block groups from a
// block count, number of group-descriptor blocks from a group count,
// and so on).
func divide(a, b int64) int64 {
	return (a + b - 1) / b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
