package downloader

// Range is an inclusive [start, end] byte interval. It encodes as a two
// element JSON array.
type Range [2]int64

func (r Range) Start() int64 { return r[0] }
func (r Range) End() int64   { return r[1] }

// CalculateRanges splits [0, filesize] into threads ranges. Adjacent ranges
// meet at end+1 and the last range always ends at filesize, so only the
// final range is one byte past the real content.
func CalculateRanges(filesize int64, threads int) ([]Range, error) {
	if threads < 1 {
		return nil, ErrInvalidThreads
	}
	if filesize < 0 {
		return nil, ErrNegativeFilesize
	}
	if threads == 1 {
		return []Range{{0, filesize}}, nil
	}
	partition := filesize / int64(threads)
	ranges := make([]Range, threads)
	ranges[0] = Range{0, partition}
	for i := 1; i < threads-1; i++ {
		ranges[i] = Range{partition*int64(i) + 1, partition * int64(i+1)}
	}
	ranges[threads-1] = Range{ranges[threads-2].End() + 1, filesize}
	return ranges, nil
}

// clampThreads keeps every partition at least two bytes wide. Narrower
// middle ranges would already satisfy the completeness test with an empty
// segment file and never be fetched.
func clampThreads(filesize int64, threads int) int {
	if threads < 1 {
		return threads
	}
	limit := filesize / 2
	if int64(threads) > limit {
		return int(max(1, limit))
	}
	return threads
}
