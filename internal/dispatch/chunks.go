package dispatch

// Chunks splits items into at most k contiguous slices of ceil(n/k) items.
// The last slice may be shorter. k below one is treated as one.
func Chunks[T any](items []T, k int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}
	size := (len(items) + k - 1) / k
	out := make([][]T, 0, k)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}
