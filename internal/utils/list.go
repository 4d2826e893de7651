package utils

func IsStringInSlice(s string, slice []string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// AppendUnique appends values not already present, preserving order.
func AppendUnique(slice []string, values ...string) []string {
	for _, v := range values {
		if v != "" && !IsStringInSlice(v, slice) {
			slice = append(slice, v)
		}
	}
	return slice
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
