// Package chunk provides slice partitioning for batched store operations.
package chunk

import "errors"

// ErrInvalidSize is returned when a chunk size of zero or less is requested.
var ErrInvalidSize = errors.New("chunk: size must be positive")

// Split partitions items into consecutive chunks of at most size elements.
// The last chunk may be shorter. A nil or empty input yields no chunks.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if len(items) == 0 {
		return nil, nil
	}

	n := (len(items) + size - 1) / size
	chunks := make([][]T, 0, n)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks, nil
}
