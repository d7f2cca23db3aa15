// Package utils holds small helpers shared by the arena binaries.
package utils

import "math/rand"

// GetRandomElement returns a randomly chosen element from arr using r, or the
// package-level source when r is nil. arr must be non-empty.
//
// Parameters:
//   - r: Random source; nil selects math/rand's global source
//   - arr: The slice to pick from (must have at least one element)
//
// Returns:
//   - A random element of type T from the slice
func GetRandomElement[T any](r *rand.Rand, arr []T) T {
	if r == nil {
		return arr[rand.Intn(len(arr))]
	}

	return arr[r.Intn(len(arr))]
}
