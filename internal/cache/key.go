package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arqlabs/cascade/internal/dispatch"
)

// Key computes a deterministic SHA-256 cache key for a task. All fields
// that influence the output participate in the hash, separated by NUL
// bytes so adjacent fields cannot collide.
func Key(task *dispatch.Task) string {
	h := sha256.New()

	h.Write([]byte(task.Category))
	h.Write([]byte{0})
	h.Write([]byte(task.Prompt))
	h.Write([]byte{0})

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(task.MaxTokens))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(task.Temperature))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(task.ResultCount))
	h.Write(buf[:])

	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cacheable reports whether a task's result is eligible for caching.
// Search results are always cacheable; generation output is only cached
// when the temperature is 0, since anything else is non-deterministic.
func Cacheable(task *dispatch.Task) bool {
	if task == nil {
		return false
	}
	if task.Category == dispatch.CategorySearch {
		return true
	}
	return task.Temperature == 0
}
