package util

import (
	"crypto/sha256"
	"fmt"
)

// EntryKey returns a storage-safe key for a serialized query key: the query
// string itself may contain characters some byte stores dislike, so it is
// hashed and truncated to a short stable form.
func EntryKey(prefix, queryKey string) string {
	sum := sha256.Sum256([]byte(queryKey))
	return fmt.Sprintf("%s:%x", prefix, sum)[:len(prefix)+1+16] // prefix + ":" + first 16 hex chars
}
