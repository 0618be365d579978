package cache

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// KeyPrefix namespaces query fingerprints in shared cache backends.
const KeyPrefix = "ch:query:"

// Normalize collapses whitespace runs to single spaces, trims the ends, and
// drops a trailing statement terminator. Normalize is idempotent, so a
// terminator followed only by whitespace or further terminators is dropped
// as a whole.
func Normalize(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	return strings.TrimRight(s, "; ")
}

// Fingerprint returns the cache key for a query: the 128-bit murmur3 hash of
// its normalized text, hex encoded, under KeyPrefix.
func Fingerprint(sql string) string {
	h1, h2 := murmur3.Sum128([]byte(Normalize(sql)))
	return fmt.Sprintf("%s%016x%016x", KeyPrefix, h1, h2)
}
