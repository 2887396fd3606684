package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
	"strings"
)

// KeyPrefix is prepended to every cache key.
const KeyPrefix = "fanout:chunk"

// Key identifies a cached chunk.
type Key struct {
	// Identifiers are the instruments of the chunk, in request order
	Identifiers []string

	// Fields are the requested fields, in request order
	Fields []string

	// Parameters are the backend request parameters
	Parameters map[string]string
}

// String generates a deterministic cache key string.
// Format: fanout:chunk:<items>:<sha256 of identifiers, fields and parameters>
//
// Example:
//
//	fanout:chunk:800:5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8
func (k Key) String() string {
	h := sha256.New()
	writeList(h, k.Identifiers)
	writeList(h, k.Fields)

	// Parameters sorted for determinism
	names := make([]string, 0, len(k.Parameters))
	for name := range k.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + k.Parameters[name]
	}
	writeList(h, pairs)

	return strings.Join([]string{KeyPrefix, strconv.Itoa(len(k.Identifiers)), hex.EncodeToString(h.Sum(nil))}, ":")
}

// writeList hashes a list with separators so ["ab","c"] and ["a","bc"] differ.
func writeList(h hash.Hash, items []string) {
	for _, s := range items {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
}
