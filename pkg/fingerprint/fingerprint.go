package fingerprint

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/cespare/xxhash"
	"github.com/google/uuid"
)

// Of hashes the given parts into a short base58 string. Parts are separated so
// that ("ab", "c") and ("a", "bc") do not collide.
func Of(parts ...string) string {
	xxxHash := xxhash.New()
	for _, part := range parts {
		xxxHash.Write([]byte(part))
		xxxHash.Write([]byte{0})
	}
	rawID := xxxHash.Sum(nil)
	return base58.Encode(rawID[:])
}

func NewID() string {
	rawID := uuid.New()
	return base58.Encode(rawID[:])
}
