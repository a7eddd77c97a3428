package common

import (
	"crypto/rand"
	"math/big"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlphanumeric generates a random alphanumeric string of the
// given length using crypto/rand.
//
// The source this module is modeled on used a non-cryptographic PRNG
// here; work ids and correlation ids are exposed to clients and used
// as map keys across services, so this module upgrades to a CSPRNG —
// the cost is negligible at one call per submitted object.
func RandomAlphanumeric(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand.Reader failing means the OS entropy source is
			// broken; there is no sane fallback for an id generator.
			panic("common: crypto/rand unavailable: " + err.Error())
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out)
}

// NewWorkID generates a work id: at least 24 alphanumeric characters.
func NewWorkID() string {
	return RandomAlphanumeric(32)
}

// NewCorrelationID generates a 24 alphanumeric character correlation id.
func NewCorrelationID() string {
	return RandomAlphanumeric(24)
}
