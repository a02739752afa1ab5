package random

import (
	"crypto/rand"
	"math/big"
)

// Random is the source of randomness for access codes and reconnect jitter
type Random interface {
	// Int63n returns a value in [0, n), or 0 when n <= 0
	Int63n(n int64) int64

	// String returns length characters drawn from alphabet
	String(length int, alphabet string) string
}

// CryptoRandom draws from crypto/rand
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

func (r *CryptoRandom) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

// String picks each character independently and uniformly
func (r *CryptoRandom) String(length int, alphabet string) string {
	if length <= 0 || alphabet == "" {
		return ""
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = alphabet[r.Int63n(int64(len(alphabet)))]
	}
	return string(out)
}
