package rooms

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet excludes ambiguous characters: 0, O, 1, I, L
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 4

const codeAttempts = 10

// Rand is the source of every random choice a room makes.
type Rand interface {
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}

type cryptoRand struct{}

func (cryptoRand) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("rooms: reading randomness: %v", err))
	}
	return int(v.Int64())
}

func GenerateCode(r Rand) string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = Alphabet[r.Intn(len(Alphabet))]
	}
	return string(code)
}
