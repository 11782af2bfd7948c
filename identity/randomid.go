package identity

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// idReader is swapped out in tests.
var idReader = cryptorand.Reader

const (
	idEntropyBytes = 17
	idBase         = 36

	// IDLength is the fixed length of every id produced by NewID. Base36
	// needs 25 digits for 2^128-1; the extra entropy byte keeps the high
	// digit populated so no padding is needed.
	IDLength = 25
)

// NewID returns a random base36 identifier. The agent hands these out as
// client ids during the init handshake, so they must be unguessable and
// unique for the life of the process.
func NewID() string {
	var p [idEntropyBytes]byte

	if _, err := io.ReadFull(idReader, p[:]); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	p[0] |= 0x80
	return (&big.Int{}).SetBytes(p[:]).Text(idBase)[1 : IDLength+1]
}

// Valid reports whether id has the shape of an identifier returned by NewID.
func Valid(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
