// Package ident generates the short public identifiers that name upload workspaces.
package ident

import (
	"encoding/binary"
	"math/rand"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Length of every identifier.
const Length = 5

const alphabetSize = 26

// Generate returns a fresh identifier of Length uppercase letters.
//
// Identifiers are not checked against existing workspaces. With 26^5 possible values a
// collision is unlikely but possible, and callers reset any workspace they collide with.
func Generate() string {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], rand.Uint64())
	return fromHash(xxhash.Sum64(seed[:]))
}

func fromHash(h uint64) string {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		b.WriteByte(byte('A' + h%alphabetSize))
		h /= alphabetSize
	}
	return b.String()
}

// Valid reports whether id may be used to look up a workspace: exactly Length bytes with no
// '.', '/' or '\'. Anything else about the id is left to the directory lookup.
func Valid(id string) bool {
	return len(id) == Length && !strings.ContainsAny(id, `./\`)
}
