package hashing

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/spaolacci/murmur3"
)

// Function is a pure, stateless string to int32 hash.
type Function interface {
	// Name identifies the function in configuration and logs.
	Name() string
	// Hash returns the hash of key.
	Hash(key string) int32
}

// Compile-time interface verification.
var (
	_ Function = Polynomial{}
	_ Function = Murmur3{}
)

// Polynomial is the classic 31-multiplier string hash over UTF-16 code units.
type Polynomial struct{}

// NewPolynomial returns the polynomial hash function.
func NewPolynomial() Polynomial {
	return Polynomial{}
}

// Name implements Function.
func (Polynomial) Name() string { return "polynomial" }

// Hash implements Function.
func (Polynomial) Hash(key string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(key)) {
		h = 31*h + int32(unit)
	}
	return h
}

// Murmur3 is the x86 32-bit Murmur3 hash, seed 0, applied to the UTF-16LE
// encoding of the key. Each 32-bit round therefore mixes two code units.
type Murmur3 struct{}

// NewMurmur3 returns the Murmur3 hash function.
func NewMurmur3() Murmur3 {
	return Murmur3{}
}

// Name implements Function.
func (Murmur3) Name() string { return "murmur3" }

// Hash implements Function.
func (Murmur3) Hash(key string) int32 {
	return int32(murmur3.Sum32(utf16LE(key)))
}

// utf16LE encodes key as little-endian UTF-16 code units.
func utf16LE(key string) []byte {
	units := utf16.Encode([]rune(key))
	buf := make([]byte, 0, len(units)*2)
	for _, unit := range units {
		buf = binary.LittleEndian.AppendUint16(buf, unit)
	}
	return buf
}
