package hashing

import (
	"encoding/binary"
	"testing"

	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/assert"
)

func TestPolynomial_Hash(t *testing.T) {
	fn := NewPolynomial()

	tests := []struct {
		name     string
		key      string
		expected int32
	}{
		{name: "empty key", key: "", expected: 0},
		{name: "single char", key: "a", expected: 97},
		{name: "abc", key: "abc", expected: 96354},
		{name: "hello", key: "hello", expected: 99162322},
		{name: "surrogate pair hashes both code units", key: "\U0001F600", expected: 31*0xD83D + 0xDE00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fn.Hash(tt.key))
		})
	}
}

func TestPolynomial_KnownCollision(t *testing.T) {
	fn := NewPolynomial()
	assert.Equal(t, fn.Hash("Aa"), fn.Hash("BB"))
}

func TestPolynomial_WrapsAround(t *testing.T) {
	fn := NewPolynomial()
	// Long keys overflow int32; the result must still be deterministic.
	key := "the-quick-brown-fox-jumps-over-the-lazy-dog-0123456789"
	assert.Equal(t, fn.Hash(key), fn.Hash(key))
}

func TestMurmur3_Hash(t *testing.T) {
	fn := NewMurmur3()

	t.Run("empty key hashes to zero", func(t *testing.T) {
		assert.Equal(t, int32(0), fn.Hash(""))
	})

	t.Run("hashes UTF-16LE bytes", func(t *testing.T) {
		key := "entity-42"
		buf := make([]byte, 0, len(key)*2)
		for _, r := range key {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(r))
		}
		assert.Equal(t, int32(murmur3.Sum32(buf)), fn.Hash(key))
	})

	t.Run("differs from hashing UTF-8 bytes", func(t *testing.T) {
		key := "entity-42"
		assert.NotEqual(t, int32(murmur3.Sum32([]byte(key))), fn.Hash(key))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, fn.Hash("Aa"), fn.Hash("Aa"))
		assert.NotEqual(t, fn.Hash("Aa"), fn.Hash("BB"))
	})
}

func TestUTF16LE(t *testing.T) {
	assert.Equal(t, []byte{'a', 0, 'b', 0}, utf16LE("ab"))
	assert.Equal(t, []byte{0x3D, 0xD8, 0x00, 0xDE}, utf16LE("\U0001F600"))
	assert.Empty(t, utf16LE(""))
}

func TestFunctionByName(t *testing.T) {
	fn, err := FunctionByName("murmur3")
	assert.NoError(t, err)
	assert.Equal(t, "murmur3", fn.Name())

	fn, err = FunctionByName("polynomial")
	assert.NoError(t, err)
	assert.Equal(t, "polynomial", fn.Name())

	_, err = FunctionByName("sha1")
	assert.Error(t, err)
}
