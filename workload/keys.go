/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"math/rand"
	"strconv"

	"github.com/cockroachdb/errors"
)

const (
	// KeyPrefix starts every key the benchmark writes.
	KeyPrefix = "mako"
	// MinKeyBytes is the smallest accepted key width.
	MinKeyBytes = 16
	// MaxKeyValueSize bounds both key width and value length.
	MaxKeyValueSize = 1000

	keyFiller    = 'x'
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Digits returns the number of decimal digits of n. Digits(0) is 0.
func Digits(n int64) int {
	d := 0
	for n > 0 {
		n /= 10
		d++
	}
	return d
}

// KeyCodec builds fixed-width keys of the form
// "mako" + zero padded row index + 'x' filler, and random values.
type KeyCodec struct {
	rows          int64
	keyBytes      int
	seqLen        int
	minValueBytes int
	maxValueBytes int
}

// NewKeyCodec validates the key and value geometry. keyBytes below
// MinKeyBytes is raised to MinKeyBytes.
func NewKeyCodec(rows int64, keyBytes, minValueBytes, maxValueBytes int) (KeyCodec, error) {
	if rows <= 0 {
		return KeyCodec{}, errors.Newf("rows must be positive, got %d", rows)
	}
	if keyBytes < MinKeyBytes {
		keyBytes = MinKeyBytes
	}
	seqLen := Digits(rows)
	switch {
	case len(KeyPrefix)+seqLen > keyBytes:
		return KeyCodec{}, errors.Newf("key-bytes %d cannot hold prefix %q and %d index digits", keyBytes, KeyPrefix, seqLen)
	case keyBytes > MaxKeyValueSize:
		return KeyCodec{}, errors.Newf("key-bytes %d exceeds %d", keyBytes, MaxKeyValueSize)
	case maxValueBytes > MaxKeyValueSize:
		return KeyCodec{}, errors.Newf("value-bytes %d exceeds %d", maxValueBytes, MaxKeyValueSize)
	case maxValueBytes < 0:
		return KeyCodec{}, errors.Newf("value-bytes must not be negative, got %d", maxValueBytes)
	case minValueBytes < 0:
		return KeyCodec{}, errors.Newf("min-value-bytes must not be negative, got %d", minValueBytes)
	case minValueBytes > maxValueBytes:
		return KeyCodec{}, errors.Newf("min-value-bytes %d is larger than value-bytes %d", minValueBytes, maxValueBytes)
	}
	return KeyCodec{
		rows:          rows,
		keyBytes:      keyBytes,
		seqLen:        seqLen,
		minValueBytes: minValueBytes,
		maxValueBytes: maxValueBytes,
	}, nil
}

func (c KeyCodec) Rows() int64   { return c.rows }
func (c KeyCodec) KeyBytes() int { return c.keyBytes }

// Key returns the key of row i.
func (c KeyCodec) Key(i int64) []byte {
	key := make([]byte, c.keyBytes)
	n := copy(key, KeyPrefix)
	digits := strconv.FormatInt(i, 10)
	for pad := c.seqLen - len(digits); pad > 0; pad-- {
		key[n] = '0'
		n++
	}
	n += copy(key[n:], digits)
	for ; n < c.keyBytes; n++ {
		key[n] = keyFiller
	}
	return key
}

// Index decodes the row index held in the digit window of key.
func (c KeyCodec) Index(key []byte) (int64, error) {
	end := len(KeyPrefix) + c.seqLen
	if len(key) < end || string(key[:len(KeyPrefix)]) != KeyPrefix {
		return 0, errors.Newf("%q is not a row key", key)
	}
	i, err := strconv.ParseInt(string(key[len(KeyPrefix):end]), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "decoding row index of %q", key)
	}
	return i, nil
}

// RandomIndex picks a row uniformly from [0, rows).
func (c KeyCodec) RandomIndex(rng *rand.Rand) int64 {
	return rng.Int63n(c.rows)
}

// RandomKey returns the prefix followed by random alphanumerics up to the key
// width. Such keys almost never collide with row keys or each other.
func (c KeyCodec) RandomKey(rng *rand.Rand) []byte {
	key := make([]byte, c.keyBytes)
	n := copy(key, KeyPrefix)
	fillAlphanumeric(rng, key[n:])
	return key
}

// RangeKey returns a copy of base whose last width bytes hold i zero padded.
func (c KeyCodec) RangeKey(base []byte, i, width int) []byte {
	key := make([]byte, len(base))
	copy(key, base)
	if width <= 0 {
		return key
	}
	digits := strconv.Itoa(i)
	if len(digits) > width {
		digits = digits[len(digits)-width:]
	}
	start := len(key) - width
	for j := start; j < len(key)-len(digits); j++ {
		key[j] = '0'
	}
	copy(key[len(key)-len(digits):], digits)
	return key
}

// RandomValue returns an alphanumeric value whose length is uniform in
// [minValueBytes, maxValueBytes].
func (c KeyCodec) RandomValue(rng *rand.Rand) []byte {
	n := c.minValueBytes
	if span := c.maxValueBytes - c.minValueBytes; span > 0 {
		n += rng.Intn(span + 1)
	}
	v := make([]byte, n)
	fillAlphanumeric(rng, v)
	return v
}

func fillAlphanumeric(rng *rand.Rand, b []byte) {
	for i := range b {
		b[i] = alphanumeric[rng.Intn(len(alphanumeric))]
	}
}
