// Package hostabi converts token data between the bridge's native
// representation (uint32 identifiers) and the numeric array types embedding
// hosts expect. JavaScript hosts consume identifiers as BigInt64Array and
// hand decode input back as Uint32Array, plain number arrays, or BigInts.
package hostabi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned when a host value cannot be represented as a
// token identifier.
var ErrOutOfRange = errors.New("value out of identifier range")

// ErrMisaligned is returned when a byte image is not a whole number of elements.
var ErrMisaligned = errors.New("byte length is not a multiple of the element size")

// WidenUint32 returns a newly allocated int64 copy of src. Every uint32 fits
// in an int64, so the conversion never loses precision.
func WidenUint32(src []uint32) []int64 {
	out := make([]int64, len(src))
	for i, v := range src {
		out[i] = int64(v)
	}

	return out
}

// NarrowInt64 converts a host integer (for example a BigInt) to an identifier.
func NarrowInt64(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}

	return uint32(v), nil
}

// NarrowFloat converts a host number to an identifier. NaN, infinities,
// fractional values, negatives and values above MaxUint32 are rejected.
func NarrowFloat(v float64) (uint32, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrOutOfRange, v)
	}

	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}

	return uint32(v), nil
}

// PackInt64LE returns the little-endian byte image of values, the memory
// layout of a BigInt64Array on every WebAssembly host.
func PackInt64LE(values []int64) []byte {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}

	return buf
}

// UnpackUint32LE parses the little-endian byte image of a Uint32Array.
func UnpackUint32LE(buf []byte) ([]uint32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMisaligned, len(buf))
	}

	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	return out, nil
}
