// Package varint implements the two 7-bit-group integer codecs
// used by the offset/score format. MsbFirst packs 7-bit groups
// most-significant-group-first (used under the WITH_PREDICTION and FLEXI
// tags); LsbFirst packs them least-significant-group-first, the
// conventional scheme used under SINGLE_* and DELTA_OROCH_* tags. The two
// are bit-incompatible and must never be mixed within a single tag's
// payload.
package varint

import "errors"

// ErrTruncated is returned when the input ends inside a continuation chain.
var ErrTruncated = errors.New("varint: truncated")

// ErrOverflow is returned when a decoded value would not fit in 64 bits.
var ErrOverflow = errors.New("varint: overflow")

// AppendMsbFirst appends the most-significant-group-first encoding of v to
// dst and returns the extended slice. Every byte but the last carries the
// continuation bit (0x80); the final byte's top bit is always clear.
func AppendMsbFirst(dst []byte, v uint64) []byte {
	var buf [10]byte
	n := PutMsbFirst(buf[:], v)
	return append(dst, buf[:n]...)
}

// PutMsbFirst writes the most-significant-group-first encoding of v into
// the front of dst, which must be at least MaxLen bytes long, and returns
// the number of bytes written. Unlike AppendMsbFirst, it never allocates
// — callers with a pre-sized scratch buffer (e.g. an arena slab) use this
// to avoid forcing a reallocation when dst's capacity is tight.
func PutMsbFirst(dst []byte, v uint64) int {
	var buf [10]byte
	i := len(buf)

	i--
	buf[i] = byte(v & 0x7f)
	v >>= 7

	for v != 0 {
		i--
		buf[i] = 0x80 | byte(v&0x7f)
		v >>= 7
	}

	n := len(buf) - i
	copy(dst, buf[i:])
	return n
}

// MaxLen is the maximum number of bytes either varint encoding can occupy
// for a full 64-bit value.
const MaxLen = 10

// DecodeMsbFirst reads a most-significant-group-first varint from the front
// of b, returning the value and the number of bytes consumed.
func DecodeMsbFirst(b []byte) (uint64, int, error) {
	var result uint64
	for i, c := range b {
		if result>>57 != 0 {
			return 0, 0, ErrOverflow
		}
		result = (result << 7) | uint64(c&0x7f)
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
		if i >= 9 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// AppendLsbFirst appends the conventional least-significant-group-first
// encoding of v to dst (MSB=continuation, standard "oroch" varint).
func AppendLsbFirst(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// DecodeLsbFirst reads a least-significant-group-first varint from the
// front of b, returning the value and the number of bytes consumed.
func DecodeLsbFirst(b []byte) (uint64, int, error) {
	var result uint64
	for i, c := range b {
		if i >= 10 {
			return 0, 0, ErrOverflow
		}
		result |= uint64(c&0x7f) << (7 * uint(i))
		if c&0x80 == 0 {
			if i == 9 && c > 1 {
				return 0, 0, ErrOverflow
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}
