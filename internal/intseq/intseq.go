// Package intseq implements IntSeqCodec, the integer-sequence packer used
// by the DELTA_OROCH_* offset/score formats (spec.md §4.3) to store
// offset deltas and integer-valued scores compactly. Given a sequence of
// unsigned or signed 64-bit integers, the encoder selects among bit
// packing, byte packing, and varint strategies, writes a one-byte
// metadata header describing the choice, then the packed payload. The
// decoder reads the metadata first and then exactly as many payload
// bytes as the chosen strategy implies for the (externally known)
// element count.
package intseq

import (
	"errors"
	"math/bits"

	"github.com/flashdb/cantera/internal/varint"
)

// ErrTruncated is returned when src ends before the metadata byte or the
// full packed payload for the requested count has been read.
var ErrTruncated = errors.New("intseq: truncated")

type strategy byte

const (
	strategyBitPacked  strategy = 0
	strategyBytePacked strategy = 1
	strategyVarint     strategy = 2
)

// metadata is a single byte: top 2 bits select the strategy, low 6 bits
// carry the width (bits for bit-packed, bytes for byte-packed, unused
// for varint).
func encodeMeta(s strategy, width int) byte {
	return byte(s)<<6 | byte(width&0x3f)
}

func decodeMeta(b byte) (strategy, int) {
	return strategy(b >> 6), int(b & 0x3f)
}

func byteWidth(max uint64) int {
	switch {
	case max == 0:
		return 0
	case max <= 0xff:
		return 1
	case max <= 0xffff:
		return 2
	case max <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

// EncodeUint64 appends the packed encoding of values to dst: one metadata
// byte followed by the payload.
func EncodeUint64(dst []byte, values []uint64) []byte {
	n := len(values)
	if n == 0 {
		return append(dst, encodeMeta(strategyBitPacked, 0))
	}

	var max uint64
	for _, v := range values {
		if v > max {
			max = v
		}
	}

	bitWidth := bits.Len64(max)
	bitpackedSize := 1 + (bitWidth*n+7)/8

	bw := byteWidth(max)
	bytepackedSize := 1 + bw*n

	varintSize := 1
	for _, v := range values {
		varintSize += varintLen(v)
	}

	// Bit packing is never larger than byte packing, so byte packing is
	// chosen whenever the two sizes tie; bit packing otherwise.
	switch {
	case bytepackedSize <= bitpackedSize && bytepackedSize <= varintSize:
		dst = append(dst, encodeMeta(strategyBytePacked, bw))
		return appendBytePacked(dst, values, bw)
	case bitpackedSize <= varintSize:
		dst = append(dst, encodeMeta(strategyBitPacked, bitWidth))
		return appendBitPacked(dst, values, bitWidth)
	default:
		dst = append(dst, encodeMeta(strategyVarint, 0))
		for _, v := range values {
			dst = varint.AppendLsbFirst(dst, v)
		}
		return dst
	}
}

func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func appendBitPacked(dst []byte, values []uint64, bitWidth int) []byte {
	if bitWidth == 0 {
		return dst
	}
	var acc uint64
	var accBits int
	for _, v := range values {
		acc |= (v & ((1 << uint(bitWidth)) - 1)) << uint(accBits)
		accBits += bitWidth
		for accBits >= 8 {
			dst = append(dst, byte(acc))
			acc >>= 8
			accBits -= 8
		}
	}
	if accBits > 0 {
		dst = append(dst, byte(acc))
	}
	return dst
}

func appendBytePacked(dst []byte, values []uint64, width int) []byte {
	if width == 0 {
		return dst
	}
	for _, v := range values {
		for i := 0; i < width; i++ {
			dst = append(dst, byte(v>>(8*uint(i))))
		}
	}
	return dst
}

// DecodeUint64 reads the metadata byte then count packed values from the
// front of src, returning the values and the number of bytes consumed. It
// returns ErrTruncated (or a wrapped varint error) rather than panicking
// when src ends before the expected payload, since src may come directly
// from untrusted on-disk data.
func DecodeUint64(src []byte, count int) ([]uint64, int, error) {
	if len(src) == 0 {
		return nil, 0, ErrTruncated
	}
	s, width := decodeMeta(src[0])
	pos := 1

	values := make([]uint64, count)
	if count == 0 {
		return values, pos, nil
	}

	switch s {
	case strategyBitPacked:
		if width == 0 {
			return values, pos, nil
		}
		var acc uint64
		var accBits int
		mask := uint64(1)<<uint(width) - 1
		for i := 0; i < count; i++ {
			for accBits < width {
				if pos >= len(src) {
					return nil, 0, ErrTruncated
				}
				acc |= uint64(src[pos]) << uint(accBits)
				pos++
				accBits += 8
			}
			values[i] = acc & mask
			acc >>= uint(width)
			accBits -= width
		}
		return values, pos, nil

	case strategyBytePacked:
		if width == 0 {
			return values, pos, nil
		}
		for i := 0; i < count; i++ {
			var v uint64
			for b := 0; b < width; b++ {
				if pos >= len(src) {
					return nil, 0, ErrTruncated
				}
				v |= uint64(src[pos]) << (8 * uint(b))
				pos++
			}
			values[i] = v
		}
		return values, pos, nil

	default: // strategyVarint
		for i := 0; i < count; i++ {
			v, n, err := varint.DecodeLsbFirst(src[pos:])
			if err != nil {
				return nil, 0, err
			}
			values[i] = v
			pos += n
		}
		return values, pos, nil
	}
}

// ZigZagEncode maps a signed value to an unsigned one so that small
// magnitudes (positive or negative) pack densely.
func ZigZagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// ZigZagDecode reverses ZigZagEncode.
func ZigZagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// EncodeInt64 zig-zags values and packs them with EncodeUint64.
func EncodeInt64(dst []byte, values []int64) []byte {
	zz := make([]uint64, len(values))
	for i, v := range values {
		zz[i] = ZigZagEncode(v)
	}
	return EncodeUint64(dst, zz)
}

// DecodeInt64 decodes count zig-zagged values packed by EncodeInt64.
func DecodeInt64(src []byte, count int) ([]int64, int, error) {
	zz, n, err := DecodeUint64(src, count)
	if err != nil {
		return nil, 0, err
	}
	values := make([]int64, count)
	for i, v := range zz {
		values[i] = ZigZagDecode(v)
	}
	return values, n, nil
}
