package offsetscore

import (
	"math"

	"github.com/flashdb/cantera/internal/decodectx"
	"github.com/flashdb/cantera/internal/intseq"
	"github.com/flashdb/cantera/internal/rle"
	"github.com/flashdb/cantera/internal/varint"
)

// Decode parses every tagged block present in data, applying ctx's filter
// (if any) to elide offsets the caller does not want. ctx may be nil, in
// which case no filter is applied.
func Decode(data []byte, ctx *decodectx.Context) ([]Record, error) {
	if ctx == nil {
		ctx = decodectx.New()
	}
	leave := ctx.Enter()
	defer leave()

	var out []Record
	pos := 0
	for pos < len(data) {
		records, n, err := decodeBlock(data[pos:], ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
		pos += n
	}
	return out, nil
}

// Count returns the total number of records across every block in data.
// Each block is decoded in full and its records counted.
func Count(data []byte) (int, error) {
	total := 0
	pos := 0
	for pos < len(data) {
		n, consumed, err := countBlock(data[pos:])
		if err != nil {
			return 0, err
		}
		total += n
		pos += consumed
	}
	return total, nil
}

// MaxOffset returns the largest offset across every block in data, or
// zero if data contains no records.
func MaxOffset(data []byte) (uint64, error) {
	var max uint64
	pos := 0
	for pos < len(data) {
		m, consumed, err := maxOffsetBlock(data[pos:])
		if err != nil {
			return 0, err
		}
		if m > max {
			max = m
		}
		pos += consumed
	}
	return max, nil
}

func decodeBlock(data []byte, ctx *decodectx.Context) ([]Record, int, error) {
	if len(data) == 0 {
		return nil, 0, errTruncated("empty block: missing tag byte")
	}
	tag := Tag(data[0])

	switch tag {
	case TagEmpty:
		return nil, 1, nil
	case TagWithPrediction:
		return decodeWithPrediction(data, ctx)
	case TagFlexi:
		return decodeFlexi(data, ctx)
	case TagDeltaOrochFloat, TagDeltaOrochOroch:
		return decodeDeltaOroch(data, ctx)
	case TagSinglePositive1, TagSinglePositive2, TagSinglePositive3,
		TagSingleNegative1, TagSingleNegative2, TagSingleNegative3, TagSingleFloat:
		return decodeSingle(data, ctx)
	default:
		return nil, 0, errMalformed("unknown format tag 0x%02x", byte(tag))
	}
}

func decodeSingle(data []byte, ctx *decodectx.Context) ([]Record, int, error) {
	tag := Tag(data[0])
	pos := 1

	offset, n, err := varint.DecodeLsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("single: offset varint: " + err.Error())
	}
	pos += n

	var r Record
	r = NewRecord(offset, 0)

	width := 0
	negative := false
	switch tag {
	case TagSinglePositive1:
		width = 1
	case TagSinglePositive2:
		width = 2
	case TagSinglePositive3:
		width = 3
	case TagSingleNegative1:
		width = 1
		negative = true
	case TagSingleNegative2:
		width = 2
		negative = true
	case TagSingleNegative3:
		width = 3
		negative = true
	case TagSingleFloat:
		if pos+4 > len(data) {
			return nil, 0, errTruncated("single: float score")
		}
		r.Score = readFloat32(data[pos:])
		pos += 4
	default:
		return nil, 0, errMalformed("unexpected single tag 0x%02x", byte(tag))
	}

	if width > 0 {
		if pos+width > len(data) {
			return nil, 0, errTruncated("single: integer score")
		}
		var v int64
		for i := 0; i < width; i++ {
			v |= int64(data[pos+i]) << uint(8*i)
		}
		pos += width
		if negative {
			v = ^v
		}
		r.Score = float32(v)
	}

	if ctx.UseFilter() && !ctx.Allowed(offset) {
		return nil, pos, nil
	}
	return []Record{r}, pos, nil
}

func decodeDeltaOroch(data []byte, ctx *decodectx.Context) ([]Record, int, error) {
	tag := Tag(data[0])
	pos := 1

	count64, n, err := varint.DecodeLsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("oroch: count varint: " + err.Error())
	}
	pos += n
	count := int(count64)

	firstOffset, n, err := varint.DecodeLsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("oroch: first offset varint: " + err.Error())
	}
	pos += n

	deltas, n, err := intseq.DecodeUint64(data[pos:], count-1)
	if err != nil {
		return nil, 0, errTruncated("oroch: deltas: " + err.Error())
	}
	pos += n

	offsets := make([]uint64, count)
	offsets[0] = firstOffset
	for i := 1; i < count; i++ {
		offsets[i] = offsets[i-1] + deltas[i-1]
	}

	records := make([]Record, 0, count)
	if tag == TagDeltaOrochOroch {
		scores, n, err := intseq.DecodeInt64(data[pos:], count)
		if err != nil {
			return nil, 0, errTruncated("oroch: scores: " + err.Error())
		}
		pos += n
		for i := 0; i < count; i++ {
			if ctx.UseFilter() && !ctx.Allowed(offsets[i]) {
				continue
			}
			records = append(records, NewRecord(offsets[i], float32(scores[i])))
		}
	} else {
		for i := 0; i < count; i++ {
			if pos+4 > len(data) {
				return nil, 0, errTruncated("oroch: float score")
			}
			score := readFloat32(data[pos:])
			pos += 4
			if ctx.UseFilter() && !ctx.Allowed(offsets[i]) {
				continue
			}
			records = append(records, NewRecord(offsets[i], score))
		}
	}

	return records, pos, nil
}

func decodeWithPrediction(data []byte, ctx *decodectx.Context) ([]Record, int, error) {
	pos := 1

	count64, n, err := varint.DecodeMsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("with-prediction: count varint: " + err.Error())
	}
	pos += n
	count := int(count64)

	offsets := make([]uint64, count)
	if count > 0 {
		firstOffset, n, err := varint.DecodeMsbFirst(data[pos:])
		if err != nil {
			return nil, 0, errTruncated("with-prediction: first offset varint: " + err.Error())
		}
		pos += n
		offsets[0] = firstOffset

		if count > 1 {
			dictLen64, n, err := varint.DecodeMsbFirst(data[pos:])
			if err != nil {
				return nil, 0, errTruncated("with-prediction: step dict length: " + err.Error())
			}
			pos += n
			dictLen := int(dictLen64)

			if dictLen > 0 {
				steps := make([]uint64, dictLen)
				var prev uint64
				for i := 0; i < dictLen; i++ {
					d, n, err := varint.DecodeMsbFirst(data[pos:])
					if err != nil {
						return nil, 0, errTruncated("with-prediction: step dict entry: " + err.Error())
					}
					pos += n
					prev += d
					steps[i] = prev
				}
				for i := 1; i < count; i++ {
					key, n, err := varint.DecodeMsbFirst(data[pos:])
					if err != nil {
						return nil, 0, errTruncated("with-prediction: step key: " + err.Error())
					}
					pos += n
					if int(key) >= len(steps) {
						return nil, 0, errMalformed("with-prediction: step key %d out of range", key)
					}
					offsets[i] = offsets[i-1] + steps[key]
				}
			} else {
				for i := 1; i < count; i++ {
					step, n, err := varint.DecodeMsbFirst(data[pos:])
					if err != nil {
						return nil, 0, errTruncated("with-prediction: raw step: " + err.Error())
					}
					pos += n
					offsets[i] = offsets[i-1] + step
				}
			}
		}
	}

	bitmapLen := (count + 7) / 8
	reader := rle.NewReader(data[pos:])
	bitmap := make([]byte, bitmapLen)
	for i := 0; i < bitmapLen; i++ {
		b, err := reader.Byte()
		if err != nil {
			return nil, 0, errTruncated("with-prediction: bitmap: " + err.Error())
		}
		bitmap[i] = b
	}
	if reader.RunRemaining() != 0 {
		return nil, 0, errInvariant("with-prediction: bitmap RLE run extends past the bitmap")
	}
	pos += reader.Pos()

	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return nil, 0, errTruncated("with-prediction: score")
		}
		score := readFloat32(data[pos:])
		pos += 4

		r := NewRecord(offsets[i], score)
		if bitmap[i>>3]&(1<<uint(i&7)) != 0 {
			if pos+16 > len(data) {
				return nil, 0, errTruncated("with-prediction: bands")
			}
			r.P5 = readFloat32(data[pos:])
			r.P25 = readFloat32(data[pos+4:])
			r.P75 = readFloat32(data[pos+8:])
			r.P95 = readFloat32(data[pos+12:])
			pos += 16
		}

		if ctx.UseFilter() && !ctx.Allowed(offsets[i]) {
			continue
		}
		records = append(records, r)
	}

	return records, pos, nil
}

// decodeFlexi decodes the legacy FLEXI format (storage/ca-table/format.cc's
// EncodeOffsetScoreFlexi). This shape is read-only: Encode never produces
// it, but journals written by older tools may contain it. Two score
// layouts are recognized: mode byte 0x80 stores one float32 that every
// record takes, and any other mode byte is followed by count raw float32
// scores. Packed integer score modes are not distinguished from the
// raw-float layout.
func decodeFlexi(data []byte, ctx *decodectx.Context) ([]Record, int, error) {
	pos := 1

	count64, n, err := varint.DecodeMsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("flexi: count varint: " + err.Error())
	}
	pos += n
	count := int(count64)

	if count == 0 {
		return nil, pos, nil
	}

	firstOffset, n, err := varint.DecodeMsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("flexi: first offset varint: " + err.Error())
	}
	pos += n

	gcd, n, err := varint.DecodeMsbFirst(data[pos:])
	if err != nil {
		return nil, 0, errTruncated("flexi: gcd varint: " + err.Error())
	}
	pos += n
	if gcd == 0 {
		gcd = 1
	}

	offsets := make([]uint64, count)
	offsets[0] = firstOffset
	if count > 1 {
		reader := rle.NewReader(data[pos:])
		for i := 1; i < count; i++ {
			step, err := reader.Byte()
			if err != nil {
				return nil, 0, errTruncated("flexi: offset step: " + err.Error())
			}
			offsets[i] = offsets[i-1] + uint64(step)*gcd
		}
		pos += reader.Pos()
	}

	if pos >= len(data) {
		return nil, 0, errTruncated("flexi: score mode")
	}
	scoreMode := data[pos]
	pos++

	scores := make([]float32, count)
	switch scoreMode {
	case 0x80:
		if pos+4 > len(data) {
			return nil, 0, errTruncated("flexi: repeated score")
		}
		v := readFloat32(data[pos:])
		pos += 4
		for i := range scores {
			scores[i] = v
		}
	default:
		for i := 0; i < count; i++ {
			if pos+4 > len(data) {
				return nil, 0, errTruncated("flexi: score")
			}
			scores[i] = readFloat32(data[pos:])
			pos += 4
		}
	}

	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		if ctx.UseFilter() && !ctx.Allowed(offsets[i]) {
			continue
		}
		records = append(records, NewRecord(offsets[i], scores[i]))
	}
	return records, pos, nil
}

func countBlock(data []byte) (int, int, error) {
	records, n, err := decodeBlock(data, decodectx.New())
	if err != nil {
		return 0, 0, err
	}
	return len(records), n, nil
}

func maxOffsetBlock(data []byte) (uint64, int, error) {
	records, n, err := decodeBlock(data, decodectx.New())
	if err != nil {
		return 0, 0, err
	}
	var max uint64
	for _, r := range records {
		if r.Offset > max {
			max = r.Offset
		}
	}
	return max, n, nil
}

func readFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
