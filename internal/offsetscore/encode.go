package offsetscore

import (
	"math"
	"sort"

	"github.com/flashdb/cantera/internal/intseq"
	"github.com/flashdb/cantera/internal/rle"
	"github.com/flashdb/cantera/internal/varint"
)

// Encode packs records into a single tagged block, choosing the smallest
// practical format per spec.md §4.4's decision tree: EMPTY for no
// records, WITH_PREDICTION if any record carries finite prediction
// bands, otherwise the "oroch" path (a lone SINGLE_* record, or
// delta+integer-packed DELTA_OROCH_* for two or more).
func Encode(records []Record) []byte {
	dst := make([]byte, 0, SizeUpperBound(len(records)))

	if len(records) == 0 {
		return append(dst, byte(TagEmpty))
	}

	if anyHasBands(records) {
		return encodeWithPrediction(dst, records)
	}

	if len(records) == 1 {
		return encodeSingle(dst, records[0])
	}

	return encodeDeltaOroch(dst, records)
}

func encodeSingle(dst []byte, r Record) []byte {
	score := int64(math.Round(float64(r.Score)))

	if float32(score) == r.Score {
		if score >= 0 {
			switch {
			case score <= 0xff:
				dst = append(dst, byte(TagSinglePositive1))
				dst = varint.AppendLsbFirst(dst, r.Offset)
				return append(dst, byte(score))
			case score <= 0xffff:
				dst = append(dst, byte(TagSinglePositive2))
				dst = varint.AppendLsbFirst(dst, r.Offset)
				return append(dst, byte(score), byte(score>>8))
			case score <= 0xffffff:
				dst = append(dst, byte(TagSinglePositive3))
				dst = varint.AppendLsbFirst(dst, r.Offset)
				return append(dst, byte(score), byte(score>>8), byte(score>>16))
			}
		} else {
			neg := ^score
			switch {
			case neg <= 0xff:
				dst = append(dst, byte(TagSingleNegative1))
				dst = varint.AppendLsbFirst(dst, r.Offset)
				return append(dst, byte(neg))
			case neg <= 0xffff:
				dst = append(dst, byte(TagSingleNegative2))
				dst = varint.AppendLsbFirst(dst, r.Offset)
				return append(dst, byte(neg), byte(neg>>8))
			case neg <= 0xffffff:
				dst = append(dst, byte(TagSingleNegative3))
				dst = varint.AppendLsbFirst(dst, r.Offset)
				return append(dst, byte(neg), byte(neg>>8), byte(neg>>16))
			}
		}
	}

	dst = append(dst, byte(TagSingleFloat))
	dst = varint.AppendLsbFirst(dst, r.Offset)
	return appendFloat32(dst, r.Score)
}

func encodeDeltaOroch(dst []byte, records []Record) []byte {
	allInteger := true
	for _, r := range records {
		if float32(math.Round(float64(r.Score))) != r.Score {
			allInteger = false
			break
		}
	}

	tag := TagDeltaOrochOroch
	if !allInteger {
		tag = TagDeltaOrochFloat
	}
	dst = append(dst, byte(tag))
	dst = varint.AppendLsbFirst(dst, uint64(len(records)))
	dst = varint.AppendLsbFirst(dst, records[0].Offset)

	deltas := make([]uint64, len(records)-1)
	for i := 1; i < len(records); i++ {
		deltas[i-1] = records[i].Offset - records[i-1].Offset
	}
	dst = intseq.EncodeUint64(dst, deltas)

	if allInteger {
		scores := make([]int64, len(records))
		for i, r := range records {
			scores[i] = int64(math.Round(float64(r.Score)))
		}
		dst = intseq.EncodeInt64(dst, scores)
	} else {
		for _, r := range records {
			dst = appendFloat32(dst, r.Score)
		}
	}

	return dst
}

func encodeWithPrediction(dst []byte, records []Record) []byte {
	count := len(records)
	dst = append(dst, byte(TagWithPrediction))
	dst = varint.AppendMsbFirst(dst, uint64(count))
	dst = varint.AppendMsbFirst(dst, records[0].Offset)

	if count > 1 {
		stepSet := make(map[uint64]struct{})
		for i := 1; i < count; i++ {
			stepSet[records[i].Offset-records[i-1].Offset] = struct{}{}
		}

		steps := make([]uint64, 0, len(stepSet))
		for s := range stepSet {
			steps = append(steps, s)
		}
		sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })

		useStepMap := len(steps) < 256 && len(steps) < count/4

		if useStepMap {
			dst = varint.AppendMsbFirst(dst, uint64(len(steps)))
			stepKey := make(map[uint64]uint64, len(steps))
			var prev uint64
			for key, step := range steps {
				dst = varint.AppendMsbFirst(dst, step-prev)
				stepKey[step] = uint64(key)
				prev = step
			}
			for i := 1; i < count; i++ {
				dst = varint.AppendMsbFirst(dst, stepKey[records[i].Offset-records[i-1].Offset])
			}
		} else {
			dst = varint.AppendMsbFirst(dst, 0)
			for i := 1; i < count; i++ {
				dst = varint.AppendMsbFirst(dst, records[i].Offset-records[i-1].Offset)
			}
		}
	}

	bitmap := make([]byte, (count+7)/8)
	for i, r := range records {
		if r.HasBands() {
			bitmap[i>>3] |= 1 << uint(i&7)
		}
	}
	w := rle.NewWriter(dst)
	for _, b := range bitmap {
		w.Put(b)
	}
	dst = w.Flush()

	for i, r := range records {
		dst = appendFloat32(dst, r.Score)
		if bitmap[i>>3]&(1<<uint(i&7)) != 0 {
			dst = appendFloat32(dst, r.P5)
			dst = appendFloat32(dst, r.P25)
			dst = appendFloat32(dst, r.P75)
			dst = appendFloat32(dst, r.P95)
		}
	}

	return dst
}

func appendFloat32(dst []byte, f float32) []byte {
	bits := math.Float32bits(f)
	return append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}
