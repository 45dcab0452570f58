package rle

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeAll_RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{1},
		{1, 1, 1, 1, 1},
		{1, 2, 3, 4, 5},
		bytes.Repeat([]byte{7}, 100),
		{0, 0, 1, 1, 1, 0, 0, 0, 2},
	}
	for i, src := range cases {
		enc := Encode(src)
		got, err := DecodeAll(enc)
		if err != nil {
			t.Fatalf("case %d: DecodeAll: %v", i, err)
		}
		if !bytes.Equal(got, src) {
			t.Fatalf("case %d: round trip mismatch: got %v want %v", i, got, src)
		}
	}
}

func TestEncodeDecode_WithKnownLength(t *testing.T) {
	src := []byte{5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	enc := Encode(src)
	got, consumed, err := Decode(enc, len(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("Decode mismatch: got %v want %v", got, src)
	}
	if consumed != len(enc) {
		t.Fatalf("Decode consumed %d, want %d", consumed, len(enc))
	}
}

func TestDecodeAll_TruncatedRunEscapeReturnsError(t *testing.T) {
	// 0xC5 alone is an escape byte (top two bits set) with no following
	// value byte: a malformed/truncated input, not a crash.
	_, err := DecodeAll([]byte{0xc5})
	if err != ErrTruncated {
		t.Fatalf("DecodeAll: got err %v, want ErrTruncated", err)
	}
}

func TestDecode_TruncatedInputReturnsError(t *testing.T) {
	_, _, err := Decode([]byte{0xc5}, 2)
	if err != ErrTruncated {
		t.Fatalf("Decode: got err %v, want ErrTruncated", err)
	}
}

func TestReaderByte_EmptyInputReturnsError(t *testing.T) {
	r := NewReader(nil)
	_, err := r.Byte()
	if err != ErrTruncated {
		t.Fatalf("Byte: got err %v, want ErrTruncated", err)
	}
}

// TestEncode_HighByteValueAlwaysRunEncoded exercises the boundary where
// the source byte itself collides with the run-prefix range (0xC0-0xFF):
// even a run of length 1 must be emitted as a prefix+value pair, never
// as a literal byte, or it would be misread as a run marker on decode.
func TestEncode_HighByteValueAlwaysRunEncoded(t *testing.T) {
	src := []byte{0xC5}
	enc := Encode(src)
	if len(enc) != 2 {
		t.Fatalf("expected a 2-byte run encoding for a lone high byte, got %d bytes: %x", len(enc), enc)
	}
	got, err := DecodeAll(enc)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch for high byte: got %v want %v", got, src)
	}
}

func TestEncode_LongRunSplitsAt64(t *testing.T) {
	src := bytes.Repeat([]byte{9}, 130)
	enc := Encode(src)
	// Two full 64-byte runs, then the remaining 2 bytes as literals.
	if want := []byte{0xff, 9, 0xff, 9, 9, 9}; !bytes.Equal(enc, want) {
		t.Fatalf("Encode: got %x, want %x", enc, want)
	}
	got, err := DecodeAll(enc)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch for long run: got %d bytes want %d", len(got), len(src))
	}
}

func TestWriterReader_Streaming(t *testing.T) {
	src := []byte{1, 1, 2, 3, 3, 3}
	w := NewWriter(nil)
	for _, b := range src {
		w.Put(b)
	}
	enc := w.Flush()

	r := NewReader(enc)
	out := make([]byte, len(src))
	for i := range out {
		b, err := r.Byte()
		if err != nil {
			t.Fatalf("Byte: %v", err)
		}
		out[i] = b
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("streaming round trip mismatch: got %v want %v", out, src)
	}
	if r.RunRemaining() != 0 {
		t.Fatalf("expected no dangling run, got %d", r.RunRemaining())
	}
}
