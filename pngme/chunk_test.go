package pngme

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
	"github.com/opencontainers/go-digest"
)

const testMessage = "This is where your secret message will be!"

// rawChunk lays out length, type, data and crc exactly as given.
func rawChunk(length uint32, chunkType string, data []byte, crc uint32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, length)
	buf.WriteString(chunkType)
	buf.Write(data)
	binary.Write(&buf, binary.BigEndian, crc)
	return buf.Bytes()
}

func mustChunk(t *testing.T, chunkType string, data []byte) *Chunk {
	t.Helper()
	ct, err := ParseChunkType(chunkType)
	if err != nil {
		t.Fatalf("ParseChunkType(%q) error = %v", chunkType, err)
	}
	return NewChunk(ct, data)
}

func assertSameChunk(t *testing.T, got, want *Chunk) {
	t.Helper()
	if got.Length() != want.Length() {
		t.Errorf("Length() = %d, want %d", got.Length(), want.Length())
	}
	if got.Type() != want.Type() {
		t.Errorf("Type() = %s, want %s", got.Type(), want.Type())
	}
	if !bytes.Equal(got.Data(), want.Data()) {
		t.Errorf("Data() = %q, want %q", got.Data(), want.Data())
	}
	if got.CRC() != want.CRC() {
		t.Errorf("CRC() = %d, want %d", got.CRC(), want.CRC())
	}
}

func TestNewChunk(t *testing.T) {
	c := mustChunk(t, "RuSt", []byte(testMessage))

	if c.Length() != 42 {
		t.Errorf("Length() = %d, want 42", c.Length())
	}
	if c.CRC() != 2882656334 {
		t.Errorf("CRC() = %d, want 2882656334", c.CRC())
	}
	if c.Size() != 42+ChunkOverhead {
		t.Errorf("Size() = %d, want %d", c.Size(), 42+ChunkOverhead)
	}
}

func TestNewChunk_CopiesData(t *testing.T) {
	data := []byte("hello")
	c := mustChunk(t, "ruSt", data)
	data[0] = 'j'

	if string(c.Data()) != "hello" {
		t.Errorf("Data() = %q after caller mutation, want hello", c.Data())
	}
}

func TestChunk_DataIsACopy(t *testing.T) {
	c := mustChunk(t, "ruSt", []byte("hello"))
	c.Data()[0] = 'j'

	if string(c.Data()) != "hello" {
		t.Errorf("Data() = %q after mutating a returned slice, want hello", c.Data())
	}
	if _, err := ParseChunk(c.Encode()); err != nil {
		t.Errorf("ParseChunk() of re-encoded chunk error = %v", err)
	}
}

func TestNewChunk_KnownCRC(t *testing.T) {
	// IEND has a well known crc
	c := mustChunk(t, "IEND", nil)
	if c.CRC() != 0xAE426082 {
		t.Errorf("CRC() = %08x, want ae426082", c.CRC())
	}
}

func TestNewChunkFromStrings(t *testing.T) {
	c, err := NewChunkFromStrings("RuSt", testMessage)
	if err != nil {
		t.Fatalf("NewChunkFromStrings() error = %v", err)
	}
	if c.Type().String() != "RuSt" {
		t.Errorf("Type() = %s, want RuSt", c.Type())
	}

	if _, err := NewChunkFromStrings("Ru1t", testMessage); !errors.Is(err, pngerrors.ErrInvalidChunkTypeString) {
		t.Errorf("NewChunkFromStrings(Ru1t) error = %v, want ErrInvalidChunkTypeString", err)
	}
}

func TestDecodeChunk_Valid(t *testing.T) {
	raw := rawChunk(42, "RuSt", []byte(testMessage), 2882656334)

	c, err := DecodeChunk(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}

	if c.Length() != 42 {
		t.Errorf("Length() = %d, want 42", c.Length())
	}
	if c.Type().String() != "RuSt" {
		t.Errorf("Type() = %s, want RuSt", c.Type())
	}
	text, err := c.DataAsString()
	if err != nil {
		t.Fatalf("DataAsString() error = %v", err)
	}
	if text != testMessage {
		t.Errorf("DataAsString() = %q, want %q", text, testMessage)
	}
	if c.CRC() != 2882656334 {
		t.Errorf("CRC() = %d, want 2882656334", c.CRC())
	}
}

func TestDecodeChunk_CRCMismatch(t *testing.T) {
	raw := rawChunk(42, "RuSt", []byte(testMessage), 2882656333)

	_, err := DecodeChunk(bytes.NewReader(raw))
	if !errors.Is(err, pngerrors.ErrCRCMismatch) {
		t.Fatalf("DecodeChunk() error = %v, want ErrCRCMismatch", err)
	}
}

func TestDecodeChunk_BitFlipsAreDetected(t *testing.T) {
	encoded := mustChunk(t, "ruSt", []byte("hello")).Encode()

	// every bit of the type and data region, bytes 4 .. len-4
	for i := 4; i < len(encoded)-4; i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), encoded...)
			flipped[i] ^= 1 << bit

			_, err := DecodeChunk(bytes.NewReader(flipped))
			if err == nil {
				t.Fatalf("byte %d bit %d: DecodeChunk() succeeded on corrupted input", i, bit)
			}
			// a flip in the type region may leave the letter range first
			if i < 8 && errors.Is(err, pngerrors.ErrInvalidChunkTypeBytes) {
				continue
			}
			if !errors.Is(err, pngerrors.ErrCRCMismatch) {
				t.Fatalf("byte %d bit %d: error = %v, want ErrCRCMismatch", i, bit, err)
			}
		}
	}
}

func TestDecodeChunk_Truncated(t *testing.T) {
	full := rawChunk(5, "ruSt", []byte("hello"), mustChunk(t, "ruSt", []byte("hello")).CRC())

	tests := []struct {
		name      string
		input     []byte
		wantField string
	}{
		{name: "empty", input: nil, wantField: "length"},
		{name: "partial length", input: full[:2], wantField: "length"},
		{name: "partial type", input: full[:6], wantField: "type"},
		{name: "partial data", input: full[:10], wantField: "data"},
		{name: "missing crc", input: full[:13], wantField: "crc"},
		{name: "partial crc", input: full[:15], wantField: "crc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChunk(bytes.NewReader(tt.input))
			if !errors.Is(err, pngerrors.ErrTruncatedInput) {
				t.Fatalf("DecodeChunk() error = %v, want ErrTruncatedInput", err)
			}
			var pngErr *pngerrors.PngError
			if !errors.As(err, &pngErr) {
				t.Fatalf("error %T is not a PngError", err)
			}
			if pngErr.Details["field"] != tt.wantField {
				t.Errorf("field detail = %v, want %s", pngErr.Details["field"], tt.wantField)
			}
		})
	}
}

func TestDecodeChunk_HugeDeclaredLength(t *testing.T) {
	raw := rawChunk(0xFFFFFFF0, "ruSt", []byte("tiny"), 0)

	_, err := DecodeChunk(bytes.NewReader(raw))
	if !errors.Is(err, pngerrors.ErrTruncatedInput) {
		t.Fatalf("DecodeChunk() error = %v, want ErrTruncatedInput", err)
	}
}

func TestDecodeChunk_InvalidTypeBytes(t *testing.T) {
	raw := rawChunk(0, "Ru1t", nil, 0)

	_, err := DecodeChunk(bytes.NewReader(raw))
	if !errors.Is(err, pngerrors.ErrInvalidChunkTypeBytes) {
		t.Fatalf("DecodeChunk() error = %v, want ErrInvalidChunkTypeBytes", err)
	}
}

func TestChunk_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		data []byte
	}{
		{name: "empty", typ: "IEND", data: nil},
		{name: "text", typ: "ruSt", data: []byte("hello")},
		{name: "255 bytes", typ: "teSt", data: bytes.Repeat([]byte{0xAB}, 255)},
		{name: "256 bytes", typ: "teSt", data: bytes.Repeat([]byte{0xCD}, 256)},
		{name: "64KiB", typ: "IDAT", data: bytes.Repeat([]byte("0123456789abcdef"), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := mustChunk(t, tt.typ, tt.data)

			got, err := ParseChunk(want.Encode())
			if err != nil {
				t.Fatalf("ParseChunk() error = %v", err)
			}
			assertSameChunk(t, got, want)
		})
	}
}

func TestChunk_DecodeFollowedByAnotherChunk(t *testing.T) {
	first := mustChunk(t, "teSt", bytes.Repeat([]byte{1}, 300))
	second := mustChunk(t, "ruSt", []byte("after"))

	r := bytes.NewReader(append(first.Encode(), second.Encode()...))
	got1, err := DecodeChunk(r)
	if err != nil {
		t.Fatalf("first DecodeChunk() error = %v", err)
	}
	got2, err := DecodeChunk(r)
	if err != nil {
		t.Fatalf("second DecodeChunk() error = %v", err)
	}
	assertSameChunk(t, got1, first)
	assertSameChunk(t, got2, second)
}

func TestParseChunk_TrailingBytes(t *testing.T) {
	raw := append(mustChunk(t, "ruSt", []byte("hi")).Encode(), 0)
	_, err := ParseChunk(raw)
	if !errors.Is(err, pngerrors.ErrTrailingData) {
		t.Fatalf("ParseChunk() error = %v, want ErrTrailingData", err)
	}
	if code := pngerrors.GetErrorCode(err); code != "TRAILING_DATA" {
		t.Errorf("GetErrorCode() = %q, want TRAILING_DATA", code)
	}
}

func TestChunk_Encode(t *testing.T) {
	c := mustChunk(t, "RuSt", []byte(testMessage))
	want := rawChunk(42, "RuSt", []byte(testMessage), 2882656334)

	if !bytes.Equal(c.Encode(), want) {
		t.Errorf("Encode() = %x, want %x", c.Encode(), want)
	}

	var buf bytes.Buffer
	n, err := c.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if n != int64(len(want)) || !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("WriteTo() wrote %d bytes %x, want %x", n, buf.Bytes(), want)
	}
}

func TestChunk_DataAsString_NotUTF8(t *testing.T) {
	c := mustChunk(t, "ruSt", []byte{0xff, 0xfe, 0xfd})

	_, err := c.DataAsString()
	if !errors.Is(err, pngerrors.ErrNotUTF8) {
		t.Fatalf("DataAsString() error = %v, want ErrNotUTF8", err)
	}
}

func TestChunk_Digest(t *testing.T) {
	c := mustChunk(t, "ruSt", []byte("hello"))
	if c.Digest() != digest.FromString("hello") {
		t.Errorf("Digest() = %s, want %s", c.Digest(), digest.FromString("hello"))
	}
}

func TestChunk_String(t *testing.T) {
	s := mustChunk(t, "RuSt", []byte(testMessage)).String()
	for _, want := range []string{"RuSt", "42"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, want to contain %q", s, want)
		}
	}
}

func TestDecodeChunk_ReaderError(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := DecodeChunk(io.MultiReader(bytes.NewReader([]byte{0, 0}), &failingReader{err: boom}))
	if !errors.Is(err, pngerrors.ErrTruncatedInput) {
		t.Fatalf("DecodeChunk() error = %v, want ErrTruncatedInput", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("DecodeChunk() error = %v, want cause %v", err, boom)
	}
}

type failingReader struct {
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	return 0, f.err
}
