package pngme

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"unicode/utf8"

	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
	"github.com/opencontainers/go-digest"
)

const (
	// ChunkOverhead is the size of the length, type and crc fields around the data.
	ChunkOverhead = 4 + 4 + 4

	// MaxChunkLength is the largest data length a PNG chunk may declare (2^31-1).
	MaxChunkLength = 1<<31 - 1
)

// Chunk is a single length-prefixed, typed and CRC-checked PNG record.
// A Chunk is immutable once constructed.
type Chunk struct {
	length    uint32
	chunkType ChunkType
	data      []byte
	crc       uint32
}

// NewChunk builds a chunk from a type and payload, computing length and CRC.
// The type is not checked with IsValid here.
func NewChunk(chunkType ChunkType, data []byte) *Chunk {
	owned := append([]byte(nil), data...)
	return &Chunk{
		length:    uint32(len(owned)),
		chunkType: chunkType,
		data:      owned,
		crc:       checksum(chunkType, owned),
	}
}

// NewChunkFromStrings builds a chunk from a type string and a text payload.
func NewChunkFromStrings(chunkType string, text string) (*Chunk, error) {
	t, err := ParseChunkType(chunkType)
	if err != nil {
		return nil, err
	}
	return NewChunk(t, []byte(text)), nil
}

// DecodeChunk reads one chunk from r and verifies its CRC.
func DecodeChunk(r io.Reader) (*Chunk, error) {
	var header [8]byte
	if err := readField(r, header[:4], "length"); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:4])
	if length > MaxChunkLength {
		return nil, pngerrors.ErrTruncatedInput.
			WithMessage("declared chunk length exceeds limit").
			WithDetail("length", length)
	}

	if err := readField(r, header[4:8], "type"); err != nil {
		return nil, err
	}
	var raw [4]byte
	copy(raw[:], header[4:8])
	chunkType, err := ChunkTypeFromBytes(raw)
	if err != nil {
		return nil, err
	}

	// CopyN grows the buffer with the bytes actually present, so a bogus
	// length cannot force a large allocation up front.
	var data bytes.Buffer
	if n, err := io.CopyN(&data, r, int64(length)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, pngerrors.ErrTruncatedInput.WithCause(err).
			WithDetail("field", "data").
			WithDetail("type", chunkType.String()).
			WithDetail("want", length).
			WithDetail("got", n)
	}

	var crcBytes [4]byte
	if err := readField(r, crcBytes[:], "crc"); err != nil {
		return nil, err
	}
	stored := binary.BigEndian.Uint32(crcBytes[:])
	computed := checksum(chunkType, data.Bytes())
	if stored != computed {
		return nil, pngerrors.ErrCRCMismatch.
			WithDetail("type", chunkType.String()).
			WithDetail("stored", fmt.Sprintf("%08x", stored)).
			WithDetail("computed", fmt.Sprintf("%08x", computed))
	}

	return &Chunk{
		length:    length,
		chunkType: chunkType,
		data:      data.Bytes(),
		crc:       stored,
	}, nil
}

// ParseChunk decodes exactly one chunk from b. Trailing bytes are an error.
func ParseChunk(b []byte) (*Chunk, error) {
	r := bytes.NewReader(b)
	c, err := DecodeChunk(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, pngerrors.ErrTrailingData.
			WithDetail("type", c.chunkType.String()).
			WithDetail("trailing", r.Len())
	}
	return c, nil
}

func (c *Chunk) Length() uint32 {
	return c.length
}

func (c *Chunk) Type() ChunkType {
	return c.chunkType
}

// Data returns a copy of the chunk payload.
func (c *Chunk) Data() []byte {
	return append([]byte(nil), c.data...)
}

func (c *Chunk) CRC() uint32 {
	return c.crc
}

// Size returns the encoded size of the chunk in bytes.
func (c *Chunk) Size() int {
	return ChunkOverhead + len(c.data)
}

// Digest returns the sha256 content digest of the payload.
func (c *Chunk) Digest() digest.Digest {
	return digest.FromBytes(c.data)
}

// DataAsString returns the payload as text, failing if it is not valid UTF-8.
func (c *Chunk) DataAsString() (string, error) {
	if !utf8.Valid(c.data) {
		return "", pngerrors.ErrNotUTF8.WithDetail("type", c.chunkType.String())
	}
	return string(c.data), nil
}

// Encode returns length, type, data and crc, big-endian.
func (c *Chunk) Encode() []byte {
	buf := make([]byte, c.Size())
	c.put(buf)
	return buf
}

// WriteTo writes the encoded chunk to w.
func (c *Chunk) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.Encode())
	return int64(n), err
}

func (c *Chunk) String() string {
	return fmt.Sprintf("Chunk{Length: %d, Type: %s, Data: %d bytes, Crc: %d}",
		c.length, c.chunkType, len(c.data), c.crc)
}

// put encodes the chunk into buf, which must be at least Size() bytes.
func (c *Chunk) put(buf []byte) int {
	binary.BigEndian.PutUint32(buf[0:4], c.length)
	copy(buf[4:8], c.chunkType[:])
	n := 8 + copy(buf[8:], c.data)
	binary.BigEndian.PutUint32(buf[n:n+4], c.crc)
	return n + 4
}

func checksum(chunkType ChunkType, data []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(chunkType[:])
	h.Write(data)
	return h.Sum32()
}

func readField(r io.Reader, buf []byte, field string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return pngerrors.ErrTruncatedInput.WithCause(err).WithDetail("field", field)
	}
	return nil
}
