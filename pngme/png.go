package pngme

import (
	"bytes"
	"fmt"
	"io"

	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
)

// Signature is the fixed 8-byte header of every PNG datastream.
var Signature = [8]byte{137, 80, 78, 71, 13, 10, 26, 10}

// A PNG datastream
//
// A PNG is the 8-byte signature followed by chunks, back to back, in
// stream order. Chunk contents are not interpreted: no chunk is required
// first or last, and types may repeat.
type PNG struct {
	chunks []*Chunk
}

// New returns a container holding the given chunks in order.
func New(chunks ...*Chunk) *PNG {
	return &PNG{chunks: append([]*Chunk(nil), chunks...)}
}

// Decode parses a complete PNG byte buffer. Any chunk error aborts the decode.
func Decode(b []byte) (*PNG, error) {
	if len(b) < len(Signature) || !bytes.Equal(b[:len(Signature)], Signature[:]) {
		n := len(b)
		if n > len(Signature) {
			n = len(Signature)
		}
		return nil, pngerrors.ErrInvalidSignature.WithDetail("header", fmt.Sprintf("% x", b[:n]))
	}

	r := bytes.NewReader(b[len(Signature):])
	p := &PNG{}
	for r.Len() > 0 {
		offset := int64(len(b)) - int64(r.Len())
		c, err := DecodeChunk(r)
		if err != nil {
			if pngErr, ok := err.(*pngerrors.PngError); ok {
				return nil, pngErr.WithDetail("offset", offset)
			}
			return nil, err
		}
		p.chunks = append(p.chunks, c)
	}
	return p, nil
}

// DecodeReader reads r to the end and decodes the result.
func DecodeReader(r io.Reader) (*PNG, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Header returns the signature bytes.
func (p *PNG) Header() [8]byte {
	return Signature
}

// Chunks returns the chunks in stream order. The returned slice is a copy.
func (p *PNG) Chunks() []*Chunk {
	return append([]*Chunk(nil), p.chunks...)
}

// Len returns the number of chunks.
func (p *PNG) Len() int {
	return len(p.chunks)
}

// Size returns the encoded size of the datastream in bytes.
func (p *PNG) Size() int {
	size := len(Signature)
	for _, c := range p.chunks {
		size += c.Size()
	}
	return size
}

// Append adds a chunk at the end of the stream.
func (p *PNG) Append(c *Chunk) {
	p.chunks = append(p.chunks, c)
}

// ChunkByType returns the first chunk of the given type. A malformed type
// string yields ErrInvalidChunkTypeString, a missing chunk ErrChunkNotFound.
func (p *PNG) ChunkByType(chunkType string) (*Chunk, error) {
	idx, err := p.indexOf(chunkType)
	if err != nil {
		return nil, err
	}
	return p.chunks[idx], nil
}

// RemoveChunk removes and returns the first chunk of the given type.
func (p *PNG) RemoveChunk(chunkType string) (*Chunk, error) {
	idx, err := p.indexOf(chunkType)
	if err != nil {
		return nil, err
	}
	c := p.chunks[idx]
	last := len(p.chunks) - 1
	copy(p.chunks[idx:], p.chunks[idx+1:])
	p.chunks[last] = nil
	p.chunks = p.chunks[:last]
	return c, nil
}

// RemoveAllChunks removes every chunk of the given type, returning them in order.
func (p *PNG) RemoveAllChunks(chunkType string) ([]*Chunk, error) {
	t, err := ParseChunkType(chunkType)
	if err != nil {
		return nil, err
	}

	var removed []*Chunk
	kept := p.chunks[:0]
	for _, c := range p.chunks {
		if c.Type() == t {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(removed) == 0 {
		return nil, pngerrors.ErrChunkNotFound.WithDetail("type", chunkType)
	}
	// clear the tail so removed chunks are not retained by the backing array
	for i := len(kept); i < len(p.chunks); i++ {
		p.chunks[i] = nil
	}
	p.chunks = kept
	return removed, nil
}

// Encode returns the signature followed by every chunk's encoding.
func (p *PNG) Encode() []byte {
	buf := make([]byte, p.Size())
	n := copy(buf, Signature[:])
	for _, c := range p.chunks {
		n += c.put(buf[n:])
	}
	return buf
}

// WriteTo writes the encoded datastream to w.
func (p *PNG) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Encode())
	return int64(n), err
}

func (p *PNG) String() string {
	var sb bytes.Buffer
	fmt.Fprintf(&sb, "PNG{%d chunks, %d bytes}", len(p.chunks), p.Size())
	for _, c := range p.chunks {
		fmt.Fprintf(&sb, "\n  %s", c)
	}
	return sb.String()
}

func (p *PNG) indexOf(chunkType string) (int, error) {
	t, err := ParseChunkType(chunkType)
	if err != nil {
		return -1, err
	}
	for i, c := range p.chunks {
		if c.Type() == t {
			return i, nil
		}
	}
	return -1, pngerrors.ErrChunkNotFound.WithDetail("type", chunkType)
}
