package pngme

import (
	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
)

// ChunkType is the 4-byte identifier of a PNG chunk. The case of each byte
// carries one property bit:
//
//	byte 0: uppercase = critical, lowercase = ancillary
//	byte 1: uppercase = public, lowercase = private
//	byte 2: uppercase = reserved bit valid (required)
//	byte 3: uppercase = unsafe to copy, lowercase = safe to copy
type ChunkType [4]byte

// ChunkTypeFromBytes builds a ChunkType, rejecting any byte outside A-Z and a-z.
func ChunkTypeFromBytes(b [4]byte) (ChunkType, error) {
	for i, c := range b {
		if !isLetter(c) {
			return ChunkType{}, pngerrors.ErrInvalidChunkTypeBytes.
				WithDetail("bytes", b[:]).
				WithDetail("index", i)
		}
	}
	return ChunkType(b), nil
}

// ParseChunkType builds a ChunkType from a 4-character ASCII string.
func ParseChunkType(s string) (ChunkType, error) {
	if len(s) != 4 {
		return ChunkType{}, pngerrors.ErrInvalidChunkTypeString.WithDetail("type", s)
	}
	var t ChunkType
	for i := 0; i < 4; i++ {
		if !isLetter(s[i]) {
			return ChunkType{}, pngerrors.ErrInvalidChunkTypeString.WithDetail("type", s)
		}
		t[i] = s[i]
	}
	return t, nil
}

// Bytes returns the raw type bytes.
func (t ChunkType) Bytes() [4]byte {
	return t
}

// IsValid reports whether every byte is a letter and the reserved bit is valid.
func (t ChunkType) IsValid() bool {
	for _, c := range t {
		if !isLetter(c) {
			return false
		}
	}
	return t.IsReservedBitValid()
}

func (t ChunkType) IsCritical() bool {
	return isUpper(t[0])
}

func (t ChunkType) IsPublic() bool {
	return isUpper(t[1])
}

func (t ChunkType) IsReservedBitValid() bool {
	return isUpper(t[2])
}

func (t ChunkType) IsSafeToCopy() bool {
	return !isUpper(t[3])
}

func (t ChunkType) String() string {
	return string(t[:])
}

func isUpper(c byte) bool {
	return 'A' <= c && c <= 'Z'
}

func isLetter(c byte) bool {
	return isUpper(c) || ('a' <= c && c <= 'z')
}
