// Package envelope wraps hidden messages before they are stored in a chunk.
//
// A payload is either plain UTF-8 text, or an envelope:
//
//	magic "PNGME" | flags (1 byte) | body
//
// flags bit 0 marks a zstd compressed body, bit 1 a sealed body. Any other
// flag bit means the payload is plain text that happens to start with the
// magic. A flag-0 header is always stripped on Open, so Seal wraps plain
// messages that would otherwise read as an envelope. A sealed
// body is salt (16) | nonce (12) | chacha20-poly1305 ciphertext, keyed by
// pbkdf2-sha256 over the passphrase. Compression is applied before sealing.
package envelope

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Magic = "PNGME"

	FlagCompressed byte = 1 << 0
	FlagSealed     byte = 1 << 1

	knownFlags = FlagCompressed | FlagSealed

	saltSize    = 16
	pbkdfRounds = 200000

	// decoded messages larger than this are rejected
	maxDecodedSize = 64 << 20
)

var headerSize = len(Magic) + 1

// Options selects how a message is wrapped.
type Options struct {
	Compress   bool
	Passphrase string
}

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil)
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
		return dec
	},
}

// IsEnvelope reports whether payload starts with the envelope header and
// carries only known flags.
func IsEnvelope(payload []byte) bool {
	return len(payload) >= headerSize &&
		bytes.HasPrefix(payload, []byte(Magic)) &&
		payload[headerSize-1]&^knownFlags == 0
}

// IsSealed reports whether payload is an envelope with a sealed body.
func IsSealed(payload []byte) bool {
	return IsEnvelope(payload) && payload[headerSize-1]&FlagSealed != 0
}

// Seal wraps msg according to opts. With no options set the message is
// returned as is, unless it would be mistaken for an envelope.
func Seal(msg []byte, opts Options) ([]byte, error) {
	var flags byte
	if !opts.Compress && opts.Passphrase == "" && !IsEnvelope(msg) {
		return append([]byte(nil), msg...), nil
	}

	body := msg
	if opts.Compress {
		flags |= FlagCompressed
		body = compressZstd(body)
	}

	header := append([]byte(Magic), 0)
	if opts.Passphrase != "" {
		flags |= FlagSealed
		header[len(header)-1] = flags
		sealed, err := seal(body, opts.Passphrase, header)
		if err != nil {
			return nil, err
		}
		body = sealed
	}
	header[len(header)-1] = flags

	return append(header, body...), nil
}

// Open unwraps a payload produced by Seal. Plain payloads are returned as is.
func Open(payload []byte, passphrase string) ([]byte, error) {
	if !IsEnvelope(payload) {
		return payload, nil
	}

	header := payload[:headerSize]
	flags := header[len(header)-1]
	body := payload[headerSize:]

	if flags&FlagSealed != 0 {
		if passphrase == "" {
			return nil, pngerrors.ErrEnvelope.WithMessage("message is sealed, passphrase required")
		}
		opened, err := open(body, passphrase, header)
		if err != nil {
			return nil, err
		}
		body = opened
	}

	if flags&FlagCompressed != 0 {
		decompressed, err := decompressZstd(body)
		if err != nil {
			return nil, pngerrors.ErrEnvelope.WithMessage("failed to decompress message").WithCause(err)
		}
		body = decompressed
	}

	return body, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdfRounds, chacha20poly1305.KeySize, sha256.New)
}

func seal(plaintext []byte, passphrase string, aad []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, pngerrors.ErrEnvelope.WithCause(err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, pngerrors.ErrEnvelope.WithCause(err)
	}

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, pngerrors.ErrEnvelope.WithCause(err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

func open(body []byte, passphrase string, aad []byte) ([]byte, error) {
	minSize := saltSize + chacha20poly1305.NonceSize + chacha20poly1305.Overhead
	if len(body) < minSize {
		return nil, pngerrors.ErrEnvelope.WithMessage("sealed message too short").WithDetail("size", len(body))
	}
	salt := body[:saltSize]
	nonce := body[saltSize : saltSize+chacha20poly1305.NonceSize]
	ciphertext := body[saltSize+chacha20poly1305.NonceSize:]

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, pngerrors.ErrEnvelope.WithCause(err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, pngerrors.ErrEnvelope.WithMessage("failed to open sealed message").WithCause(err)
	}
	return plaintext, nil
}

func compressZstd(data []byte) []byte {
	enc := zstdEncPool.Get().(*zstd.Encoder)
	defer zstdEncPool.Put(enc)
	return enc.EncodeAll(data, nil)
}

func decompressZstd(data []byte) ([]byte, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)
	return dec.DecodeAll(data, nil)
}
