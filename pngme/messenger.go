package pngme

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/flaneur2020/pngme/pngme/envelope"
	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
	"github.com/flaneur2020/pngme/pngme/logger"
	"github.com/flaneur2020/pngme/pngme/storage"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many files Scan decodes at once.
const DefaultConcurrency = 8

// ProgressCallback is called as Scan finishes files
// current: files processed so far
// total: number of files to process
type ProgressCallback func(current int64, total int64)

// Options configures a Messenger.
type Options struct {
	// Compress stores new messages zstd compressed.
	Compress bool
	// Passphrase seals new messages and opens sealed ones.
	Passphrase string
	// Concurrency bounds Scan; zero means DefaultConcurrency.
	Concurrency int
}

// ChunkInfo describes one chunk for listing.
type ChunkInfo struct {
	Type   ChunkType
	Length uint32
	CRC    uint32
	Digest digest.Digest
	// Text is the message carried by the chunk when IsText is set.
	Text   string
	IsText bool
	// Sealed is set when the payload is a sealed envelope that could not be
	// opened with the configured passphrase.
	Sealed bool
}

// ScanResult reports what Scan found in one file.
type ScanResult struct {
	Name   string
	Digest digest.Digest
	// Count is the number of chunks of the scanned type.
	Count int
	Err   error
}

// Messenger hides, reveals and removes messages in png files held by a Storage.
type Messenger interface {
	// Encode appends a chunk carrying message to src and writes the result
	// to dst, or back to src when dst is empty.
	Encode(ctx context.Context, src, chunkType, message, dst string) error
	// Decode returns the message of the first chunk of chunkType.
	Decode(ctx context.Context, src, chunkType string) (string, error)
	// Remove deletes the first chunk of chunkType, or all of them, and
	// persists the file.
	Remove(ctx context.Context, src, chunkType string, all bool) ([]*Chunk, error)
	// Print lists every chunk of src in stream order.
	Print(ctx context.Context, src string) ([]ChunkInfo, error)
	// Scan decodes many files and counts the chunks of chunkType in each.
	Scan(ctx context.Context, names []string, chunkType string, progress ProgressCallback) ([]ScanResult, error)
}

type messenger struct {
	storage storage.Storage
	opts    Options
}

func NewMessenger(s storage.Storage, opts Options) Messenger {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &messenger{
		storage: s,
		opts:    opts,
	}
}

func (m *messenger) load(ctx context.Context, name string) (*PNG, error) {
	data, err := m.storage.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	logger.Debug("read %s (%d bytes)", name, len(data))

	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	logger.Debug("decoded %d chunks from %s", p.Len(), name)
	return p, nil
}

func (m *messenger) save(ctx context.Context, name string, p *PNG) error {
	data := p.Encode()
	if err := m.storage.Write(ctx, name, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	logger.Info("wrote %s (%d chunks, %d bytes)", name, p.Len(), len(data))
	return nil
}

func (m *messenger) Encode(ctx context.Context, src, chunkType, message, dst string) error {
	t, err := ParseChunkType(chunkType)
	if err != nil {
		return err
	}
	if !t.IsValid() {
		return pngerrors.ErrInvalidChunkTypeString.
			WithMessage("chunk type reserved bit is not valid (third letter must be uppercase)").
			WithDetail("type", chunkType)
	}

	p, err := m.load(ctx, src)
	if err != nil {
		return err
	}

	payload, err := envelope.Seal([]byte(message), envelope.Options{
		Compress:   m.opts.Compress,
		Passphrase: m.opts.Passphrase,
	})
	if err != nil {
		return err
	}
	logger.Info("encoding %d byte message as %s (compress=%t sealed=%t)",
		len(message), t, m.opts.Compress, m.opts.Passphrase != "")

	p.Append(NewChunk(t, payload))

	if dst == "" {
		dst = src
	}
	return m.save(ctx, dst, p)
}

func (m *messenger) Decode(ctx context.Context, src, chunkType string) (string, error) {
	if _, err := ParseChunkType(chunkType); err != nil {
		return "", err
	}

	p, err := m.load(ctx, src)
	if err != nil {
		return "", err
	}

	c, err := p.ChunkByType(chunkType)
	if err != nil {
		return "", err
	}
	return m.messageOf(c)
}

// messageOf returns the text carried by c. Envelopes are opened; a
// compressed envelope that does not decompress is read as plain text, a
// sealed one that does not open is an error.
func (m *messenger) messageOf(c *Chunk) (string, error) {
	if !envelope.IsEnvelope(c.data) {
		return c.DataAsString()
	}

	msg, err := envelope.Open(c.data, m.opts.Passphrase)
	if err != nil {
		if envelope.IsSealed(c.data) {
			return "", err
		}
		logger.Debug("%s payload is not a readable envelope, using raw text: %v", c.Type(), err)
		return c.DataAsString()
	}
	if !utf8.Valid(msg) {
		return "", pngerrors.ErrNotUTF8.WithDetail("type", c.Type().String())
	}
	return string(msg), nil
}

func (m *messenger) Remove(ctx context.Context, src, chunkType string, all bool) ([]*Chunk, error) {
	if _, err := ParseChunkType(chunkType); err != nil {
		return nil, err
	}

	p, err := m.load(ctx, src)
	if err != nil {
		return nil, err
	}

	var removed []*Chunk
	if all {
		removed, err = p.RemoveAllChunks(chunkType)
	} else {
		var c *Chunk
		c, err = p.RemoveChunk(chunkType)
		removed = []*Chunk{c}
	}
	if err != nil {
		return nil, err
	}
	logger.Info("removed %d %s chunk(s) from %s", len(removed), chunkType, src)

	if err := m.save(ctx, src, p); err != nil {
		return nil, err
	}
	return removed, nil
}

func (m *messenger) Print(ctx context.Context, src string) ([]ChunkInfo, error) {
	p, err := m.load(ctx, src)
	if err != nil {
		return nil, err
	}

	infos := make([]ChunkInfo, 0, p.Len())
	for _, c := range p.Chunks() {
		info := ChunkInfo{
			Type:   c.Type(),
			Length: c.Length(),
			CRC:    c.CRC(),
			Digest: c.Digest(),
		}
		text, err := m.messageOf(c)
		switch {
		case err == nil:
			info.Text = text
			info.IsText = true
		case envelope.IsSealed(c.data):
			info.Sealed = true
			logger.Debug("cannot open %s envelope: %v", c.Type(), err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *messenger) Scan(ctx context.Context, names []string, chunkType string, progress ProgressCallback) ([]ScanResult, error) {
	t, err := ParseChunkType(chunkType)
	if err != nil {
		return nil, err
	}

	results := make([]ScanResult, len(names))
	total := int64(len(names))

	var (
		mu   sync.Mutex
		done int64
	)
	if progress != nil {
		progress(0, total)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = m.scanOne(gctx, name, t)

			if progress != nil {
				mu.Lock()
				done++
				progress(done, total)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *messenger) scanOne(ctx context.Context, name string, t ChunkType) ScanResult {
	result := ScanResult{Name: name}

	data, err := m.storage.Read(ctx, name)
	if err != nil {
		result.Err = err
		return result
	}
	result.Digest = digest.FromBytes(data)

	p, err := Decode(data)
	if err != nil {
		// Continue with the next file on error
		logger.Warn("skipping %s: %v", name, err)
		result.Err = err
		return result
	}
	for _, c := range p.chunks {
		if c.Type() == t {
			result.Count++
		}
	}
	return result
}
