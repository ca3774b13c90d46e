package storage

import (
	"context"
)

// Storage abstracts whole-file reads and writes of png datastreams.
type Storage interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}
