// Package verify checks finished downloads against their expected size and
// content hash.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// Hasher digests a file. Implementations must stop reading and return a
// cancellation error once ctx is done.
type Hasher interface {
	Sum(ctx context.Context, path string) (string, error)
}

// SHA256 is the default Hasher. BufferSize <= 0 uses types.HashBuffer.
type SHA256 struct {
	BufferSize int
}

// Sum returns the lowercase hex SHA-256 of the file at path.
func (s SHA256) Sum(ctx context.Context, path string) (string, error) {
	return sumFile(ctx, path, sha256.New(), s.BufferSize)
}

func sumFile(ctx context.Context, path string, h hash.Hash, bufSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	return sumReader(ctx, f, h, bufSize)
}

// sumReader digests r, checking ctx before every buffer.
func sumReader(ctx context.Context, r io.Reader, h hash.Hash, bufSize int) (string, error) {
	if bufSize <= 0 {
		bufSize = types.HashBuffer
	}
	buf := make([]byte, bufSize)
	for {
		if ctx.Err() != nil {
			return "", types.Canceled("hashing")
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read for hashing: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
