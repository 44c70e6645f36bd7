// Package capture provides the audio and transcription adapters that feed sessions.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/opensource-finance/callshield/internal/domain"
)

// NoAudio is used when speech is transcribed outside this process.
// Acquire always succeeds with an empty stream.
type NoAudio struct{}

// Acquire returns an empty stream.
func (NoAudio) Acquire(ctx context.Context) (domain.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(eofReader{}), nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// FileAudio streams raw PCM from a file, standing in for a capture device.
type FileAudio struct {
	Path string
}

// Acquire opens the file. Permission problems are reported as ErrPermissionDenied.
func (a FileAudio) Acquire(ctx context.Context) (domain.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	return &onceCloser{ReadCloser: f}, nil
}

// onceCloser makes Close idempotent; streams are released from several exit paths.
type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.ReadCloser.Close() })
	return c.err
}
