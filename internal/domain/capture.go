package domain

import (
	"context"
	"io"
)

// AudioStream is an acquired microphone or line-in stream.
// Closing it releases the underlying device.
type AudioStream interface {
	io.ReadCloser
}

// AudioCapture acquires audio for a session.
// Acquire returns an error wrapping ErrPermissionDenied when access is refused.
type AudioCapture interface {
	Acquire(ctx context.Context) (AudioStream, error)
}

// CallInfo identifies the call a transcription channel is opened for.
type CallInfo struct {
	TenantID  string
	SessionID string
	CallID    string
}

// Transcriber opens a streaming transcription channel.
// Open returns an error wrapping ErrConnection when the service is unreachable.
// ctx bounds the handshake only; the channel lives until Close.
type Transcriber interface {
	Open(ctx context.Context, audio AudioStream, call CallInfo) (TranscriptChannel, error)
}

// TranscriptChannel delivers recognized fragments in order.
// Fragments is closed when the channel ends; Err then reports why (nil on a clean close).
type TranscriptChannel interface {
	Fragments() <-chan TranscriptFragment
	Err() error
	Close() error
}
