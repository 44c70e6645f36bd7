package capture

import (
	"context"
	"sync"

	"github.com/opensource-finance/callshield/internal/domain"
)

// Push is the transcriber for sessions whose fragments arrive through the
// API or the event bus. Its channel never yields fragments itself; it only
// ends when the session releases it.
type Push struct{}

// Open returns an idle channel.
func (Push) Open(ctx context.Context, audio domain.AudioStream, call domain.CallInfo) (domain.TranscriptChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &pushChannel{frags: make(chan domain.TranscriptFragment)}, nil
}

type pushChannel struct {
	frags chan domain.TranscriptFragment
	once  sync.Once
}

func (c *pushChannel) Fragments() <-chan domain.TranscriptFragment { return c.frags }

func (c *pushChannel) Err() error { return nil }

func (c *pushChannel) Close() error {
	c.once.Do(func() { close(c.frags) })
	return nil
}
