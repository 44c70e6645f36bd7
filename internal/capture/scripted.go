package capture

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

// ScriptLine is one utterance of a scripted call.
type ScriptLine struct {
	Speaker domain.Role
	Text    string
}

// Scripted plays a fixed call transcript, one line per Delay.
// The channel closes after the last line, which ends the session.
type Scripted struct {
	Lines []ScriptLine

	// Delay is the pause before each line.
	Delay time.Duration

	// Now stamps fragments; defaults to time.Now.
	Now func() time.Time
}

// Open starts playback.
func (s *Scripted) Open(ctx context.Context, audio domain.AudioStream, call domain.CallInfo) (domain.TranscriptChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	ch := &scriptedChannel{
		frags: make(chan domain.TranscriptFragment),
		stop:  make(chan struct{}),
	}
	go ch.play(append([]ScriptLine(nil), s.Lines...), s.Delay, now)
	return ch, nil
}

type scriptedChannel struct {
	frags chan domain.TranscriptFragment
	stop  chan struct{}
	once  sync.Once
}

func (c *scriptedChannel) play(lines []ScriptLine, delay time.Duration, now func() time.Time) {
	defer close(c.frags)

	for _, line := range lines {
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-c.stop:
				t.Stop()
				return
			case <-t.C:
			}
		}
		select {
		case <-c.stop:
			return
		case c.frags <- domain.TranscriptFragment{Text: line.Text, Speaker: line.Speaker, Timestamp: now()}:
		}
	}
}

func (c *scriptedChannel) Fragments() <-chan domain.TranscriptFragment { return c.frags }

func (c *scriptedChannel) Err() error { return nil }

func (c *scriptedChannel) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// DemoScript is the simulated incoming scam call.
func DemoScript() []ScriptLine {
	return []ScriptLine{
		{domain.RoleCaller, "Hello, this is the fraud department calling from your bank."},
		{domain.RoleCaller, "We detected a suspicious charge and this is urgent, do not hang up."},
		{domain.RoleShield, "Caution: banks never ask you to act under time pressure."},
		{domain.RoleCaller, "To secure your funds I need to verify your account number."},
		{domain.RoleCaller, "And please read me the verification code we just sent you."},
		{domain.RoleCaller, "Finally, confirm your date of birth and social security number."},
		{domain.RoleShield, "Stop. Never share identity details with this caller."},
		{domain.RoleCaller, "If you don't do this now your account will be suspended."},
	}
}
