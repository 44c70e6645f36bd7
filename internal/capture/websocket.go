package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opensource-finance/callshield/internal/domain"
)

// WebSocket streams audio to an external speech-to-text service and
// relays its final transcripts as fragments.
//
// Server messages are JSON objects:
//
//	{"type":"transcript","text":"...","speaker":"caller","is_final":true}
//	{"type":"done"}
//	{"type":"error","error":"..."}
type WebSocket struct {
	URL        string
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	// Dialer defaults to a dialer with a 10 second handshake timeout.
	Dialer *websocket.Dialer

	// Now stamps fragments; defaults to time.Now.
	Now func() time.Time
}

// Open dials the service and starts streaming audio to it.
func (w *WebSocket) Open(ctx context.Context, audio domain.AudioStream, call domain.CallInfo) (domain.TranscriptChannel, error) {
	u, err := url.Parse(w.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse websocket URL: %v", domain.ErrConnection, err)
	}
	q := u.Query()
	if w.Model != "" {
		q.Set("model", w.Model)
	}
	lang := w.Language
	if lang == "" {
		lang = "en"
	}
	q.Set("language", lang)
	rate := w.SampleRate
	if rate == 0 {
		rate = 16000
	}
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", rate))
	if call.CallID != "" {
		q.Set("call_id", call.CallID)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if w.APIKey != "" {
		headers.Set("Authorization", "Bearer "+w.APIKey)
	}

	dialer := w.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: transcription service returned status %d", domain.ErrPermissionDenied, resp.StatusCode)
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("%w: status %d: %s", domain.ErrConnection, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	now := w.Now
	if now == nil {
		now = time.Now
	}

	s := &wsChannel{
		conn:  conn,
		frags: make(chan domain.TranscriptFragment, 100),
		done:  make(chan struct{}),
		now:   now,
	}
	go s.readLoop()
	if audio != nil {
		go s.sendAudio(audio)
	}
	return s, nil
}

type wsChannel struct {
	conn    *websocket.Conn
	frags   chan domain.TranscriptFragment
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	now     func() time.Time

	errMu sync.Mutex
	err   error
}

type wsMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

func (s *wsChannel) readLoop() {
	defer close(s.frags)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ignoring malformed transcription message", "error", err)
			continue
		}

		switch msg.Type {
		case "transcript":
			if !msg.IsFinal || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			speaker := domain.Role(msg.Speaker)
			if !speaker.Valid() {
				speaker = domain.RoleCaller
			}
			f := domain.TranscriptFragment{Text: msg.Text, Speaker: speaker, Timestamp: s.now()}
			select {
			case s.frags <- f:
			case <-s.done:
				return
			}

		case "done":
			return

		case "error":
			s.setErr(errors.New(msg.Error))
			return
		}
	}
}

// sendAudio forwards PCM frames until the stream ends, then asks the
// service to flush.
func (s *wsChannel) sendAudio(audio io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if werr := s.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = s.write(websocket.TextMessage, []byte("finalize"))
			}
			return
		}
	}
}

func (s *wsChannel) write(messageType int, data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("channel closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsChannel) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *wsChannel) Fragments() <-chan domain.TranscriptFragment { return s.frags }

func (s *wsChannel) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsChannel) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}
