// Package session runs live call sessions: lifecycle, ingestion and reporting.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/callshield/internal/alert"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/risk"
	"github.com/opensource-finance/callshield/internal/rules"
)

// UpdateType names the kind of notification sent to observers.
type UpdateType string

const (
	UpdateSnapshot UpdateType = "snapshot"
	UpdateAlert    UpdateType = "alert"
	UpdateStopped  UpdateType = "stopped"
)

// Update is delivered to every observer of a session.
type Update struct {
	Type   UpdateType            `json:"type"`
	State  domain.SessionState   `json:"state"`
	Alert  *domain.Alert         `json:"alert,omitempty"`
	Report *domain.SessionReport `json:"report,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// IngestResult is what one ingested fragment produced.
type IngestResult struct {
	State  domain.SessionState `json:"state"`
	Events []domain.MatchEvent `json:"events"`
	Alerts []domain.Alert      `json:"alerts"`
}

// Options configures a Controller.
type Options struct {
	TenantID  string
	SessionID string
	CallID    string
	Source    string

	Audio       domain.AudioCapture
	Transcriber domain.Transcriber
	Matcher     *rules.Matcher
	Debouncer   *alert.Debouncer

	// OnReport is called once for every report, outside the session lock.
	OnReport func(*domain.SessionReport)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller owns one session's state and external resources.
//
// Ingest and every state transition are serialized by mu. While Listening a
// single pump goroutine consumes the transcription channel, so fragments are
// ingested in arrival order. Observers are notified without blocking.
type Controller struct {
	tenantID  string
	id        string
	callID    string
	source    string
	audio     domain.AudioCapture
	trans     domain.Transcriber
	matcher   *rules.Matcher
	debouncer *alert.Debouncer
	onReport  func(*domain.SessionReport)
	now       func() time.Time

	mu          sync.Mutex
	status      domain.SessionStatus
	transcript  []domain.TranscriptFragment
	acc         *risk.Accumulator
	lastAlertAt time.Time
	alerts      []domain.Alert
	startedAt   time.Time
	report      *domain.SessionReport

	// generation increments on every start and on an aborted connect so
	// a stale start or pump can detect it no longer owns the session.
	generation  uint64
	cancelStart context.CancelFunc
	stream      domain.AudioStream
	channel     domain.TranscriptChannel
	quit        chan struct{}
	pumpDone    chan struct{}

	obsMu     sync.Mutex
	observers map[int]chan Update
	nextObs   int
}

// NewController returns an Idle controller.
func NewController(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	debouncer := opts.Debouncer
	if debouncer == nil {
		debouncer = alert.NewDebouncer(alert.DefaultCooldown)
	}
	return &Controller{
		tenantID:  opts.TenantID,
		id:        opts.SessionID,
		callID:    opts.CallID,
		source:    opts.Source,
		audio:     opts.Audio,
		trans:     opts.Transcriber,
		matcher:   opts.Matcher,
		debouncer: debouncer,
		onReport:  opts.OnReport,
		now:       now,
		status:    domain.StatusIdle,
		acc:       risk.NewAccumulator(),
		observers: make(map[int]chan Update),
	}
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// TenantID returns the owning tenant.
func (c *Controller) TenantID() string { return c.tenantID }

// Start acquires audio, opens the transcription channel and begins listening.
// It blocks until the channel is ready or fails. On failure every acquired
// resource is released and the session returns to Idle. If Stop runs while
// connecting, Start returns ErrStartAborted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != domain.StatusIdle && c.status != domain.StatusStopped {
		st := c.status
		c.mu.Unlock()
		return &domain.StateError{Op: "start", Status: st}
	}
	c.resetLocked()
	c.status = domain.StatusConnecting
	c.generation++
	gen := c.generation
	startCtx, cancel := context.WithCancel(ctx)
	c.cancelStart = cancel
	c.notifyLocked(Update{Type: UpdateSnapshot, State: c.snapshotLocked()})
	c.mu.Unlock()

	defer cancel()

	stream, err := c.audio.Acquire(startCtx)
	if err != nil {
		return c.failStart(gen, classify(err, domain.ErrPermissionDenied, "acquire audio"))
	}

	info := domain.CallInfo{TenantID: c.tenantID, SessionID: c.id, CallID: c.callID}
	ch, err := c.trans.Open(startCtx, stream, info)
	if err != nil {
		closeQuietly("audio stream", stream)
		return c.failStart(gen, classify(err, domain.ErrConnection, "open transcription channel"))
	}

	c.mu.Lock()
	if c.generation != gen || c.status != domain.StatusConnecting {
		c.mu.Unlock()
		closeQuietly("transcription channel", ch)
		closeQuietly("audio stream", stream)
		return domain.ErrStartAborted
	}
	c.cancelStart = nil
	c.stream = stream
	c.channel = ch
	c.quit = make(chan struct{})
	c.pumpDone = make(chan struct{})
	c.status = domain.StatusListening
	go c.pump(gen, ch, c.quit, c.pumpDone)
	c.notifyLocked(Update{Type: UpdateSnapshot, State: c.snapshotLocked()})
	c.mu.Unlock()

	slog.Info("session listening",
		"session_id", c.id,
		"tenant_id", c.tenantID,
		"source", c.source,
	)
	return nil
}

// failStart returns a connecting session to Idle. A Stop that already
// claimed the session turns the failure into ErrStartAborted.
func (c *Controller) failStart(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.status != domain.StatusConnecting {
		return domain.ErrStartAborted
	}
	c.cancelStart = nil
	c.status = domain.StatusIdle
	c.notifyLocked(Update{Type: UpdateSnapshot, State: c.snapshotLocked(), Error: err.Error()})

	slog.Warn("session start failed",
		"session_id", c.id,
		"tenant_id", c.tenantID,
		"error", err,
	)
	return err
}

// classify wraps err in sentinel unless it already matches it or is a
// context error.
func classify(err error, sentinel error, op string) error {
	if errors.Is(err, sentinel) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel, err)
}

// Ingest runs one fragment through match, accumulate and debounce.
// Outside Listening it returns a StateError and changes nothing.
func (c *Controller) Ingest(ctx context.Context, fragment domain.TranscriptFragment) (*IngestResult, error) {
	return c.ingest(fragment, 0, false)
}

func (c *Controller) ingest(fragment domain.TranscriptFragment, gen uint64, checkGen bool) (*IngestResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != domain.StatusListening || (checkGen && c.generation != gen) {
		return nil, &domain.StateError{Op: "ingest", Status: c.status}
	}

	if fragment.Timestamp.IsZero() {
		fragment.Timestamp = c.now()
	}
	if fragment.Speaker == "" {
		fragment.Speaker = domain.RoleCaller
	}
	c.transcript = append(c.transcript, fragment)

	events := c.matcher.Match(fragment)
	c.acc.Apply(events)

	var raised []domain.Alert
	for _, ev := range events {
		now := c.now()
		if !c.debouncer.ShouldAlert(ev, c.lastAlertAt, now) {
			continue
		}
		a := alert.Build(ev, c.tenantID, c.id, now)
		c.lastAlertAt = now
		c.alerts = append(c.alerts, a)
		raised = append(raised, a)
	}

	state := c.snapshotLocked()
	for i := range raised {
		c.notifyLocked(Update{Type: UpdateAlert, State: state, Alert: &raised[i]})
	}
	c.notifyLocked(Update{Type: UpdateSnapshot, State: state})

	if len(raised) > 0 {
		slog.Warn("critical alert raised",
			"session_id", c.id,
			"tenant_id", c.tenantID,
			"category", raised[0].Category,
			"risk_score", state.RiskScore,
		)
	}

	return &IngestResult{State: state, Events: events, Alerts: raised}, nil
}

// Stop ends the session on user request. See StopWithReason.
func (c *Controller) Stop(ctx context.Context) (*domain.SessionReport, error) {
	return c.StopWithReason(ctx, domain.EndUserStop)
}

// StopWithReason moves the session to Stopped, releases the channel and
// audio, waits for the pump to exit and returns the final report.
// It is idempotent: Idle returns nil, Stopped returns the existing report.
// No state changes once it returns.
func (c *Controller) StopWithReason(ctx context.Context, reason domain.EndReason) (*domain.SessionReport, error) {
	c.mu.Lock()
	switch c.status {
	case domain.StatusIdle:
		c.mu.Unlock()
		return nil, nil

	case domain.StatusStopped:
		r := c.report
		c.mu.Unlock()
		return r, nil

	case domain.StatusConnecting:
		if c.cancelStart != nil {
			c.cancelStart()
			c.cancelStart = nil
		}
		c.generation++
		report := c.finishLocked(reason, nil)
		c.mu.Unlock()
		c.emitReport(report)
		return report, nil
	}

	ch, stream, quit, done := c.channel, c.stream, c.quit, c.pumpDone
	report := c.finishLocked(reason, nil)
	c.mu.Unlock()

	close(quit)
	closeQuietly("transcription channel", ch)
	closeQuietly("audio stream", stream)

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for transcript pump: %w", ctx.Err())
	}

	c.emitReport(report)
	return report, err
}

// pump is the single consumer of a Listening session's channel.
func (c *Controller) pump(gen uint64, ch domain.TranscriptChannel, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	frags := ch.Fragments()
	for {
		select {
		case <-quit:
			return
		case f, ok := <-frags:
			if !ok {
				c.channelEnded(gen, ch.Err())
				return
			}
			if _, err := c.ingest(f, gen, true); err != nil {
				slog.Debug("fragment dropped",
					"session_id", c.id,
					"error", err,
				)
			}
		}
	}
}

// channelEnded stops a session whose transcription channel closed on its own.
func (c *Controller) channelEnded(gen uint64, chErr error) {
	c.mu.Lock()
	if c.generation != gen || c.status != domain.StatusListening {
		c.mu.Unlock()
		return
	}

	reason := domain.EndChannelClosed
	var err error
	if chErr != nil {
		reason = domain.EndChannelError
		err = fmt.Errorf("%w: %v", domain.ErrChannel, chErr)
	}
	ch, stream, quit := c.channel, c.stream, c.quit
	report := c.finishLocked(reason, err)
	c.mu.Unlock()

	close(quit)
	closeQuietly("transcription channel", ch)
	closeQuietly("audio stream", stream)

	slog.Info("transcription channel ended",
		"session_id", c.id,
		"tenant_id", c.tenantID,
		"end_reason", reason,
		"error", chErr,
	)
	c.emitReport(report)
}

// finishLocked transitions to Stopped, builds the report and sends the
// terminal update. The caller releases resources after unlocking.
func (c *Controller) finishLocked(reason domain.EndReason, cause error) *domain.SessionReport {
	c.status = domain.StatusStopped
	c.channel = nil
	c.stream = nil

	ended := c.now()
	state := c.snapshotLocked()
	report := &domain.SessionReport{
		SessionID:     c.id,
		TenantID:      c.tenantID,
		CallID:        c.callID,
		Transcript:    state.Transcript,
		FinalScore:    state.RiskScore,
		ThreatLevel:   state.ThreatLevel,
		LeaksDetected: state.LeaksSeen,
		Alerts:        append([]domain.Alert(nil), c.alerts...),
		StartedAt:     c.startedAt,
		EndedAt:       ended,
		DurationMs:    ended.Sub(c.startedAt).Milliseconds(),
		EndReason:     reason,
	}
	c.report = report

	u := Update{Type: UpdateStopped, State: state, Report: report}
	if cause != nil {
		u.Error = cause.Error()
	}
	c.notifyLocked(u)
	return report
}

func (c *Controller) emitReport(report *domain.SessionReport) {
	slog.Info("session stopped",
		"session_id", report.SessionID,
		"tenant_id", report.TenantID,
		"end_reason", report.EndReason,
		"final_score", report.FinalScore,
		"alerts", len(report.Alerts),
		"duration_ms", report.DurationMs,
	)
	if c.onReport != nil {
		c.onReport(report)
	}
}

func (c *Controller) resetLocked() {
	c.transcript = nil
	c.acc.Reset()
	c.lastAlertAt = time.Time{}
	c.alerts = nil
	c.report = nil
	c.startedAt = c.now()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status returns the current lifecycle status.
func (c *Controller) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Report returns the last produced report, or nil.
func (c *Controller) Report() *domain.SessionReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

func (c *Controller) snapshotLocked() domain.SessionState {
	score := c.acc.Score()
	s := domain.SessionState{
		SessionID:   c.id,
		TenantID:    c.tenantID,
		CallID:      c.callID,
		Source:      c.source,
		Status:      c.status,
		Transcript:  append([]domain.TranscriptFragment{}, c.transcript...),
		RiskScore:   score,
		ThreatLevel: risk.Level(score),
		LeaksSeen:   c.acc.Seen(),
		AlertCount:  len(c.alerts),
		StartedAt:   c.startedAt,
	}
	if s.LeaksSeen == nil {
		s.LeaksSeen = []domain.Category{}
	}
	if !c.lastAlertAt.IsZero() {
		t := c.lastAlertAt
		s.LastAlertAt = &t
	}
	return s
}

// Subscribe registers an observer. Updates that do not fit in the buffer
// are dropped for that observer. The returned func unsubscribes and
// closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = ch
	c.obsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.obsMu.Lock()
			delete(c.observers, id)
			c.obsMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) notifyLocked(u Update) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for _, ch := range c.observers {
		select {
		case ch <- u:
		default:
		}
	}
}

type closer interface{ Close() error }

func closeQuietly(what string, r closer) {
	if r == nil {
		return
	}
	if err := r.Close(); err != nil {
		slog.Debug("release failed", "resource", what, "error", err)
	}
}
