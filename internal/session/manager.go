package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/callshield/internal/alert"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("callshield-session")

// ErrUnknownSource is returned when a start request names no registered source.
var ErrUnknownSource = errors.New("unknown session source")

// Source pairs the audio capture and transcriber used to feed a session.
type Source struct {
	Audio       domain.AudioCapture
	Transcriber domain.Transcriber
}

// Dependencies wires a Manager to its collaborators.
// Repo, Cache and Bus are optional.
type Dependencies struct {
	Matcher *rules.Matcher
	Sources map[string]Source
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
}

// Manager keeps the registry of live sessions, keyed by tenant and session ID.
// Sessions share nothing but the immutable matcher.
type Manager struct {
	matcher *rules.Matcher
	sources map[string]Source
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	cfg     domain.SessionConfig
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup

	started atomic.Int64
	alerts  atomic.Int64
	reports atomic.Int64
}

// Stats are running totals since the manager was created.
type Stats struct {
	Live    int
	Started int64
	Alerts  int64
	Reports int64
}

type entry struct {
	ctrl        *Controller
	unsubscribe func()
	once        sync.Once
}

// NewManager creates a session manager.
func NewManager(deps Dependencies, cfg domain.SessionConfig, snapshotTTL time.Duration) *Manager {
	if snapshotTTL <= 0 {
		snapshotTTL = time.Hour
	}
	return &Manager{
		matcher:  deps.Matcher,
		sources:  deps.Sources,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		cfg:      cfg,
		ttl:      snapshotTTL,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// StartRequest describes a session to start.
type StartRequest struct {
	TenantID  string
	SessionID string // generated when empty
	CallID    string
	Source    string
}

// Start registers a new session and starts it. The session is visible to
// Get and Stop while it connects.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Controller, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	src, ok := m.sources[req.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	key := makeKey(req.TenantID, req.SessionID)
	e := &entry{}
	ctrl := NewController(Options{
		TenantID:    req.TenantID,
		SessionID:   req.SessionID,
		CallID:      req.CallID,
		Source:      req.Source,
		Audio:       src.Audio,
		Transcriber: src.Transcriber,
		Matcher:     m.matcher,
		Debouncer:   alert.NewDebouncer(m.cfg.AlertCooldown),
		OnReport: func(r *domain.SessionReport) {
			m.handleReport(r)
			m.release(key, e)
		},
		Now: m.now,
	})
	e.ctrl = ctrl

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s already exists", domain.ErrInvalidState, req.SessionID)
	}
	m.sessions[key] = e
	m.mu.Unlock()

	updates, unsubscribe := ctrl.Subscribe(m.cfg.UpdateBuffer)
	e.unsubscribe = unsubscribe
	m.wg.Add(1)
	go m.forward(updates)

	if err := ctrl.Start(ctx); err != nil {
		if !errors.Is(err, domain.ErrStartAborted) {
			m.release(key, e)
		}
		return nil, err
	}
	m.started.Add(1)
	return ctrl, nil
}

// Get returns a live session.
func (m *Manager) Get(tenantID, sessionID string) (*Controller, error) {
	m.mu.Lock()
	e, ok := m.sessions[makeKey(tenantID, sessionID)]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return e.ctrl, nil
}

// Snapshot returns the live state of a session, falling back to the last
// cached snapshot once the session has left the registry.
func (m *Manager) Snapshot(ctx context.Context, tenantID, sessionID string) (*domain.SessionState, error) {
	if ctrl, err := m.Get(tenantID, sessionID); err == nil {
		s := ctrl.Snapshot()
		return &s, nil
	}
	if m.cache != nil {
		s, err := m.cache.GetSnapshot(ctx, tenantID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("read cached snapshot: %w", err)
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

// Ingest feeds a fragment into a live session.
func (m *Manager) Ingest(ctx context.Context, tenantID, sessionID string, fragment domain.TranscriptFragment) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "session.ingest",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("session.id", sessionID),
			attribute.String("fragment.speaker", string(fragment.Speaker)),
		),
	)
	defer span.End()

	ctrl, err := m.Get(tenantID, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res, err := ctrl.Ingest(ctx, fragment)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("match.count", len(res.Events)),
		attribute.Int("alert.count", len(res.Alerts)),
		attribute.Int("risk.score", res.State.RiskScore),
	)
	return res, nil
}

// Stop stops a session. Stopping a session that already left the registry
// returns its archived report.
func (m *Manager) Stop(ctx context.Context, tenantID, sessionID string) (*domain.SessionReport, error) {
	ctrl, err := m.Get(tenantID, sessionID)
	if err == nil {
		return ctrl.Stop(ctx)
	}
	if m.repo != nil {
		report, rerr := m.repo.GetReport(ctx, tenantID, sessionID)
		if rerr == nil {
			return report, nil
		}
	}
	return nil, err
}

// StopAll stops every live session with the shutdown reason and waits for
// their updates to be forwarded.
func (m *Manager) StopAll(ctx context.Context) int {
	m.mu.Lock()
	ctrls := make([]*Controller, 0, len(m.sessions))
	for _, e := range m.sessions {
		ctrls = append(ctrls, e.ctrl)
	}
	m.mu.Unlock()

	for _, c := range ctrls {
		if _, err := c.StopWithReason(ctx, domain.EndShutdown); err != nil {
			slog.Warn("failed to stop session",
				"session_id", c.ID(),
				"tenant_id", c.TenantID(),
				"error", err,
			)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return len(ctrls)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats returns the live session count and running totals.
func (m *Manager) Stats() Stats {
	return Stats{
		Live:    m.Count(),
		Started: m.started.Load(),
		Alerts:  m.alerts.Load(),
		Reports: m.reports.Load(),
	}
}

func (m *Manager) release(key string, e *entry) {
	e.once.Do(func() {
		m.mu.Lock()
		if m.sessions[key] == e {
			delete(m.sessions, key)
		}
		m.mu.Unlock()
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
	})
}

// forward relays session updates to the cache and the bus until the
// session unsubscribes.
func (m *Manager) forward(updates <-chan Update) {
	defer m.wg.Done()

	for u := range updates {
		if u.Type == UpdateAlert {
			m.alerts.Add(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		tenantID := u.State.TenantID

		if m.cache != nil {
			state := u.State
			if err := m.cache.SetSnapshot(ctx, tenantID, &state, m.ttl); err != nil {
				slog.Warn("failed to cache snapshot",
					"session_id", u.State.SessionID,
					"error", err,
				)
			}
		}

		if m.bus != nil {
			topic := domain.TopicSessionState
			var payload any = u
			if u.Type == UpdateAlert && u.Alert != nil {
				topic = domain.TopicSessionAlert
				payload = u.Alert
			}
			m.publish(ctx, tenantID, topic, payload)
		}
		cancel()
	}
}

// handleReport archives a finished session and announces it.
func (m *Manager) handleReport(report *domain.SessionReport) {
	m.reports.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.repo != nil {
		if err := m.repo.SaveReport(ctx, report.TenantID, report); err != nil {
			slog.Error("failed to save session report",
				"session_id", report.SessionID,
				"tenant_id", report.TenantID,
				"error", err,
			)
		}
	}
	if m.bus != nil {
		m.publish(ctx, report.TenantID, domain.TopicSessionReport, report)
	}
}

func (m *Manager) publish(ctx context.Context, tenantID, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal bus payload", "topic", topic, "error", err)
		return
	}
	if err := m.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

func makeKey(tenantID, sessionID string) string {
	return tenantID + ":" + sessionID
}
