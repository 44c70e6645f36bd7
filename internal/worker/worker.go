// Package worker consumes CallShield bus traffic: fragments transcribed by
// external services and finished session reports awaiting a summary.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/session"
	"github.com/opensource-finance/callshield/internal/summary"
)

// Ingester feeds a fragment into a live session.
type Ingester interface {
	Ingest(ctx context.Context, tenantID, sessionID string, fragment domain.TranscriptFragment) (*session.IngestResult, error)
}

// SummaryStore attaches summaries to archived reports.
type SummaryStore interface {
	UpdateReportSummary(ctx context.Context, tenantID string, sessionID string, summary string) error
}

// Worker processes bus messages asynchronously.
type Worker struct {
	bus        domain.EventBus
	sessions   Ingester
	summarizer summary.Summarizer
	store      SummaryStore

	subscriptions []domain.Subscription
	slots         chan struct{}
	mu            sync.Mutex
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs limits processing to these tenants; empty subscribes globally.
	TenantIDs []string

	// WorkerCount bounds concurrent summaries.
	WorkerCount int
}

// NewWorker creates a worker. summarizer and store may be nil, in which
// case reports are not summarized.
func NewWorker(bus domain.EventBus, sessions Ingester, summarizer summary.Summarizer, store SummaryStore) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		sessions:   sessions,
		summarizer: summarizer,
		store:      store,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the fragment and report topics.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	w.slots = make(chan struct{}, cfg.WorkerCount)

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalTenantID}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			return fmt.Errorf("start worker for tenant %s: %w", tenantID, err)
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"summary_slots", cfg.WorkerCount,
	)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	if w.sessions != nil {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicFragmentReceived, w.handleFragment)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	if w.summarizer != nil && w.store != nil {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSessionReport, w.handleReport)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"subscriptions", len(w.subscriptions),
	)
	return nil
}

// handleFragment runs inline so fragments of a session keep their order.
func (w *Worker) handleFragment(ctx context.Context, msg *domain.Message) error {
	var fm domain.FragmentMessage
	if err := json.Unmarshal(msg.Payload, &fm); err != nil {
		slog.Error("failed to parse fragment message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	res, err := w.sessions.Ingest(ctx, msg.TenantID, fm.SessionID, fm.Fragment)
	if err != nil {
		slog.Warn("fragment rejected",
			"tenant_id", msg.TenantID,
			"session_id", fm.SessionID,
			"error", err,
		)
		return err
	}

	slog.Debug("fragment ingested",
		"tenant_id", msg.TenantID,
		"session_id", fm.SessionID,
		"matches", len(res.Events),
		"alerts", len(res.Alerts),
		"risk_score", res.State.RiskScore,
	)
	return nil
}

// handleReport summarizes in the background so a slow model does not hold
// up the subscription queue.
func (w *Worker) handleReport(ctx context.Context, msg *domain.Message) error {
	var report domain.SessionReport
	if err := json.Unmarshal(msg.Payload, &report); err != nil {
		slog.Error("failed to parse session report",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if report.TenantID == "" {
		report.TenantID = msg.TenantID
	}

	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		<-w.slots
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		w.summarize(&report)
	}()
	return nil
}

func (w *Worker) summarize(report *domain.SessionReport) {
	start := time.Now()

	text, err := w.summarizer.Summarize(w.ctx, report)
	if err != nil {
		slog.Error("failed to summarize report",
			"session_id", report.SessionID,
			"tenant_id", report.TenantID,
			"error", err,
		)
		return
	}

	if err := w.store.UpdateReportSummary(w.ctx, report.TenantID, report.SessionID, text); err != nil {
		slog.Error("failed to store report summary",
			"session_id", report.SessionID,
			"tenant_id", report.TenantID,
			"error", err,
		)
		return
	}

	slog.Info("report summarized",
		"session_id", report.SessionID,
		"tenant_id", report.TenantID,
		"threat_level", report.ThreatLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes, cancels in-flight summaries and waits for them to return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
