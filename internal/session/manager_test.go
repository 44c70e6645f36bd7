package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/callshield/internal/bus"
	"github.com/opensource-finance/callshield/internal/cache"
	"github.com/opensource-finance/callshield/internal/capture"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/repository"
	"github.com/opensource-finance/callshield/internal/rules"
)

type managerHarness struct {
	mgr   *Manager
	repo  domain.Repository
	cache *cache.SnapshotCache
	bus   *bus.ChannelBus
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()

	matcher, err := rules.NewMatcher(rules.BuiltinPatterns())
	if err != nil {
		t.Fatalf("failed to build matcher: %v", err)
	}
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "sessions.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	c := cache.NewMemory(100)
	b := bus.NewChannelBus(100)

	script := &capture.Scripted{
		Lines: []capture.ScriptLine{{Speaker: domain.RoleCaller, Text: "Read me the CVV on the back."}},
	}

	mgr := NewManager(Dependencies{
		Matcher: matcher,
		Sources: map[string]Source{
			"push":     {Audio: capture.NoAudio{}, Transcriber: capture.Push{}},
			"scripted": {Audio: capture.NoAudio{}, Transcriber: script},
		},
		Repo:  repo,
		Cache: c,
		Bus:   b,
	}, domain.SessionConfig{AlertCooldown: 6 * time.Second, UpdateBuffer: 64}, time.Minute)

	t.Cleanup(func() {
		mgr.StopAll(context.Background())
		b.Close()
		repo.Close()
	})
	return &managerHarness{mgr: mgr, repo: repo, cache: c, bus: b}
}

func TestManagerLifecycle(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()
	tenant := "tenant-001"

	var mu sync.Mutex
	var published []domain.SessionReport
	var alerts int
	h.bus.Subscribe(ctx, tenant, domain.TopicSessionReport, func(ctx context.Context, msg *domain.Message) error {
		var r domain.SessionReport
		json.Unmarshal(msg.Payload, &r)
		mu.Lock()
		published = append(published, r)
		mu.Unlock()
		return nil
	})
	h.bus.Subscribe(ctx, tenant, domain.TopicSessionAlert, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		alerts++
		mu.Unlock()
		return nil
	})

	ctrl, err := h.mgr.Start(ctx, StartRequest{TenantID: tenant, Source: "push", CallID: "call-9"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if ctrl.ID() == "" {
		t.Fatal("expected a generated session ID")
	}
	id := ctrl.ID()

	if h.mgr.Count() != 1 {
		t.Errorf("expected 1 live session, got %d", h.mgr.Count())
	}

	res, err := h.mgr.Ingest(ctx, tenant, id, caller("what is your pin number"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.State.RiskScore != 40 || len(res.Alerts) != 1 {
		t.Errorf("expected score 40 with one alert, got %d/%d", res.State.RiskScore, len(res.Alerts))
	}

	report, err := h.mgr.Stop(ctx, tenant, id)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if report.CallID != "call-9" || report.FinalScore != 40 {
		t.Errorf("unexpected report: %+v", report)
	}

	t.Run("LeavesRegistry", func(t *testing.T) {
		if h.mgr.Count() != 0 {
			t.Errorf("expected no live sessions, got %d", h.mgr.Count())
		}
		if _, err := h.mgr.Get(tenant, id); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
		if _, err := h.mgr.Ingest(ctx, tenant, id, caller("cvv")); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound on ingest, got %v", err)
		}
	})

	t.Run("ReportArchived", func(t *testing.T) {
		stored, err := h.repo.GetReport(ctx, tenant, id)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if stored.FinalScore != 40 || len(stored.Alerts) != 1 {
			t.Errorf("unexpected stored report: %+v", stored)
		}

		again, err := h.mgr.Stop(ctx, tenant, id)
		if err != nil || again == nil || again.SessionID != id {
			t.Errorf("expected archived report on second stop, got %v / %v", again, err)
		}
	})

	t.Run("ReportAndAlertPublished", func(t *testing.T) {
		waitFor(t, "published report", func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(published) == 1 && alerts == 1
		})
		mu.Lock()
		defer mu.Unlock()
		if published[0].SessionID != id {
			t.Errorf("expected report for %s, got %s", id, published[0].SessionID)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		st := h.mgr.Stats()
		if st.Live != 0 || st.Started != 1 || st.Alerts != 1 || st.Reports != 1 {
			t.Errorf("unexpected stats: %+v", st)
		}
	})

	t.Run("SnapshotServedFromCache", func(t *testing.T) {
		waitFor(t, "stopped snapshot cached", func() bool {
			s, _ := h.cache.GetSnapshot(ctx, tenant, id)
			return s != nil && s.Status == domain.StatusStopped
		})
		state, err := h.mgr.Snapshot(ctx, tenant, id)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if state.RiskScore != 40 || state.Status != domain.StatusStopped {
			t.Errorf("unexpected cached snapshot: %+v", state)
		}
	})
}

func TestManagerIsolation(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	a, err := h.mgr.Start(ctx, StartRequest{TenantID: "tenant-a", SessionID: "same", Source: "push"})
	if err != nil {
		t.Fatalf("Start a failed: %v", err)
	}
	b, err := h.mgr.Start(ctx, StartRequest{TenantID: "tenant-b", SessionID: "same", Source: "push"})
	if err != nil {
		t.Fatalf("Start b failed: %v", err)
	}

	h.mgr.Ingest(ctx, "tenant-a", "same", caller("give me your bank account and your social security number"))

	if got := a.Snapshot().RiskScore; got != 80 {
		t.Errorf("expected tenant-a score 80, got %d", got)
	}
	if got := b.Snapshot().RiskScore; got != 0 {
		t.Errorf("expected tenant-b untouched, got %d", got)
	}

	_, err = h.mgr.Start(ctx, StartRequest{TenantID: "tenant-a", SessionID: "same", Source: "push"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected duplicate start to fail with ErrInvalidState, got %v", err)
	}
}

func TestManagerStartErrors(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	if _, err := h.mgr.Start(ctx, StartRequest{TenantID: "t", Source: "fax"}); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
	if _, err := h.mgr.Start(ctx, StartRequest{Source: "push"}); err == nil {
		t.Error("expected error for missing tenant")
	}
	if h.mgr.Count() != 0 {
		t.Errorf("failed starts should not register sessions, got %d", h.mgr.Count())
	}
}

func TestManagerScriptedSessionEndsItself(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	ctrl, err := h.mgr.Start(ctx, StartRequest{TenantID: "tenant-001", Source: "scripted"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := ctrl.ID()

	waitFor(t, "scripted session to finish", func() bool { return h.mgr.Count() == 0 })

	report, err := h.repo.GetReport(ctx, "tenant-001", id)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if report.EndReason != domain.EndChannelClosed {
		t.Errorf("expected channel_closed, got %s", report.EndReason)
	}
	if report.FinalScore != 40 || len(report.Transcript) != 1 {
		t.Errorf("unexpected report: score %d, transcript %d", report.FinalScore, len(report.Transcript))
	}
}

func TestManagerStopAll(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		if _, err := h.mgr.Start(ctx, StartRequest{TenantID: "tenant-001", SessionID: id, Source: "push"}); err != nil {
			t.Fatalf("Start %s failed: %v", id, err)
		}
	}

	if n := h.mgr.StopAll(ctx); n != 3 {
		t.Errorf("expected 3 sessions stopped, got %d", n)
	}
	if h.mgr.Count() != 0 {
		t.Errorf("expected empty registry, got %d", h.mgr.Count())
	}

	report, err := h.repo.GetReport(ctx, "tenant-001", "two")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if report.EndReason != domain.EndShutdown {
		t.Errorf("expected shutdown reason, got %s", report.EndReason)
	}
}
