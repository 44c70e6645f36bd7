package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/repository"
	"github.com/opensource-finance/callshield/internal/rules"
	"github.com/opensource-finance/callshield/internal/session"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	sessions *session.Manager
	matcher  *rules.Matcher
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(sessions *session.Manager, matcher *rules.Matcher, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		sessions: sessions,
		matcher:  matcher,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		version:  version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// StartSessionRequest is the request body for POST /sessions.
type StartSessionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	CallID    string `json:"callId,omitempty"`
	Source    string `json:"source,omitempty"`
}

// FragmentRequest is the request body for POST /sessions/{id}/fragments.
type FragmentRequest struct {
	Text      string      `json:"text"`
	Speaker   domain.Role `json:"speaker,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

// FragmentResponse is the response for POST /sessions/{id}/fragments.
type FragmentResponse struct {
	State  domain.SessionState `json:"state"`
	Events []domain.MatchEvent `json:"events"`
	Alerts []domain.Alert      `json:"alerts"`
}

// StartSession handles POST /sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	if req.Source == "" {
		req.Source = "push"
	}

	ctrl, err := h.sessions.Start(ctx, session.StartRequest{
		TenantID:  tenantID,
		SessionID: req.SessionID,
		CallID:    req.CallID,
		Source:    req.Source,
	})
	if err != nil {
		slog.Warn("failed to start session",
			"tenant_id", tenantID,
			"source", req.Source,
			"error", err,
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.sessions.Snapshot(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// IngestFragment handles POST /sessions/{id}/fragments.
func (h *Handler) IngestFragment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	sessionID := chi.URLParam(r, "id")

	var req FragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Speaker != "" && !req.Speaker.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "speaker must be caller or shield",
		})
		return
	}

	fragment := domain.TranscriptFragment{Text: req.Text, Speaker: req.Speaker}
	if req.Timestamp != nil {
		fragment.Timestamp = *req.Timestamp
	}

	res, err := h.sessions.Ingest(ctx, tenantID, sessionID, fragment)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := FragmentResponse{State: res.State, Events: res.Events, Alerts: res.Alerts}
	if resp.Events == nil {
		resp.Events = []domain.MatchEvent{}
	}
	if resp.Alerts == nil {
		resp.Alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// StopSession handles POST /sessions/{id}/stop. Stopping twice returns the
// same report.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.sessions.Stop(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if report == nil {
		// Stopping an idle session produces nothing to report.
		writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusIdle)})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SessionEvents handles GET /sessions/{id}/events. It upgrades to a
// WebSocket and streams session updates as JSON until the session stops
// or the client goes away.
func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	sessionID := chi.URLParam(r, "id")

	ctrl, err := h.sessions.Get(tenantID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := ctrl.Subscribe(64)
	defer unsubscribe()

	// The client never sends anything we act on; reading detects its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	first := session.Update{Type: session.UpdateSnapshot, State: ctrl.Snapshot()}
	if first.State.Status == domain.StatusStopped {
		first.Type = session.UpdateStopped
		first.Report = ctrl.Report()
	}
	if err := conn.WriteJSON(first); err != nil || first.Type == session.UpdateStopped {
		return
	}

	for {
		select {
		case <-gone:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(u); err != nil {
				slog.Debug("websocket write failed", "session_id", sessionID, "error", err)
				return
			}
			if u.Type == session.UpdateStopped {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

// ListReports handles GET /reports.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	reports, err := h.repo.ListReports(ctx, GetTenantID(ctx), limit)
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reports",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetReport handles GET /reports/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	sessionID := chi.URLParam(r, "id")
	report, err := h.repo.GetReport(ctx, GetTenantID(ctx), sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get report", "id", sessionID, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListPatterns returns the patterns loaded into the matcher.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := h.matcher.Patterns()
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// CreatePattern validates and stores a pattern shared by all tenants.
// Stored patterns are loaded on the next start.
func (h *Handler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p domain.SensitivePattern
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	p.TenantID = domain.GlobalTenantID

	if err := rules.ValidatePattern(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.SavePattern(ctx, domain.GlobalTenantID, &p); err != nil {
		slog.Error("failed to save pattern", "id", p.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save pattern",
		})
		return
	}

	slog.Info("pattern saved", "id", p.ID, "category", p.Category)
	writeJSON(w, http.StatusCreated, map[string]any{
		"pattern": p,
		"message": "Pattern saved. It applies to sessions after the next restart.",
	})
}

// Health reports the state of the backing stores.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports readiness and the number of live sessions.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":    true,
		"sessions": h.sessions.Count(),
		"patterns": h.matcher.Count(),
	})
}

// statusFor maps session and repository errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrUnknownSource), errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
