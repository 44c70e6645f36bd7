//go:build integration
// +build integration

// Package integration provides end-to-end tests for the CallShield service.
//
// These tests drive a running server through the complete session pipeline:
//
//	Transcript fragment → Pattern match → Risk score → Alert gate → Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. SESSION: One monitored phone call. It is started, fed transcript
// fragments, and stopped, at which point a report is archived.
//
// 2. PATTERN: A category of sensitive talk with keywords and a severity.
// The builtin set scores bank details and identity at 40, pressure at 20.
//
// 3. RISK SCORE: Each category counts once per call, capped at 100.
//   - 0 - 24   → LOW
//   - 25 - 49  → MEDIUM
//   - 50 - 79  → HIGH
//   - 80 - 100 → CRITICAL
//
// 4. ALERT: Bank and identity matches raise a critical alert, at most one
// per cooldown window (6 seconds by default).
//
// The server must run with the builtin patterns and default cooldown.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig(t *testing.T) TestConfig {
	baseURL := os.Getenv("CALLSHIELD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		// A fresh tenant keeps reruns from seeing earlier reports.
		TenantID: fmt.Sprintf("it-%s-%d", t.Name(), time.Now().UnixNano()),
	}
}

// ============================================================================
// API Types (matching the CallShield API contract)
// ============================================================================

type SessionState struct {
	SessionID   string   `json:"sessionId"`
	Status      string   `json:"status"`
	RiskScore   int      `json:"riskScore"`
	ThreatLevel string   `json:"threatLevel"`
	LeaksSeen   []string `json:"leaksSeen"`
	AlertCount  int      `json:"alertCount"`
}

type Alert struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Keyword  string `json:"keyword"`
}

type FragmentResponse struct {
	State  SessionState `json:"state"`
	Events []struct {
		Category string `json:"category"`
		Keyword  string `json:"keyword"`
	} `json:"events"`
	Alerts []Alert `json:"alerts"`
}

type SessionReport struct {
	SessionID     string   `json:"sessionId"`
	CallID        string   `json:"callId"`
	FinalScore    int      `json:"finalScore"`
	ThreatLevel   string   `json:"threatLevel"`
	LeaksDetected []string `json:"leaksDetected"`
	Alerts        []Alert  `json:"alerts"`
	EndReason     string   `json:"endReason"`
	Transcript    []struct {
		Text    string `json:"text"`
		Speaker string `json:"speaker"`
	} `json:"transcript"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, body any, want int, out any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	req, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, want, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

func startSession(t *testing.T, config TestConfig, source string) SessionState {
	t.Helper()
	var state SessionState
	call(t, config, http.MethodPost, "/sessions", map[string]string{"source": source, "callId": "it-call"}, http.StatusCreated, &state)
	if state.Status != "listening" {
		t.Fatalf("Expected listening session, got %s", state.Status)
	}
	return state
}

func say(t *testing.T, config TestConfig, sessionID, text string) FragmentResponse {
	t.Helper()
	var resp FragmentResponse
	call(t, config, http.MethodPost, "/sessions/"+sessionID+"/fragments",
		map[string]string{"text": text, "speaker": "caller"}, http.StatusOK, &resp)
	return resp
}

func stop(t *testing.T, config TestConfig, sessionID string) SessionReport {
	t.Helper()
	var report SessionReport
	call(t, config, http.MethodPost, "/sessions/"+sessionID+"/stop", nil, http.StatusOK, &report)
	return report
}

// ============================================================================
// SCENARIO 1: Ordinary Call (No Alerts)
// ============================================================================

func TestOrdinaryCall_NoAlert(t *testing.T) {
	/*
	   SCENARIO: A pharmacy reminder with nothing sensitive in it

	   EXPECTED BEHAVIOR:
	   - No pattern matches, score stays 0, threat level LOW
	   - The archived report has the full transcript and no alerts
	*/
	config := getTestConfig(t)
	s := startSession(t, config, "push")

	resp := say(t, config, s.SessionID, "Hi, your prescription is ready for pickup.")
	if len(resp.Events) != 0 || len(resp.Alerts) != 0 {
		t.Errorf("Expected no matches, got %d events and %d alerts", len(resp.Events), len(resp.Alerts))
	}

	report := stop(t, config, s.SessionID)
	if report.FinalScore != 0 || report.ThreatLevel != "LOW" {
		t.Errorf("Expected LOW/0, got %s/%d", report.ThreatLevel, report.FinalScore)
	}
	if report.EndReason != "user_stop" {
		t.Errorf("Expected user_stop, got %s", report.EndReason)
	}
	if len(report.Transcript) != 1 {
		t.Errorf("Expected 1 transcript line, got %d", len(report.Transcript))
	}

	t.Logf("✓ Ordinary call passed: level=%s, score=%d", report.ThreatLevel, report.FinalScore)
}

// ============================================================================
// SCENARIO 2: Bank Detail Request (Critical Alert)
// ============================================================================

func TestBankDetailRequest_Alert(t *testing.T) {
	/*
	   SCENARIO: The caller asks for an account number

	   EXPECTED BEHAVIOR:
	   - bank-info matches "account number" → +40 → MEDIUM
	   - First gated match in the call → one critical alert
	*/
	config := getTestConfig(t)
	s := startSession(t, config, "push")

	resp := say(t, config, s.SessionID, "Can you confirm your account number for me?")
	if resp.State.RiskScore != 40 || resp.State.ThreatLevel != "MEDIUM" {
		t.Errorf("Expected MEDIUM/40, got %s/%d", resp.State.ThreatLevel, resp.State.RiskScore)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].Category != "bank_info" {
		t.Fatalf("Expected one bank_info alert, got %+v", resp.Alerts)
	}
	if resp.Alerts[0].Title != "BANK ACCOUNT EXPOSURE" {
		t.Errorf("Unexpected alert title %q", resp.Alerts[0].Title)
	}

	stop(t, config, s.SessionID)
	t.Logf("✓ Bank detail request alerted: keyword=%s", resp.Alerts[0].Keyword)
}

// ============================================================================
// SCENARIO 3: Escalating Scam (Cooldown + Once-Per-Category Scoring)
// ============================================================================

func TestEscalatingScam_Cooldown(t *testing.T) {
	/*
	   SCENARIO: Pressure, then bank details, then identity in quick succession

	   EXPECTED BEHAVIOR:
	   - "urgent" → scam_pressure +20, never alerts
	   - "account number" → bank_info +40 → alert #1
	   - "social security" → personal_id +40 → inside cooldown, no alert
	   - repeating the account number scores nothing new
	   - Final score 100 → CRITICAL
	*/
	config := getTestConfig(t)
	s := startSession(t, config, "push")

	if resp := say(t, config, s.SessionID, "This is urgent, your card was charged."); len(resp.Alerts) != 0 {
		t.Errorf("Pressure language should not alert")
	}
	if resp := say(t, config, s.SessionID, "Read me your account number."); len(resp.Alerts) != 1 {
		t.Fatalf("Expected first alert, got %d", len(resp.Alerts))
	}
	if resp := say(t, config, s.SessionID, "Now your social security number."); len(resp.Alerts) != 0 {
		t.Errorf("Expected cooldown to suppress the second alert")
	}
	resp := say(t, config, s.SessionID, "Once more, the account number please.")
	if resp.State.RiskScore != 100 {
		t.Errorf("Expected score 100, got %d", resp.State.RiskScore)
	}

	report := stop(t, config, s.SessionID)
	if report.ThreatLevel != "CRITICAL" || len(report.Alerts) != 1 || len(report.LeaksDetected) != 3 {
		t.Errorf("Unexpected report: level=%s alerts=%d leaks=%v", report.ThreatLevel, len(report.Alerts), report.LeaksDetected)
	}

	t.Logf("✓ Escalating scam: score=%d, alerts=%d", report.FinalScore, len(report.Alerts))
}

// ============================================================================
// SCENARIO 4: Stop Is Idempotent And Reports Are Archived
// ============================================================================

func TestStopIdempotent_ReportArchived(t *testing.T) {
	config := getTestConfig(t)
	s := startSession(t, config, "push")
	say(t, config, s.SessionID, "What is your date of birth?")

	first := stop(t, config, s.SessionID)
	second := stop(t, config, s.SessionID)
	if first.SessionID != second.SessionID || first.FinalScore != second.FinalScore {
		t.Errorf("Expected the same report twice, got %+v and %+v", first, second)
	}

	// Fragments after stop are rejected.
	call(t, config, http.MethodPost, "/sessions/"+s.SessionID+"/fragments",
		map[string]string{"text": "hello"}, http.StatusNotFound, nil)

	var archived SessionReport
	call(t, config, http.MethodGet, "/reports/"+s.SessionID, nil, http.StatusOK, &archived)
	if archived.FinalScore != 40 || archived.CallID != "it-call" {
		t.Errorf("Unexpected archived report: %+v", archived)
	}
}

// ============================================================================
// SCENARIO 5: Tenant Isolation
// ============================================================================

func TestTenantIsolation(t *testing.T) {
	config := getTestConfig(t)
	s := startSession(t, config, "push")
	defer stop(t, config, s.SessionID)

	other := config
	other.TenantID = config.TenantID + "-other"
	call(t, other, http.MethodGet, "/sessions/"+s.SessionID, nil, http.StatusNotFound, nil)
	call(t, other, http.MethodPost, "/sessions/"+s.SessionID+"/fragments",
		map[string]string{"text": "account number"}, http.StatusNotFound, nil)
}

// ============================================================================
// SCENARIO 6: Simulated Scam Call Ends On Its Own
// ============================================================================

func TestSimulatedCall(t *testing.T) {
	/*
	   SCENARIO: The built-in demo script plays a scam call end to end

	   EXPECTED BEHAVIOR:
	   - The session stops itself when the script ends (channel_closed)
	   - All three categories are seen → CRITICAL
	*/
	if testing.Short() {
		t.Skip("simulated call takes several seconds")
	}
	config := getTestConfig(t)
	s := startSession(t, config, "simulated")

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		var list struct {
			Reports []SessionReport `json:"reports"`
		}
		call(t, config, http.MethodGet, "/reports", nil, http.StatusOK, &list)
		for _, r := range list.Reports {
			if r.SessionID != s.SessionID {
				continue
			}
			if r.EndReason != "channel_closed" || r.ThreatLevel != "CRITICAL" {
				t.Errorf("Unexpected simulated report: reason=%s level=%s", r.EndReason, r.ThreatLevel)
			}
			t.Logf("✓ Simulated call archived: score=%d, alerts=%d", r.FinalScore, len(r.Alerts))
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("simulated call never produced a report")
}
