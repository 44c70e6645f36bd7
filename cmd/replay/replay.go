package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

// LabeledCall is one call from the replay dataset.
type LabeledCall struct {
	CallID string
	Lines  []Line
	IsScam bool
}

// Line is a single utterance of a labeled call.
type Line struct {
	Speaker domain.Role
	Text    string
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // Scam flagged
	FalsePositives int64 // Legitimate call flagged
	TrueNegatives  int64 // Legitimate call passed
	FalseNegatives int64 // Scam missed

	TotalProcessed int64
	TotalScam      int64
	TotalLegit     int64
	TotalErrors    int64
	TotalAlerts    int64

	ProcessingTimeMs int64
}

func (m *Metrics) record(call LabeledCall, predicted bool, alerts int) {
	atomic.AddInt64(&m.TotalAlerts, int64(alerts))
	if call.IsScam {
		atomic.AddInt64(&m.TotalScam, 1)
	} else {
		atomic.AddInt64(&m.TotalLegit, 1)
	}

	switch {
	case predicted && call.IsScam:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted:
		atomic.AddInt64(&m.FalsePositives, 1)
	case call.IsScam:
		atomic.AddInt64(&m.FalseNegatives, 1)
	default:
		atomic.AddInt64(&m.TrueNegatives, 1)
	}
}

// Precision is the share of flagged calls that were scams.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is the share of scams that were flagged.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// readCalls parses a transcript CSV with call_id, speaker, text and is_scam
// columns. Rows of one call must be contiguous or at least ordered; calls
// keep the order of their first row.
func readCalls(r io.Reader, limit int) ([]LabeledCall, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"call_id", "text", "is_scam"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	speakerCol, hasSpeaker := colIndex["speaker"]

	var calls []LabeledCall
	index := make(map[string]int)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		if len(record) < len(header) {
			continue
		}

		callID := record[colIndex["call_id"]]
		i, seen := index[callID]
		if !seen {
			if limit > 0 && len(calls) >= limit {
				continue
			}
			i = len(calls)
			index[callID] = i
			calls = append(calls, LabeledCall{CallID: callID})
		}

		speaker := domain.RoleCaller
		if hasSpeaker && domain.Role(record[speakerCol]).Valid() {
			speaker = domain.Role(record[speakerCol])
		}
		calls[i].Lines = append(calls[i].Lines, Line{Speaker: speaker, Text: record[colIndex["text"]]})

		switch strings.ToLower(record[colIndex["is_scam"]]) {
		case "1", "true", "yes":
			calls[i].IsScam = true
		}
	}

	return calls, nil
}

// Replayer plays labeled calls against a running service as push sessions.
type Replayer struct {
	BaseURL   string
	TenantID  string
	Threshold int
	Client    *http.Client
}

// Result is the outcome of one replayed call.
type Result struct {
	Report    domain.SessionReport
	Predicted bool
}

// Replay starts a session for the call, submits every line and stops it.
func (p *Replayer) Replay(call LabeledCall) (*Result, error) {
	var state domain.SessionState
	if err := p.post("/sessions", map[string]string{"callId": call.CallID, "source": "push"}, http.StatusCreated, &state); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	base := "/sessions/" + state.SessionID
	for _, line := range call.Lines {
		body := map[string]string{"text": line.Text, "speaker": string(line.Speaker)}
		if err := p.post(base+"/fragments", body, http.StatusOK, nil); err != nil {
			return nil, fmt.Errorf("submit fragment: %w", err)
		}
	}

	var res Result
	if err := p.post(base+"/stop", nil, http.StatusOK, &res.Report); err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}
	res.Predicted = res.Report.FinalScore >= p.Threshold
	return &res, nil
}

func (p *Replayer) post(path string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(http.MethodPost, p.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", p.TenantID)

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// run replays calls with numWorkers concurrent sessions.
func run(p *Replayer, calls []LabeledCall, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledCall, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for call := range work {
				start := time.Now()
				res, err := p.Replay(call)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", call.CallID, err)
					}
					continue
				}

				metrics.record(call, res.Predicted, len(res.Report.Alerts))

				if verbose {
					status := "✓"
					if res.Predicted != call.IsScam {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Lines: %3d | Scam: %-5v | Score: %3d %-8s | Alerts: %d\n",
						status,
						call.CallID,
						len(call.Lines),
						call.IsScam,
						res.Report.FinalScore,
						res.Report.ThreatLevel,
						len(res.Report.Alerts),
					)
				}
			}
		}()
	}

	for _, call := range calls {
		work <- call
	}
	close(work)

	wg.Wait()
	return metrics
}
