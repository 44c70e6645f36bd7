// Replay tool for measuring CallShield against labeled call transcripts.
//
// Usage:
//   go run ./cmd/replay -csv /path/to/calls.csv -url http://localhost:8080
//
// This tool:
//   1. Reads transcript lines grouped by call, each call labeled scam or not
//   2. Replays every call as a push session through the HTTP API
//   3. Flags a call when its final risk score reaches the threshold
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	csvPath := flag.String("csv", "", "Path to labeled transcript CSV")
	baseURL := flag.String("url", "http://localhost:8080", "CallShield base URL")
	tenantID := flag.String("tenant", "replay-test", "Tenant ID for requests")
	limit := flag.Int("limit", 1000, "Maximum calls to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent sessions")
	threshold := flag.Int("threshold", 50, "Final score at which a call counts as flagged")
	verbose := flag.Bool("verbose", false, "Print each call result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/calls.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          CALLSHIELD REPLAY - Scam Call Detection              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Server URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %d\n", *threshold)
	fmt.Println()

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: CallShield not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure CallShield is running:")
		fmt.Println("  go run ./cmd/callshield")
		os.Exit(1)
	}
	fmt.Println("✓ CallShield is healthy")

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	calls, err := readCalls(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(calls) == 0 {
		fmt.Println("ERROR: no calls in CSV")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d calls\n", len(calls))

	scamCount := 0
	for _, c := range calls {
		if c.IsScam {
			scamCount++
		}
	}
	fmt.Printf("  - Scam:       %d (%.2f%%)\n", scamCount, 100*float64(scamCount)/float64(len(calls)))
	fmt.Printf("  - Legitimate: %d (%.2f%%)\n", len(calls)-scamCount, 100*float64(len(calls)-scamCount)/float64(len(calls)))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	replayer := &Replayer{
		BaseURL:   *baseURL,
		TenantID:  *tenantID,
		Threshold: *threshold,
		Client:    client,
	}
	startTime := time.Now()
	metrics := run(replayer, calls, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Scam:       %d\n", m.TotalScam)
	fmt.Printf("   Total Legitimate: %d\n", m.TotalLegit)
	fmt.Printf("   Alerts Raised:    %d\n", m.TotalAlerts)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FLAGGED     PASSED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged calls, how many were scams)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of scams, how many did we flag)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Call Replay:  %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f calls/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}
