// Package main implements the recallctl CLI for manual operations against
// the recalld HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the recalld HTTP server
	serverURL string
	// outputJSON switches human-readable output to raw JSON
	outputJSON bool
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recallctl",
	Short: "CLI for recalld episodic memory operations",
	Long: `recallctl is a command-line interface for the recalld daemon.
It records experiences, recalls episodes and lessons, and runs maintenance.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9177", "recalld server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check recalld server health",
	Long: `Check the health status of the recalld HTTP server.

Examples:
  # Check health
  recallctl health

  # Check health on a different server
  recallctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// statsCmd prints store statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show episodic memory statistics",
	RunE:  runStats,
}

// HealthResponse matches internal/httpapi/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse matches internal/store Stats
type StatsResponse struct {
	TotalEpisodes     int64            `json:"total_episodes"`
	EpisodesByOutcome map[string]int64 `json:"episodes_by_outcome"`
	AverageUtility    float64          `json:"average_utility"`
	TotalPatterns     int64            `json:"total_patterns"`
	ActiveLessons     int64            `json:"active_lessons"`
	DeprecatedLessons int64            `json:"deprecated_lessons"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/healthz", &health); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats StatsResponse
	if err := getJSON("/api/stats", &stats); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(stats)
	}

	fmt.Printf("Episodes:           %d\n", stats.TotalEpisodes)
	for outcome, count := range stats.EpisodesByOutcome {
		fmt.Printf("  %-17s %d\n", outcome+":", count)
	}
	fmt.Printf("Average utility:    %.3f\n", stats.AverageUtility)
	fmt.Printf("Patterns:           %d\n", stats.TotalPatterns)
	fmt.Printf("Active lessons:     %d\n", stats.ActiveLessons)
	fmt.Printf("Deprecated lessons: %d\n", stats.DeprecatedLessons)
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// getJSON issues a GET against the server and decodes the response body.
func getJSON(path string, out any) error {
	url := serverURL + path
	resp, err := httpClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON issues a POST with a JSON body and decodes the response body when
// out is non-nil.
func postJSON(path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := serverURL + path
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, wantStatus); err != nil {
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
