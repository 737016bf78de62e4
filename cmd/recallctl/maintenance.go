package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/episodic"
)

var cleanupRetentionDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "Retention window in days (0 uses the server default)")
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the retention sweep",
	Long: `Run the retention sweep: delete old episodes, delete long-unseen
patterns, and deprecate stale unused lessons.

Examples:
  # Sweep with the server's configured retention
  recallctl cleanup

  # Sweep with an explicit window
  recallctl cleanup --retention-days 30`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	req := struct {
		RetentionDays int `json:"retention_days"`
	}{RetentionDays: cleanupRetentionDays}

	var result episodic.CleanupResult
	if err := postJSON("/api/maintenance/cleanup", req, 200, &result); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(result)
	}

	fmt.Printf("Episodes deleted:   %d\n", result.EpisodesDeleted)
	fmt.Printf("Patterns deleted:   %d\n", result.PatternsDeleted)
	fmt.Printf("Lessons deprecated: %d\n", result.LessonsDeprecated)
	return nil
}
