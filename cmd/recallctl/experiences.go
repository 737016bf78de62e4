package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/episodic"
	"github.com/fyrsmithlabs/recalld/internal/store"
)

var (
	// record command flags
	recOperationType string
	recOutcome       string
	recServerName    string
	recNotes         string
	recQuality       float64
	recDurationMS    int64
	recProblem       string
	recSolution      string

	// recall command flags
	recallType    string
	recallOutcome string
	recallLimit   int
)

func init() {
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(recallCmd)

	recordCmd.Flags().StringVar(&recOperationType, "type", "", "Operation type (required)")
	recordCmd.Flags().StringVar(&recOutcome, "outcome", "", "Outcome: success, failure, or partial (required)")
	recordCmd.Flags().StringVar(&recServerName, "server-name", "", "Server the operation ran against")
	recordCmd.Flags().StringVar(&recNotes, "notes", "", "Free-form notes")
	recordCmd.Flags().Float64Var(&recQuality, "quality", -1, "Quality score in [0,1]")
	recordCmd.Flags().Int64Var(&recDurationMS, "duration-ms", -1, "Operation duration in milliseconds")
	recordCmd.Flags().StringVar(&recProblem, "problem", "", "Problem description as JSON object")
	recordCmd.Flags().StringVar(&recSolution, "solution", "", "Solution description as JSON object")
	_ = recordCmd.MarkFlagRequired("type")
	_ = recordCmd.MarkFlagRequired("outcome")

	recallCmd.Flags().StringVar(&recallType, "type", "", "Recall episodes of this operation type")
	recallCmd.Flags().StringVar(&recallOutcome, "outcome", "", "Filter or recall by outcome")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 20, "Maximum number of episodes to return")
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an experience",
	Long: `Record one operation experience as an episode.

Examples:
  # Record a successful deployment
  recallctl record --type deploy --outcome success --server-name web-1

  # Record a failure with structured detail
  recallctl record --type migrate --outcome failure \
    --problem '{"error":"lock timeout"}' \
    --solution '{"action":"retried off-peak"}'`,
	RunE: runRecord,
}

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall episodes and related patterns",
	Long: `Recall episodes by operation type or by outcome.

Examples:
  # Recall deployment episodes
  recallctl recall --type deploy

  # Recall failures across all operation types
  recallctl recall --outcome failure --limit 10`,
	RunE: runRecall,
}

func runRecord(cmd *cobra.Command, args []string) error {
	req := episodic.RecordRequest{
		OperationType: recOperationType,
		Outcome:       store.Outcome(recOutcome),
		ServerName:    recServerName,
		Notes:         recNotes,
	}
	if recQuality >= 0 {
		req.QualityScore = &recQuality
	}
	if recDurationMS >= 0 {
		req.DurationMS = &recDurationMS
	}

	var err error
	if req.Problem, err = parsePayload(recProblem, "problem"); err != nil {
		return err
	}
	if req.Solution, err = parsePayload(recSolution, "solution"); err != nil {
		return err
	}

	var result episodic.RecordResult
	if err := postJSON("/api/experiences", req, 201, &result); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(result)
	}

	fmt.Printf("Recorded episode %d\n", result.EpisodeID)
	fmt.Printf("  utility:          %.3f\n", result.UtilityScore)
	fmt.Printf("  novelty:          %.3f\n", result.NoveltyScore)
	fmt.Printf("  effectiveness:    %.3f\n", result.EffectivenessScore)
	fmt.Printf("  generalizability: %.3f\n", result.GeneralizabilityScore)
	for _, p := range result.Patterns {
		verb := "refreshed"
		if p.Created {
			verb = "detected"
		}
		fmt.Printf("  pattern %s: [%d] %s\n", verb, p.PatternID, p.Description)
	}
	return nil
}

func parsePayload(raw, name string) (store.Payload, error) {
	if raw == "" {
		return nil, nil
	}
	var payload store.Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", name, err)
	}
	return payload, nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	if recallType == "" && recallOutcome == "" {
		return fmt.Errorf("either --type or --outcome is required")
	}

	query := url.Values{}
	if recallType != "" {
		query.Set("type", recallType)
	}
	if recallOutcome != "" {
		query.Set("outcome", recallOutcome)
	}
	query.Set("limit", strconv.Itoa(recallLimit))

	var result episodic.RecallResult
	if err := getJSON("/api/recall?"+query.Encode(), &result); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(result)
	}

	if len(result.Episodes) == 0 {
		fmt.Println("No episodes found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tTYPE\tOUTCOME\tSERVER\tUTILITY")
	for _, e := range result.Episodes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.3f\n",
			e.ID,
			e.Timestamp.Format("2006-01-02 15:04"),
			e.OperationType,
			e.Outcome,
			e.ServerName,
			e.UtilityScore)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nAverage utility: %.3f\n", result.AverageUtility)
	for _, p := range result.Patterns {
		fmt.Printf("Pattern [%d] %s (%s, seen %dx)\n", p.ID, p.Description, p.PatternType, p.Frequency)
	}
	return nil
}
