package main

import (
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
	// lessons command flags
	lsMinConfidence float64
	lsOperationType string
	lsContext       string

	// learn command flags
	learnPattern   string
	learnStatement string
	learnEpisodes  []int64

	// apply command flags
	applyOutcome string
)

func init() {
	rootCmd.AddCommand(lessonsCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(deprecateCmd)

	lessonsCmd.Flags().Float64Var(&lsMinConfidence, "min-confidence", 0, "Minimum decayed confidence")
	lessonsCmd.Flags().StringVar(&lsOperationType, "type", "", "Filter by operation type")
	lessonsCmd.Flags().StringVar(&lsContext, "context", "", "Comma-separated context keywords")

	learnCmd.Flags().StringVar(&learnPattern, "pattern", "", "Pattern description (required)")
	learnCmd.Flags().StringVar(&learnStatement, "statement", "", "Lesson statement (required)")
	learnCmd.Flags().Int64SliceVar(&learnEpisodes, "episodes", nil, "Supporting episode ids (at least 3)")
	_ = learnCmd.MarkFlagRequired("pattern")
	_ = learnCmd.MarkFlagRequired("statement")
	_ = learnCmd.MarkFlagRequired("episodes")

	applyCmd.Flags().StringVar(&applyOutcome, "outcome", "", "Outcome of applying the lesson: success, failure, or partial (required)")
	_ = applyCmd.MarkFlagRequired("outcome")
}

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "List active lessons",
	Long: `List active lessons ranked by decayed confidence.

Examples:
  # All active lessons
  recallctl lessons

  # High-confidence deployment lessons
  recallctl lessons --type deploy --min-confidence 0.7

  # Lessons relevant to a context
  recallctl lessons --context canary,rollback`,
	RunE: runLessons,
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Distill a lesson from episodes",
	Long: `Distill a lesson from a pattern's supporting episodes.

Examples:
  recallctl learn \
    --pattern "deploys succeed after draining connections" \
    --statement "Drain connections before restarting" \
    --episodes 12,15,19`,
	RunE: runLearn,
}

var applyCmd = &cobra.Command{
	Use:   "apply <lesson-id>",
	Short: "Record the outcome of applying a lesson",
	Long: `Record one application of a lesson and fold the outcome into its
confidence.

Examples:
  recallctl apply 7 --outcome success
  recallctl apply 7 --outcome failure`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

var deprecateCmd = &cobra.Command{
	Use:   "deprecate <lesson-id>",
	Short: "Deprecate a lesson",
	Long: `Permanently exclude a lesson from active queries.

Examples:
  recallctl deprecate 7`,
	Args: cobra.ExactArgs(1),
	RunE: runDeprecate,
}

func runLessons(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if lsMinConfidence > 0 {
		query.Set("min_confidence", strconv.FormatFloat(lsMinConfidence, 'f', -1, 64))
	}
	if lsOperationType != "" {
		query.Set("operation_type", lsOperationType)
	}
	if lsContext != "" {
		query.Set("context", lsContext)
	}

	path := "/api/lessons"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var report episodic.LessonReport
	if err := getJSON(path, &report); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(report)
	}

	if len(report.Lessons) == 0 {
		fmt.Println("No active lessons")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONFIDENCE\tAPPLIED\tSTATEMENT")
	for _, lesson := range report.Lessons {
		fmt.Fprintf(w, "%d\t%.3f\t%d\t%s\n",
			lesson.ID, lesson.CurrentConfidence, lesson.TimesApplied, lesson.Statement)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nConfidence: %d high, %d medium, %d low\n",
		report.Summary.High, report.Summary.Medium, report.Summary.Low)
	return nil
}

func runLearn(cmd *cobra.Command, args []string) error {
	req := episodic.LearnRequest{
		PatternDescription: learnPattern,
		EpisodeIDs:         learnEpisodes,
		LessonStatement:    learnStatement,
	}

	var result episodic.LearnResult
	if err := postJSON("/api/lessons", req, 201, &result); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(result)
	}

	fmt.Printf("Learned lesson %d (pattern %d, initial confidence %.3f)\n",
		result.LessonID, result.PatternID, result.InitialConfidence)
	for _, c := range result.Contexts {
		fmt.Printf("  context: %s\n", c)
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	lessonID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("lesson id must be an integer: %q", args[0])
	}

	req := struct {
		Outcome store.Outcome `json:"outcome"`
	}{Outcome: store.Outcome(applyOutcome)}

	var result episodic.ApplyResult
	if err := postJSON(fmt.Sprintf("/api/lessons/%d/apply", lessonID), req, 200, &result); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(result)
	}

	fmt.Printf("Applied lesson %d: confidence %.3f -> %.3f (%d applications, %.0f%% success)\n",
		result.LessonID, result.PreviousConfidence, result.NewConfidence,
		result.TimesApplied, result.SuccessRate*100)
	if result.Deprecated {
		fmt.Println("Lesson deprecated: confidence collapsed under repeated application")
	}
	return nil
}

func runDeprecate(cmd *cobra.Command, args []string) error {
	lessonID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("lesson id must be an integer: %q", args[0])
	}

	if err := postJSON(fmt.Sprintf("/api/lessons/%d/deprecate", lessonID), nil, 204, nil); err != nil {
		return err
	}
	fmt.Printf("Deprecated lesson %d\n", lessonID)
	return nil
}
