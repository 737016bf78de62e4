package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/recalld/internal/episodic"
	"github.com/fyrsmithlabs/recalld/internal/store"
)

type recordExperienceInput struct {
	OperationType string                 `json:"operation_type" jsonschema:"required,Type of operation performed (e.g. tool_call)"`
	Outcome       string                 `json:"outcome" jsonschema:"required,Outcome type (success failure or partial)"`
	ServerName    string                 `json:"server_name,omitempty" jsonschema:"Server the operation ran against"`
	Problem       map[string]interface{} `json:"problem,omitempty" jsonschema:"Problem description payload"`
	Solution      map[string]interface{} `json:"solution,omitempty" jsonschema:"Solution description payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" jsonschema:"Additional metadata (dependencies triggers)"`
	QualityScore  *float64               `json:"quality_score,omitempty" jsonschema:"Optional quality score (0-1)"`
	DurationMS    *int64                 `json:"duration_ms,omitempty" jsonschema:"Operation duration in milliseconds"`
	Notes         string                 `json:"notes,omitempty" jsonschema:"Free-form notes"`
}

type recordExperienceOutput struct {
	EpisodeID             int64                    `json:"episode_id" jsonschema:"ID of the recorded episode"`
	NoveltyScore          float64                  `json:"novelty_score" jsonschema:"How unusual the problem is"`
	EffectivenessScore    float64                  `json:"effectiveness_score" jsonschema:"Outcome effectiveness"`
	GeneralizabilityScore float64                  `json:"generalizability_score" jsonschema:"Transferability estimate"`
	UtilityScore          float64                  `json:"utility_score" jsonschema:"Weighted utility score"`
	Patterns              []map[string]interface{} `json:"patterns,omitempty" jsonschema:"Patterns created or refreshed"`
}

type recallByTypeInput struct {
	OperationType string `json:"operation_type" jsonschema:"required,Operation type to recall"`
	Outcome       string `json:"outcome,omitempty" jsonschema:"Optional outcome filter"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum episodes (default: 20)"`
}

type recallByOutcomeInput struct {
	Outcome       string `json:"outcome" jsonschema:"required,Outcome to recall (success failure or partial)"`
	OperationType string `json:"operation_type,omitempty" jsonschema:"Optional operation type filter"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum episodes (default: 20)"`
}

type recallOutput struct {
	Episodes       []map[string]interface{} `json:"episodes" jsonschema:"Matching episodes newest first"`
	Patterns       []map[string]interface{} `json:"patterns,omitempty" jsonschema:"Related patterns"`
	Count          int                      `json:"count" jsonschema:"Number of episodes returned"`
	AverageUtility float64                  `json:"avg_utility" jsonschema:"Average utility over the returned page"`
}

type getLessonsInput struct {
	Context       map[string]interface{} `json:"context,omitempty" jsonschema:"Context keys for loose keyword matching"`
	OperationType string                 `json:"operation_type,omitempty" jsonschema:"Optional operation type filter"`
	MinConfidence float64                `json:"min_confidence,omitempty" jsonschema:"Minimum decayed confidence (default: 0)"`
}

type getLessonsOutput struct {
	Lessons []map[string]interface{} `json:"lessons" jsonschema:"Matching lessons sorted by decayed confidence"`
	High    int                      `json:"high" jsonschema:"Lessons with confidence >= 0.7"`
	Medium  int                      `json:"medium" jsonschema:"Lessons with confidence in [0.4 0.7)"`
	Low     int                      `json:"low" jsonschema:"Lessons with confidence < 0.4"`
}

type applyLessonInput struct {
	LessonID int64  `json:"lesson_id" jsonschema:"required,ID of the lesson that was applied"`
	Outcome  string `json:"outcome" jsonschema:"required,Outcome of applying it (success failure or partial)"`
}

type applyLessonOutput struct {
	LessonID           int64   `json:"lesson_id" jsonschema:"Lesson ID"`
	PreviousConfidence float64 `json:"previous_confidence" jsonschema:"Confidence before the update"`
	NewConfidence      float64 `json:"new_confidence" jsonschema:"Confidence after the update"`
	TimesApplied       int     `json:"times_applied" jsonschema:"Total applications so far"`
	SuccessRate        float64 `json:"success_rate" jsonschema:"Observed success rate"`
	Deprecated         bool    `json:"deprecated" jsonschema:"Whether the lesson was auto-deprecated"`
}

type learnFromPatternInput struct {
	PatternDescription string  `json:"pattern_description" jsonschema:"required,Description of the observed pattern"`
	EpisodeIDs         []int64 `json:"episode_ids" jsonschema:"required,Supporting episode IDs (at least 3)"`
	LessonStatement    string  `json:"lesson_statement" jsonschema:"required,The lesson to distill"`
}

type learnFromPatternOutput struct {
	LessonID          int64    `json:"lesson_id" jsonschema:"ID of the new lesson"`
	PatternID         int64    `json:"pattern_id" jsonschema:"ID of the linked pattern"`
	InitialConfidence float64  `json:"initial_confidence" jsonschema:"Evidence-derived starting confidence"`
	Contexts          []string `json:"contexts,omitempty" jsonschema:"Context tags derived from the episodes"`
}

type cleanupInput struct {
	RetentionDays int `json:"retention_days,omitempty" jsonschema:"Retention window in days (default: 90)"`
}

type cleanupOutput struct {
	EpisodesDeleted   int64 `json:"episodes_deleted" jsonschema:"Episodes removed"`
	PatternsDeleted   int64 `json:"patterns_deleted" jsonschema:"Patterns removed"`
	LessonsDeprecated int64 `json:"lessons_deprecated" jsonschema:"Lessons deprecated (never deleted)"`
}

// instrument wraps a tool body with active-request and invocation metrics.
func instrument(s *Server, toolName string, ctx context.Context, body func() error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, toolName)
	err := body()
	s.metrics.DecrementActive(ctx, toolName)
	s.metrics.RecordInvocation(ctx, toolName, time.Since(start), err)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_experience",
		Description: "Record an operational experience as an episode, scoring it and mining patterns",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recordExperienceInput) (res *mcp.CallToolResult, out recordExperienceOutput, toolErr error) {
		instrument(s, "record_experience", ctx, func() error {
			result, err := s.svc.RecordExperience(ctx, &episodic.RecordRequest{
				OperationType: args.OperationType,
				Outcome:       store.Outcome(args.Outcome),
				ServerName:    args.ServerName,
				Problem:       store.Payload(args.Problem),
				Solution:      store.Payload(args.Solution),
				Metadata:      store.Payload(args.Metadata),
				QualityScore:  args.QualityScore,
				DurationMS:    args.DurationMS,
				Notes:         args.Notes,
			})
			if err != nil {
				toolErr = fmt.Errorf("record experience failed: %w", err)
				return toolErr
			}

			out = recordExperienceOutput{
				EpisodeID:             result.EpisodeID,
				NoveltyScore:          result.NoveltyScore,
				EffectivenessScore:    result.EffectivenessScore,
				GeneralizabilityScore: result.GeneralizabilityScore,
				UtilityScore:          result.UtilityScore,
			}
			for _, p := range result.Patterns {
				out.Patterns = append(out.Patterns, map[string]interface{}{
					"pattern_id":  p.PatternID,
					"description": p.Description,
					"created":     p.Created,
				})
			}
			res = textResult("Episode %d recorded (utility: %.2f)", out.EpisodeID, out.UtilityScore)
			return nil
		})
		return res, out, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recall_by_type",
		Description: "Recall episodes of an operation type with related patterns",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recallByTypeInput) (res *mcp.CallToolResult, out recallOutput, toolErr error) {
		instrument(s, "recall_by_type", ctx, func() error {
			limit := args.Limit
			if limit <= 0 {
				limit = 20
			}
			result, err := s.svc.RecallByType(ctx, args.OperationType, store.Outcome(args.Outcome), limit)
			if err != nil {
				toolErr = fmt.Errorf("recall failed: %w", err)
				return toolErr
			}
			out = recallToOutput(result)
			res = textResult("Recalled %d episodes of type %q", out.Count, args.OperationType)
			return nil
		})
		return res, out, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recall_by_outcome",
		Description: "Recall episodes by outcome, optionally narrowed to an operation type",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recallByOutcomeInput) (res *mcp.CallToolResult, out recallOutput, toolErr error) {
		instrument(s, "recall_by_outcome", ctx, func() error {
			limit := args.Limit
			if limit <= 0 {
				limit = 20
			}
			result, err := s.svc.RecallByOutcome(ctx, store.Outcome(args.Outcome), args.OperationType, limit)
			if err != nil {
				toolErr = fmt.Errorf("recall failed: %w", err)
				return toolErr
			}
			out = recallToOutput(result)
			res = textResult("Recalled %d episodes with outcome %q", out.Count, args.Outcome)
			return nil
		})
		return res, out, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_lessons",
		Description: "Get active lessons filtered by context and operation type, bucketed by confidence",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getLessonsInput) (res *mcp.CallToolResult, out getLessonsOutput, toolErr error) {
		instrument(s, "get_lessons", ctx, func() error {
			report, err := s.svc.Lessons(ctx, args.Context, args.OperationType, args.MinConfidence)
			if err != nil {
				toolErr = fmt.Errorf("get lessons failed: %w", err)
				return toolErr
			}

			out = getLessonsOutput{
				Lessons: make([]map[string]interface{}, 0, len(report.Lessons)),
				High:    report.Summary.High,
				Medium:  report.Summary.Medium,
				Low:     report.Summary.Low,
			}
			for _, view := range report.Lessons {
				out.Lessons = append(out.Lessons, lessonToMap(view))
			}
			res = textResult("Found %d lessons (%d high confidence)", len(out.Lessons), out.High)
			return nil
		})
		return res, out, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "apply_lesson",
		Description: "Report the outcome of applying a lesson, updating its confidence",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args applyLessonInput) (res *mcp.CallToolResult, out applyLessonOutput, toolErr error) {
		instrument(s, "apply_lesson", ctx, func() error {
			result, err := s.svc.ApplyLesson(ctx, args.LessonID, store.Outcome(args.Outcome))
			if err != nil {
				toolErr = fmt.Errorf("apply lesson failed: %w", err)
				return toolErr
			}

			out = applyLessonOutput{
				LessonID:           result.LessonID,
				PreviousConfidence: result.PreviousConfidence,
				NewConfidence:      result.NewConfidence,
				TimesApplied:       result.TimesApplied,
				SuccessRate:        result.SuccessRate,
				Deprecated:         result.Deprecated,
			}
			res = textResult("Lesson %d confidence: %.2f -> %.2f", out.LessonID, out.PreviousConfidence, out.NewConfidence)
			return nil
		})
		return res, out, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "learn_from_pattern",
		Description: "Distill a lesson from a pattern backed by at least three episodes",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args learnFromPatternInput) (res *mcp.CallToolResult, out learnFromPatternOutput, toolErr error) {
		instrument(s, "learn_from_pattern", ctx, func() error {
			result, err := s.svc.LearnFromPattern(ctx, &episodic.LearnRequest{
				PatternDescription: args.PatternDescription,
				EpisodeIDs:         args.EpisodeIDs,
				LessonStatement:    args.LessonStatement,
			})
			if err != nil {
				toolErr = fmt.Errorf("learn from pattern failed: %w", err)
				return toolErr
			}

			out = learnFromPatternOutput{
				LessonID:          result.LessonID,
				PatternID:         result.PatternID,
				InitialConfidence: result.InitialConfidence,
				Contexts:          result.Contexts,
			}
			res = textResult("Lesson %d learned (confidence: %.2f)", out.LessonID, out.InitialConfidence)
			return nil
		})
		return res, out, toolErr
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cleanup",
		Description: "Run the retention sweep: delete stale episodes and patterns, deprecate stale lessons",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args cleanupInput) (res *mcp.CallToolResult, out cleanupOutput, toolErr error) {
		instrument(s, "cleanup", ctx, func() error {
			result, err := s.svc.Cleanup(ctx, args.RetentionDays)
			if err != nil {
				toolErr = fmt.Errorf("cleanup failed: %w", err)
				return toolErr
			}

			out = cleanupOutput{
				EpisodesDeleted:   result.EpisodesDeleted,
				PatternsDeleted:   result.PatternsDeleted,
				LessonsDeprecated: result.LessonsDeprecated,
			}
			res = textResult("Cleanup: %d episodes deleted, %d patterns deleted, %d lessons deprecated",
				out.EpisodesDeleted, out.PatternsDeleted, out.LessonsDeprecated)
			return nil
		})
		return res, out, toolErr
	})
}

func textResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

func recallToOutput(result *episodic.RecallResult) recallOutput {
	out := recallOutput{
		Episodes:       make([]map[string]interface{}, 0, len(result.Episodes)),
		Count:          len(result.Episodes),
		AverageUtility: result.AverageUtility,
	}
	for _, e := range result.Episodes {
		out.Episodes = append(out.Episodes, episodeToMap(e))
	}
	for _, p := range result.Patterns {
		out.Patterns = append(out.Patterns, patternToMap(p))
	}
	return out
}

func episodeToMap(e *store.Episode) map[string]interface{} {
	m := map[string]interface{}{
		"id":             e.ID,
		"operation_type": e.OperationType,
		"outcome":        string(e.Outcome),
		"utility_score":  e.UtilityScore,
		"timestamp":      e.Timestamp.Format(time.RFC3339),
	}
	if e.ServerName != "" {
		m["server_name"] = e.ServerName
	}
	if len(e.Problem) > 0 {
		m["problem"] = map[string]interface{}(e.Problem)
	}
	if len(e.Solution) > 0 {
		m["solution"] = map[string]interface{}(e.Solution)
	}
	if e.Notes != "" {
		m["notes"] = e.Notes
	}
	return m
}

func patternToMap(p *store.Pattern) map[string]interface{} {
	return map[string]interface{}{
		"id":                    p.ID,
		"pattern_type":          p.PatternType,
		"description":           p.Description,
		"frequency":             p.Frequency,
		"discrimination_weight": p.DiscriminationWeight,
		"last_seen":             p.LastSeen.Format(time.RFC3339),
	}
}

func lessonToMap(view episodic.LessonView) map[string]interface{} {
	m := map[string]interface{}{
		"id":                 view.ID,
		"statement":          view.Statement,
		"current_confidence": view.CurrentConfidence,
		"times_applied":      view.TimesApplied,
		"contexts":           view.Contexts,
	}
	if view.PatternID != nil {
		m["pattern_id"] = *view.PatternID
	}
	return m
}
