package episodic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

func TestRecallByType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	recordN(t, svc, 4, "tool_call", store.OutcomeSuccess)
	recordN(t, svc, 2, "tool_call", store.OutcomeFailure)
	recordN(t, svc, 3, "other_op", store.OutcomeSuccess)

	res, err := svc.RecallByType(ctx, "tool_call", "", 10)
	require.NoError(t, err)
	assert.Len(t, res.Episodes, 6)
	for _, e := range res.Episodes {
		assert.Equal(t, "tool_call", e.OperationType)
	}
	assert.NotEmpty(t, res.Patterns, "the success streak mined a pattern")
	assert.Positive(t, res.AverageUtility)

	// Outcome filter narrows the page.
	res, err = svc.RecallByType(ctx, "tool_call", store.OutcomeFailure, 10)
	require.NoError(t, err)
	assert.Len(t, res.Episodes, 2)
}

func TestRecallByTypeValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecallByType(ctx, "", "", 10)
	assert.ErrorIs(t, err, ErrEmptyOperationType)

	_, err = svc.RecallByType(ctx, "x", "weird", 10)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestRecallByTypeAverageUtilityIsPageLocal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	recordN(t, svc, 10, "tool_call", store.OutcomeSuccess)

	full, err := svc.RecallByType(ctx, "tool_call", "", 10)
	require.NoError(t, err)
	page, err := svc.RecallByType(ctx, "tool_call", "", 2)
	require.NoError(t, err)

	require.Len(t, page.Episodes, 2)
	var want float64
	for _, e := range page.Episodes {
		want += e.UtilityScore
	}
	want /= 2
	assert.InDelta(t, want, page.AverageUtility, 1e-9)
	// The page average reflects only the returned rows, not the full set.
	assert.NotEqual(t, full.AverageUtility, page.AverageUtility)
}

func TestRecallByOutcome(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	recordN(t, svc, 3, "alpha", store.OutcomeSuccess)
	recordN(t, svc, 2, "beta", store.OutcomeFailure)

	res, err := svc.RecallByOutcome(ctx, store.OutcomeFailure, "", 10)
	require.NoError(t, err)
	assert.Len(t, res.Episodes, 2)

	res, err = svc.RecallByOutcome(ctx, store.OutcomeSuccess, "alpha", 10)
	require.NoError(t, err)
	assert.Len(t, res.Episodes, 3)

	_, err = svc.RecallByOutcome(ctx, "nope", "", 10)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func learnTestLesson(t *testing.T, svc *Service, operationType, statement string) *LearnResult {
	t.Helper()
	ids := recordN(t, svc, 3, operationType, store.OutcomeSuccess)
	res, err := svc.LearnFromPattern(context.Background(), &LearnRequest{
		PatternDescription: operationType + " behaves predictably",
		EpisodeIDs:         ids,
		LessonStatement:    statement,
	})
	require.NoError(t, err)
	return res
}

func TestActiveLessonsExcludeDeprecated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	kept := learnTestLesson(t, svc, "sync", "sync with confidence")
	dropped := learnTestLesson(t, svc, "deploy", "deploy with confidence")

	require.NoError(t, svc.DeprecateLesson(ctx, dropped.LessonID))

	views, err := svc.ActiveLessons(ctx, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, kept.LessonID, views[0].ID)
}

func TestActiveLessonsSortedByDecayedConfidence(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	older := learnTestLesson(t, svc, "sync", "older lesson")

	// Thirty days of decay, then learn a fresh lesson of equal pedigree.
	*now = now.AddDate(0, 0, 30)
	fresh := learnTestLesson(t, svc, "fetch", "fresh lesson")

	views, err := svc.ActiveLessons(ctx, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, fresh.LessonID, views[0].ID, "undecayed lesson ranks first")
	assert.Equal(t, older.LessonID, views[1].ID)
	assert.Greater(t, views[0].CurrentConfidence, views[1].CurrentConfidence)
}

func TestActiveLessonsConfidenceThreshold(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	learnTestLesson(t, svc, "sync", "will decay away")

	// A year of decay pushes confidence toward zero.
	*now = now.AddDate(1, 0, 0)
	views, err := svc.ActiveLessons(ctx, 0.5)
	require.NoError(t, err)
	assert.Empty(t, views)

	views, err = svc.ActiveLessons(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestLessonsFilterByOperationType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	learnTestLesson(t, svc, "sync", "sync large repos incrementally")
	learnTestLesson(t, svc, "deploy", "deploy behind a canary")

	report, err := svc.Lessons(ctx, nil, "sync", 0)
	require.NoError(t, err)
	require.Len(t, report.Lessons, 1)
	assert.Contains(t, report.Lessons[0].Statement, "sync")
}

func TestLessonsMatchViaPatternDescription(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Statement and contexts deliberately avoid the operation type; only
	// the linked pattern's description mentions it.
	ids := recordN(t, svc, 3, "migrate", store.OutcomeSuccess)
	_, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "migrate completes cleanly",
		EpisodeIDs:         ids,
		LessonStatement:    "run schema changes off-peak",
	})
	require.NoError(t, err)

	report, err := svc.Lessons(ctx, nil, "completes cleanly", 0)
	require.NoError(t, err)
	assert.Len(t, report.Lessons, 1)
}

func TestLessonsContextKeywordOverlap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	learnTestLesson(t, svc, "sync", "sync large repos incrementally")
	learnTestLesson(t, svc, "deploy", "deploy behind a canary")

	report, err := svc.Lessons(ctx, map[string]any{"canary": true}, "", 0)
	require.NoError(t, err)
	require.Len(t, report.Lessons, 1)
	assert.Contains(t, report.Lessons[0].Statement, "canary")

	report, err = svc.Lessons(ctx, map[string]any{"unrelated": 1}, "", 0)
	require.NoError(t, err)
	assert.Empty(t, report.Lessons)
}

func TestLessonsSummaryBuckets(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	// High bucket: freshly learned from successes (confidence >= 0.7).
	learnTestLesson(t, svc, "sync", "high confidence lesson")

	// Low bucket: learned long ago and left to decay.
	past := *now
	*now = past.AddDate(0, 0, -60)
	learnTestLesson(t, svc, "deploy", "low confidence lesson")
	*now = past

	report, err := svc.Lessons(ctx, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, report.Lessons, 2)
	assert.Equal(t, 1, report.Summary.High)
	assert.Equal(t, 1, report.Summary.Low)
	assert.Zero(t, report.Summary.Medium)
}

func TestReadStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	recordN(t, svc, 3, "sync", store.OutcomeSuccess)
	recordN(t, svc, 1, "sync", store.OutcomeFailure)

	stats, err := svc.ReadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalEpisodes)
	assert.Equal(t, int64(3), stats.EpisodesByOutcome[store.OutcomeSuccess])
}
