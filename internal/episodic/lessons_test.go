package episodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

func TestLearnFromPatternInsufficientEvidence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 2, "sync", store.OutcomeSuccess)

	_, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync succeeds on retry",
		EpisodeIDs:         ids,
		LessonStatement:    "retry sync once before failing",
	})
	assert.ErrorIs(t, err, ErrInsufficientEvidence)
}

func TestLearnFromPatternUnresolvedIDsDoNotCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 2, "sync", store.OutcomeSuccess)
	ids = append(ids, 9998, 9999)

	_, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync succeeds on retry",
		EpisodeIDs:         ids,
		LessonStatement:    "retry sync once before failing",
	})
	assert.ErrorIs(t, err, ErrInsufficientEvidence)
}

func TestLearnFromPatternCreatesLessonAndPattern(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 5, "sync", store.OutcomeSuccess)

	res, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "incremental sync avoids timeouts",
		EpisodeIDs:         ids,
		LessonStatement:    "use incremental sync for large repositories",
	})
	require.NoError(t, err)
	assert.Positive(t, res.LessonID)
	assert.Positive(t, res.PatternID)
	assert.GreaterOrEqual(t, res.InitialConfidence, 0.3)
	assert.LessOrEqual(t, res.InitialConfidence, 0.9)
	assert.Contains(t, res.Contexts, "operation:sync")

	lesson, err := svc.store.GetLesson(ctx, res.LessonID)
	require.NoError(t, err)
	require.NotNil(t, lesson.PatternID)
	assert.Equal(t, res.PatternID, *lesson.PatternID)

	pattern, err := svc.store.GetPattern(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "success", pattern.PatternType)
	assert.Equal(t, 5, pattern.Frequency)
}

func TestLearnFromPatternDerivesContexts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var ids []int64
	for _, server := range []string{"github", "github", "gitlab"} {
		res, err := svc.RecordExperience(ctx, &RecordRequest{
			OperationType: "fetch",
			Outcome:       store.OutcomeSuccess,
			ServerName:    server,
			Problem:       store.Payload{"Timeout": 30, "retries": 2},
			Metadata:      store.Payload{"environment": "staging"},
		})
		require.NoError(t, err)
		ids = append(ids, res.EpisodeID)
	}

	res, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "fetch is reliable across servers",
		EpisodeIDs:         ids,
		LessonStatement:    "fetch freely from either mirror",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"operation:fetch", "server:github", "server:gitlab", "env:staging",
		"problem:timeout", "problem:retries",
	}, res.Contexts)
}

func TestApplyLessonNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ApplyLesson(context.Background(), 424242, store.OutcomeSuccess)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyLessonSuccessRaisesConfidence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 4, "sync", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync works",
		EpisodeIDs:         ids,
		LessonStatement:    "sync confidently",
	})
	require.NoError(t, err)

	res, err := svc.ApplyLesson(ctx, learned.LessonID, store.OutcomeSuccess)
	require.NoError(t, err)
	assert.Greater(t, res.NewConfidence, res.PreviousConfidence,
		"a young lesson applied successfully gains confidence")
	assert.Equal(t, 1, res.TimesApplied)
	assert.Equal(t, 1.0, res.SuccessRate)
	assert.False(t, res.Deprecated)
}

func TestApplyLessonSuccessRateConvergesToOne(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 3, "sync", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync works",
		EpisodeIDs:         ids,
		LessonStatement:    "sync confidently",
	})
	require.NoError(t, err)

	var res *ApplyResult
	for i := 0; i < 20; i++ {
		res, err = svc.ApplyLesson(ctx, learned.LessonID, store.OutcomeSuccess)
		require.NoError(t, err)
	}
	assert.Equal(t, 20, res.TimesApplied)
	assert.InDelta(t, 1.0, res.SuccessRate, 1e-9)
	assert.Greater(t, res.NewConfidence, 0.8)
}

func TestApplyLessonPartialCountsHalf(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 3, "sync", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync works",
		EpisodeIDs:         ids,
		LessonStatement:    "sync carefully",
	})
	require.NoError(t, err)

	res, err := svc.ApplyLesson(ctx, learned.LessonID, store.OutcomePartial)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.SuccessRate, 1e-9)

	// The stored counter is rounded; 0.5 rounds up to 1.
	lesson, err := svc.store.GetLesson(ctx, learned.LessonID)
	require.NoError(t, err)
	assert.Equal(t, 1, lesson.TimesSucceeded)
	assert.Equal(t, 1, lesson.TimesApplied)
}

func TestRepeatedFailuresErodeConfidence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 5, "deploy", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "deploy is safe",
		EpisodeIDs:         ids,
		LessonStatement:    "deploy without review",
	})
	require.NoError(t, err)
	initial := learned.InitialConfidence

	var res *ApplyResult
	for i := 0; i < 5; i++ {
		res, err = svc.ApplyLesson(ctx, learned.LessonID, store.OutcomeFailure)
		require.NoError(t, err)
	}
	assert.Less(t, res.NewConfidence, initial)
	assert.Equal(t, 5, res.TimesApplied)
	assert.Zero(t, res.SuccessRate)
}

func TestRelentlessFailureTriggersAutoDeprecation(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	// Failure episodes zero the success-rate term, leaving a lesson that
	// starts near the low end of the confidence clamp.
	ids := recordN(t, svc, 3, "risky", store.OutcomeFailure)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "risky operation misbehaves",
		EpisodeIDs:         ids,
		LessonStatement:    "avoid the risky operation",
	})
	require.NoError(t, err)
	assert.Less(t, learned.InitialConfidence, 0.7)

	// Each failed application multiplies confidence by the prior weight.
	// Deprecation requires at least five applications AND the blended
	// confidence dropping under the threshold; from this starting point
	// that happens on the sixth consecutive failure.
	var res *ApplyResult
	for i := 0; i < 6; i++ {
		res, err = svc.ApplyLesson(ctx, learned.LessonID, store.OutcomeFailure)
		require.NoError(t, err)
		if i < 4 {
			assert.False(t, res.Deprecated, "needs five applications first")
		}
	}
	assert.True(t, res.Deprecated)
	assert.GreaterOrEqual(t, res.TimesApplied, 5)

	lesson, err := svc.store.GetLesson(ctx, learned.LessonID)
	require.NoError(t, err)
	require.NotNil(t, lesson.DeprecatedAt)
	assert.True(t, lesson.DeprecatedAt.Equal(*now))
}

func TestApplyLessonResetsDecayClock(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 3, "sync", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync works",
		EpisodeIDs:         ids,
		LessonStatement:    "sync confidently",
	})
	require.NoError(t, err)

	// Thirty days later the displayed confidence has decayed.
	*now = now.AddDate(0, 0, 30)
	res, err := svc.ApplyLesson(ctx, learned.LessonID, store.OutcomeSuccess)
	require.NoError(t, err)
	assert.Less(t, res.PreviousConfidence, learned.InitialConfidence)

	lesson, err := svc.store.GetLesson(ctx, learned.LessonID)
	require.NoError(t, err)
	assert.True(t, lesson.LastValidated.Equal(*now), "applying revalidates the lesson")
}

func TestApplyLessonCreditsPattern(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 3, "sync", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync works",
		EpisodeIDs:         ids,
		LessonStatement:    "sync confidently",
	})
	require.NoError(t, err)

	_, err = svc.ApplyLesson(ctx, learned.LessonID, store.OutcomeSuccess)
	require.NoError(t, err)
	_, err = svc.ApplyLesson(ctx, learned.LessonID, store.OutcomePartial)
	require.NoError(t, err)

	pattern, err := svc.store.GetPattern(ctx, learned.PatternID)
	require.NoError(t, err)
	assert.Equal(t, 2, pattern.TimesApplied)
	// Partial success does not credit the pattern.
	assert.Equal(t, 1, pattern.TimesSucceeded)
}

func TestDeprecateLessonIsMonotonic(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	ids := recordN(t, svc, 3, "sync", store.OutcomeSuccess)
	learned, err := svc.LearnFromPattern(ctx, &LearnRequest{
		PatternDescription: "sync works",
		EpisodeIDs:         ids,
		LessonStatement:    "sync confidently",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeprecateLesson(ctx, learned.LessonID))
	firstDeprecation := *now

	// A repeated deprecation must not move the timestamp.
	*now = now.Add(48 * time.Hour)
	require.NoError(t, svc.DeprecateLesson(ctx, learned.LessonID))

	lesson, err := svc.store.GetLesson(ctx, learned.LessonID)
	require.NoError(t, err)
	require.NotNil(t, lesson.DeprecatedAt)
	assert.True(t, lesson.DeprecatedAt.Equal(firstDeprecation))
}

func TestDeprecateLessonNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.DeprecateLesson(context.Background(), 31337)
	assert.ErrorIs(t, err, ErrNotFound)
}
