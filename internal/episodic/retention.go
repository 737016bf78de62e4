package episodic

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Cleanup runs the retention sweep: episodes older than the retention window
// are deleted, patterns unseen for twice the window are deleted, and stale
// low-use lessons are deprecated but never hard-deleted.
//
// The sweep holds no engine-level lock and is idempotent; re-running it
// after a partial completion finishes the remaining work and a second
// consecutive run changes nothing.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	now := s.now()
	episodeCutoff := now.AddDate(0, 0, -retentionDays)
	patternCutoff := now.AddDate(0, 0, -2*retentionDays)

	result := &CleanupResult{}
	var err error

	if result.EpisodesDeleted, err = s.store.DeleteEpisodesBefore(ctx, episodeCutoff); err != nil {
		return nil, fmt.Errorf("sweeping episodes: %w", err)
	}
	if result.PatternsDeleted, err = s.store.DeletePatternsLastSeenBefore(ctx, patternCutoff); err != nil {
		return nil, fmt.Errorf("sweeping patterns: %w", err)
	}

	lessons, err := s.store.ActiveLessons(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading lessons for sweep: %w", err)
	}
	for _, lesson := range lessons {
		if !lesson.LastValidated.Before(episodeCutoff) {
			continue
		}
		confidence := CurrentConfidence(lesson.InitialConfidence, lesson.DecayConstant, lesson.LastValidated, now)
		if lesson.TimesApplied != 0 && confidence >= staleLessonConfidence {
			continue
		}
		deprecatedAt := now
		lesson.DeprecatedAt = &deprecatedAt
		if err := s.store.UpdateLesson(ctx, lesson); err != nil {
			return nil, fmt.Errorf("deprecating stale lesson %d: %w", lesson.ID, err)
		}
		result.LessonsDeprecated++
	}

	s.logger.Info("retention sweep complete",
		zap.Int("retention_days", retentionDays),
		zap.Int64("episodes_deleted", result.EpisodesDeleted),
		zap.Int64("patterns_deleted", result.PatternsDeleted),
		zap.Int64("lessons_deprecated", result.LessonsDeprecated))

	return result, nil
}
