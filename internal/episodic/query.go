package episodic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// RecallByType returns same-type episodes newest first, related patterns
// surfaced by description/type containment, and the average utility over the
// returned page (not the full matching set).
func (s *Service) RecallByType(ctx context.Context, operationType string, outcome store.Outcome, limit int) (*RecallResult, error) {
	if operationType == "" {
		return nil, ErrEmptyOperationType
	}
	if outcome != "" && !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	episodes, err := s.store.QueryEpisodes(ctx, store.EpisodeFilter{
		OperationType: operationType,
		Outcome:       outcome,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("recalling episodes: %w", err)
	}
	patterns, err := s.store.PatternsMatching(ctx, operationType, limit)
	if err != nil {
		return nil, fmt.Errorf("matching patterns: %w", err)
	}
	return &RecallResult{
		Episodes:       episodes,
		Patterns:       patterns,
		AverageUtility: pageUtility(episodes),
	}, nil
}

// RecallByOutcome returns episodes with the given outcome newest first,
// optionally narrowed by operation type.
func (s *Service) RecallByOutcome(ctx context.Context, outcome store.Outcome, operationType string, limit int) (*RecallResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	episodes, err := s.store.QueryEpisodes(ctx, store.EpisodeFilter{
		OperationType: operationType,
		Outcome:       outcome,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("recalling episodes: %w", err)
	}
	patterns, err := s.store.PatternsMatching(ctx, string(outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("matching patterns: %w", err)
	}
	return &RecallResult{
		Episodes:       episodes,
		Patterns:       patterns,
		AverageUtility: pageUtility(episodes),
	}, nil
}

// ActiveLessons returns all non-deprecated lessons whose decayed confidence
// meets the threshold, sorted descending by decayed confidence. Ties keep
// insertion order (stable sort over the id-ordered store result).
func (s *Service) ActiveLessons(ctx context.Context, minConfidence float64) ([]LessonView, error) {
	lessons, err := s.store.ActiveLessons(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active lessons: %w", err)
	}
	now := s.now()
	views := make([]LessonView, 0, len(lessons))
	for _, l := range lessons {
		confidence := CurrentConfidence(l.InitialConfidence, l.DecayConstant, l.LastValidated, now)
		if confidence >= minConfidence {
			views = append(views, LessonView{Lesson: l, CurrentConfidence: confidence})
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CurrentConfidence > views[j].CurrentConfidence
	})
	return views, nil
}

// Lessons filters active lessons by operation type and loose keyword overlap
// with the supplied context keys, and buckets the survivors by decayed
// confidence.
//
// The operation type matches by substring against the statement, the context
// tags, or the linked pattern's description; a pattern that no longer exists
// simply contributes nothing to the match.
func (s *Service) Lessons(ctx context.Context, contextKeys map[string]any, operationType string, minConfidence float64) (*LessonReport, error) {
	views, err := s.ActiveLessons(ctx, minConfidence)
	if err != nil {
		return nil, err
	}

	report := &LessonReport{Lessons: make([]LessonView, 0, len(views))}
	for _, view := range views {
		if operationType != "" && !s.lessonMatchesType(ctx, view.Lesson, operationType) {
			continue
		}
		if len(contextKeys) > 0 && !lessonMatchesContext(view.Lesson, contextKeys) {
			continue
		}
		report.Lessons = append(report.Lessons, view)
		switch {
		case view.CurrentConfidence >= bucketHighConfidence:
			report.Summary.High++
		case view.CurrentConfidence >= bucketMediumConfidence:
			report.Summary.Medium++
		default:
			report.Summary.Low++
		}
	}
	return report, nil
}

func (s *Service) lessonMatchesType(ctx context.Context, lesson *store.Lesson, operationType string) bool {
	needle := strings.ToLower(operationType)
	if strings.Contains(strings.ToLower(lesson.Statement), needle) {
		return true
	}
	for _, tag := range lesson.Contexts {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	if lesson.PatternID != nil {
		pattern, err := s.store.GetPattern(ctx, *lesson.PatternID)
		if err == nil && strings.Contains(strings.ToLower(pattern.Description), needle) {
			return true
		}
		if err != nil && !errors.Is(err, store.ErrRowNotFound) {
			s.logger.Debug("pattern lookup failed during lesson match")
		}
	}
	return false
}

// lessonMatchesContext reports loose keyword overlap: at least one supplied
// context key appears in the statement or a context tag.
func lessonMatchesContext(lesson *store.Lesson, contextKeys map[string]any) bool {
	statement := strings.ToLower(lesson.Statement)
	for key := range contextKeys {
		needle := strings.ToLower(key)
		if needle == "" {
			continue
		}
		if strings.Contains(statement, needle) {
			return true
		}
		for _, tag := range lesson.Contexts {
			if strings.Contains(strings.ToLower(tag), needle) {
				return true
			}
		}
	}
	return false
}

// ReadStats summarizes table sizes and score aggregates.
func (s *Service) ReadStats(ctx context.Context) (*store.Stats, error) {
	stats, err := s.store.ReadStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return stats, nil
}

func pageUtility(episodes []*store.Episode) float64 {
	if len(episodes) == 0 {
		return 0
	}
	var total float64
	for _, e := range episodes {
		total += e.UtilityScore
	}
	return total / float64(len(episodes))
}
