package episodic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// LearnFromPattern distills a lesson from a pattern's evidence.
//
// Fails with ErrInsufficientEvidence when fewer than the minimum number of
// supplied episode ids resolve to existing episodes. The backing pattern is
// reused when one matches the description, otherwise created.
func (s *Service) LearnFromPattern(ctx context.Context, req *LearnRequest) (*LearnResult, error) {
	if req.LessonStatement == "" {
		return nil, ErrEmptyStatement
	}
	if req.PatternDescription == "" {
		return nil, fmt.Errorf("pattern description cannot be empty")
	}

	episodes, err := s.store.EpisodesByIDs(ctx, req.EpisodeIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving episodes: %w", err)
	}
	if len(episodes) < minPatternEpisodes {
		return nil, fmt.Errorf("%w: %d of %d episode ids resolve, need %d",
			ErrInsufficientEvidence, len(episodes), len(req.EpisodeIDs), minPatternEpisodes)
	}

	now := s.now()
	n := len(episodes)
	successRate := episodeSuccessRate(episodes)
	frequencyWeight := math.Log(float64(n) + 1)

	initialConfidence := clamp(minLessonConfidence, maxLessonConfidence,
		0.4+0.3*successRate+math.Min(0.3, 0.1*frequencyWeight)+0.2*meanUtility(episodes))

	episodeIDs := make([]int64, 0, n)
	for _, e := range episodes {
		episodeIDs = append(episodeIDs, e.ID)
	}

	pattern, created, err := s.store.UpsertPatternByDescription(ctx, req.PatternDescription,
		func(existing *store.Pattern) (*store.Pattern, error) {
			if existing == nil {
				return &store.Pattern{
					PatternType:          classifySuccessRate(successRate),
					Description:          req.PatternDescription,
					EpisodeIDs:           episodeIDs,
					Frequency:            n,
					LastSeen:             now,
					CreatedAt:            now,
					InitialConfidence:    math.Min(newPatternConfidenceMax, newPatternConfidenceOff+successRate*frequencyWeight),
					DecayConstant:        DefaultDecayConstant,
					LastValidated:        now,
					DiscriminationWeight: successRate * frequencyWeight,
				}, nil
			}
			refreshed := *existing
			refreshed.Frequency = n
			refreshed.EpisodeIDs = episodeIDs
			refreshed.LastSeen = now
			refreshed.LastValidated = now
			return &refreshed, nil
		})
	if err != nil {
		return nil, fmt.Errorf("upserting pattern: %w", err)
	}

	contexts := deriveContexts(episodes)
	patternID := pattern.ID
	lesson := &store.Lesson{
		Statement:         req.LessonStatement,
		PatternID:         &patternID,
		Contexts:          contexts,
		InitialConfidence: initialConfidence,
		DecayConstant:     DefaultDecayConstant,
		LastValidated:     now,
		CreatedAt:         now,
	}
	lessonID, err := s.store.InsertLesson(ctx, lesson)
	if err != nil {
		return nil, fmt.Errorf("persisting lesson: %w", err)
	}

	s.logger.Info("lesson learned",
		zap.Int64("lesson_id", lessonID),
		zap.Int64("pattern_id", patternID),
		zap.Bool("pattern_created", created),
		zap.Int("episodes", n),
		zap.Float64("initial_confidence", initialConfidence))

	return &LearnResult{
		LessonID:          lessonID,
		PatternID:         patternID,
		InitialConfidence: initialConfidence,
		Contexts:          contexts,
	}, nil
}

// ApplyLesson records one exercise of a lesson and blends the observed
// outcome into its confidence. The prior is weighted heavily while the
// lesson is young and fades logarithmically as applications accumulate;
// applying a lesson also resets its decay clock.
func (s *Service) ApplyLesson(ctx context.Context, lessonID int64, outcome store.Outcome) (*ApplyResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}

	lesson, err := s.store.GetLesson(ctx, lessonID)
	if errors.Is(err, store.ErrRowNotFound) {
		return nil, fmt.Errorf("lesson %d: %w", lessonID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading lesson: %w", err)
	}

	now := s.now()
	previousConfidence := CurrentConfidence(lesson.InitialConfidence, lesson.DecayConstant, lesson.LastValidated, now)

	applied := lesson.TimesApplied + 1
	succeeded := float64(lesson.TimesSucceeded)
	var evidenceConfidence float64
	switch outcome {
	case store.OutcomeSuccess:
		succeeded += 1
		evidenceConfidence = 1.0
	case store.OutcomePartial:
		succeeded += 0.5
		evidenceConfidence = 0.5
	case store.OutcomeFailure:
		evidenceConfidence = 0.0
	}

	// The update math uses the pre-rounding success count; only the stored
	// counter is rounded.
	successRate := succeeded / float64(applied)
	priorWeight := math.Max(minApplyPriorWeight, 1-math.Log(float64(applied)+1)/5)
	evidenceWeight := 1 - priorWeight
	blended := priorWeight*previousConfidence +
		evidenceWeight*(applySuccessRateWeight*successRate+applyEvidenceWeight*evidenceConfidence)
	newConfidence := clamp(applyConfidenceFloor, applyConfidenceCeil, blended)

	lesson.TimesApplied = applied
	lesson.TimesSucceeded = int(math.Round(succeeded))
	lesson.InitialConfidence = newConfidence
	lesson.LastValidated = now

	deprecated := false
	if blended < deprecationThreshold && applied >= deprecationMinApplied {
		lesson.DeprecatedAt = &now
		deprecated = true
	}

	if err := s.store.UpdateLesson(ctx, lesson); err != nil {
		return nil, fmt.Errorf("persisting lesson update: %w", err)
	}

	if lesson.PatternID != nil {
		s.creditPattern(ctx, *lesson.PatternID, outcome)
	}

	s.logger.Debug("lesson applied",
		zap.Int64("lesson_id", lessonID),
		zap.String("outcome", string(outcome)),
		zap.Float64("previous_confidence", previousConfidence),
		zap.Float64("new_confidence", newConfidence),
		zap.Bool("deprecated", deprecated))

	return &ApplyResult{
		LessonID:           lessonID,
		PreviousConfidence: previousConfidence,
		NewConfidence:      newConfidence,
		TimesApplied:       applied,
		SuccessRate:        successRate,
		Deprecated:         deprecated,
	}, nil
}

// creditPattern bumps the usage counters of the pattern behind an applied
// lesson. Only a full success credits the pattern. A vanished pattern is
// treated as "no related pattern" rather than failing the apply.
func (s *Service) creditPattern(ctx context.Context, patternID int64, outcome store.Outcome) {
	pattern, err := s.store.GetPattern(ctx, patternID)
	if err != nil {
		s.logger.Debug("pattern unavailable for usage credit",
			zap.Int64("pattern_id", patternID), zap.Error(err))
		return
	}
	pattern.TimesApplied++
	if outcome == store.OutcomeSuccess {
		pattern.TimesSucceeded++
	}
	if err := s.store.UpdatePattern(ctx, pattern); err != nil {
		s.logger.Warn("failed to credit pattern usage",
			zap.Int64("pattern_id", patternID), zap.Error(err))
	}
}

// DeprecateLesson permanently excludes a lesson from active queries. There
// is no un-deprecate operation.
func (s *Service) DeprecateLesson(ctx context.Context, lessonID int64) error {
	lesson, err := s.store.GetLesson(ctx, lessonID)
	if errors.Is(err, store.ErrRowNotFound) {
		return fmt.Errorf("lesson %d: %w", lessonID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("loading lesson: %w", err)
	}
	if lesson.Deprecated() {
		return nil
	}
	now := s.now()
	lesson.DeprecatedAt = &now
	if err := s.store.UpdateLesson(ctx, lesson); err != nil {
		return fmt.Errorf("persisting deprecation: %w", err)
	}
	s.logger.Info("lesson deprecated", zap.Int64("lesson_id", lessonID))
	return nil
}

// deriveContexts builds the de-duplicated context tag set for a lesson:
// operation:<type> per distinct operation type, server:<name> per distinct
// server, env:<value> per distinct metadata environment, and
// problem:<keyword> per distinct problem payload key.
func deriveContexts(episodes []*store.Episode) []string {
	seen := make(map[string]struct{})
	var contexts []string
	add := func(tag string) {
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			contexts = append(contexts, tag)
		}
	}
	for _, e := range episodes {
		if e.OperationType != "" {
			add("operation:" + e.OperationType)
		}
		if e.ServerName != "" {
			add("server:" + e.ServerName)
		}
		if env := e.Metadata.String("environment"); env != "" {
			add("env:" + env)
		}
		for _, kw := range e.Problem.Keywords() {
			add("problem:" + kw)
		}
	}
	sort.Strings(contexts)
	return contexts
}
