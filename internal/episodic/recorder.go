package episodic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// RecordExperience validates and persists a new episode, computing its four
// derived scores at insert time, then runs pattern detection over the saved
// row so the new episode is itself eligible for pattern membership.
//
// Detection failure does not fail the record: the episode write is the
// primary operation and pattern mining is best-effort enrichment.
func (s *Service) RecordExperience(ctx context.Context, req *RecordRequest) (*RecordResult, error) {
	if req.OperationType == "" {
		return nil, ErrEmptyOperationType
	}
	if !req.Outcome.Valid() {
		return nil, ErrInvalidOutcome
	}

	now := s.now()
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	recent, err := s.store.RecentEpisodesByType(ctx, req.OperationType, noveltyLookback)
	if err != nil {
		return nil, fmt.Errorf("reading recent episodes: %w", err)
	}
	typeFrequency, err := s.store.CountEpisodesByType(ctx, req.OperationType, typeFrequencyLookback)
	if err != nil {
		return nil, fmt.Errorf("counting episodes by type: %w", err)
	}

	novelty := NoveltyScore(req.Problem, recent)
	effectiveness := EffectivenessScore(req.Outcome, req.QualityScore)
	generalizability := GeneralizabilityScore(req.Metadata, typeFrequency)
	utility := UtilityScore(novelty, effectiveness, generalizability)

	episode := &store.Episode{
		Timestamp:             timestamp,
		OperationType:         req.OperationType,
		ServerName:            req.ServerName,
		Problem:               req.Problem,
		Solution:              req.Solution,
		Metadata:              req.Metadata,
		Outcome:               req.Outcome,
		QualityScore:          req.QualityScore,
		DurationMS:            req.DurationMS,
		Notes:                 req.Notes,
		NoveltyScore:          novelty,
		EffectivenessScore:    effectiveness,
		GeneralizabilityScore: generalizability,
		UtilityScore:          utility,
	}

	id, err := s.store.InsertEpisode(ctx, episode)
	if err != nil {
		return nil, fmt.Errorf("persisting episode: %w", err)
	}

	result := &RecordResult{
		EpisodeID:             id,
		NoveltyScore:          novelty,
		EffectivenessScore:    effectiveness,
		GeneralizabilityScore: generalizability,
		UtilityScore:          utility,
	}

	pattern, created, err := s.detectPattern(ctx, episode)
	if err != nil {
		s.logger.Warn("pattern detection failed",
			zap.Int64("episode_id", id),
			zap.String("operation_type", req.OperationType),
			zap.Error(err))
	} else if pattern != nil {
		result.Patterns = append(result.Patterns, PatternChange{
			PatternID:   pattern.ID,
			Description: pattern.Description,
			Created:     created,
		})
	}

	s.logger.Debug("experience recorded",
		zap.Int64("episode_id", id),
		zap.String("operation_type", req.OperationType),
		zap.String("outcome", string(req.Outcome)),
		zap.Float64("utility", utility))

	return result, nil
}
