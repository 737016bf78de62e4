package episodic

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// detectPattern scans recent same-type episodes around a newly inserted
// episode and creates or refreshes the matching pattern. It returns
// (nil, false, nil) when the evidence is too thin: fewer than the minimum
// episode count, or a discrimination weight below the threshold.
func (s *Service) detectPattern(ctx context.Context, episode *store.Episode) (*store.Pattern, bool, error) {
	now := s.now()
	since := now.AddDate(0, 0, -recencyWindowDays)

	episodes, err := s.store.EpisodesByTypeSince(ctx, episode.OperationType, since, patternScanLimit)
	if err != nil {
		return nil, false, fmt.Errorf("scanning recent episodes: %w", err)
	}
	if len(episodes) < minPatternEpisodes {
		return nil, false, nil
	}

	n := len(episodes)
	successRate := episodeSuccessRate(episodes)
	frequencyWeight := math.Log(float64(n) + 1)
	recencyBonus := math.Exp(-DefaultDecayConstant * meanAgeDays(episodes, now))
	weight := successRate * frequencyWeight * recencyBonus

	if weight < minDiscriminationWeight {
		// Too weak to act on; an existing matching pattern is left alone.
		s.logger.Debug("discarding weak pattern candidate",
			zap.String("operation_type", episode.OperationType),
			zap.Float64("discrimination_weight", weight))
		return nil, false, nil
	}

	patternType := classifySuccessRate(successRate)
	description := fmt.Sprintf("%s: %d%% success rate over %d episodes",
		episode.OperationType, int(math.Round(successRate*100)), n)
	episodeIDs := make([]int64, 0, n)
	for _, e := range episodes {
		episodeIDs = append(episodeIDs, e.ID)
	}

	pattern, created, err := s.store.UpsertPatternByDescription(ctx, episode.OperationType,
		func(existing *store.Pattern) (*store.Pattern, error) {
			if existing == nil {
				return &store.Pattern{
					PatternType:          patternType,
					Description:          description,
					EpisodeIDs:           episodeIDs,
					Frequency:            n,
					LastSeen:             now,
					CreatedAt:            now,
					InitialConfidence:    math.Min(newPatternConfidenceMax, newPatternConfidenceOff+weight),
					DecayConstant:        DefaultDecayConstant,
					LastValidated:        now,
					DiscriminationWeight: weight,
				}, nil
			}
			refreshed := *existing
			refreshed.Frequency = n
			refreshed.DiscriminationWeight = weight
			refreshed.LastSeen = now
			refreshed.LastValidated = now
			refreshed.EpisodeIDs = episodeIDs
			// Exponential smoothing toward the new evidence, factor 0.5.
			refreshed.InitialConfidence = (existing.InitialConfidence + weight) / 2
			return &refreshed, nil
		})
	if err != nil {
		return nil, false, fmt.Errorf("upserting pattern: %w", err)
	}

	s.logger.Debug("pattern detected",
		zap.Int64("pattern_id", pattern.ID),
		zap.String("pattern_type", pattern.PatternType),
		zap.Bool("created", created),
		zap.Float64("discrimination_weight", weight))

	return pattern, created, nil
}

// classifySuccessRate maps a success rate to the pattern type: success above
// 0.6, failure below 0.4, correlation in between.
func classifySuccessRate(successRate float64) string {
	switch {
	case successRate > successRateHigh:
		return "success"
	case successRate < successRateLow:
		return "failure"
	default:
		return "correlation"
	}
}

// episodeSuccessRate is the share of fully successful episodes; partial
// outcomes do not count toward pattern success.
func episodeSuccessRate(episodes []*store.Episode) float64 {
	if len(episodes) == 0 {
		return 0
	}
	successes := 0
	for _, e := range episodes {
		if e.Outcome == store.OutcomeSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(episodes))
}

func meanAgeDays(episodes []*store.Episode, now time.Time) float64 {
	if len(episodes) == 0 {
		return 0
	}
	var total float64
	for _, e := range episodes {
		if now.After(e.Timestamp) {
			total += now.Sub(e.Timestamp).Hours() / 24
		}
	}
	return total / float64(len(episodes))
}

func meanUtility(episodes []*store.Episode) float64 {
	if len(episodes) == 0 {
		return 0
	}
	var total float64
	for _, e := range episodes {
		total += e.UtilityScore
	}
	return total / float64(len(episodes))
}
